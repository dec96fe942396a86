package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama-lan/ollama-lan/internal/fetch"
	"github.com/ollama-lan/ollama-lan/internal/packaging"
	"github.com/ollama-lan/ollama-lan/internal/privilege"
	"github.com/ollama-lan/ollama-lan/internal/upstream"
)

// probeTimeout bounds upstream checks made by install and status.
const probeTimeout = 5 * time.Second

// elevate makes sure the command runs as root. When delegation is needed
// the binary re-executes itself under the elevation helper and delegated
// is true; the caller then returns err without doing anything else.
func elevate(ctx context.Context, cmd *cobra.Command, op string, logger *slog.Logger) (delegated bool, err error) {
	if err := packaging.CheckPlatform(runtime.GOOS); err != nil {
		return false, err
	}

	grant, err := privilege.Resolve(privilege.NewProbe())
	if err != nil {
		return false, err
	}
	if grant.Kind == privilege.GrantRoot {
		return false, nil
	}
	if privilege.Elevated(os.Getenv) {
		return false, grant.MustBeRoot(op)
	}

	logger.Info("re-running with elevated privileges", "helper", grant.Helper)
	stdio := privilege.Stdio{Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
	return true, privilege.Reexec(ctx, grant, os.Args[1:], stdio)
}

// newController returns the service manager backend named by name.
func newController(name string) (packaging.SystemdController, error) {
	switch name {
	case "", managerSystemctl:
		return packaging.NewSystemdController(), nil
	case managerDBus:
		return packaging.NewDBusController(), nil
	default:
		return nil, fmt.Errorf("unknown service manager %q (want %q or %q)", name, managerSystemctl, managerDBus)
	}
}

// resolveRuntimeIdentity fills in the runtime user and group of cfg.
func resolveRuntimeIdentity(cfg *packaging.InstallConfig) (privilege.Identity, error) {
	id, err := privilege.ResolveIdentity(privilege.NewUserLookup(), cfg.RuntimeUser, cfg.RuntimeGroup, os.Getenv)
	if err != nil {
		return privilege.Identity{}, err
	}
	cfg.RuntimeUser = id.User
	cfg.RuntimeGroup = id.Group
	cfg.RuntimeUID = id.UID
	cfg.RuntimeGID = id.GID
	return id, nil
}

// components are the collaborators built for one command run.
type components struct {
	installer *packaging.Installer
	upstream  *upstream.Client
}

func (c *components) Close() {
	if c.upstream != nil {
		c.upstream.Close()
	}
}

// buildInstaller wires an Installer for s. withFetch adds the downloader
// and the runtime-user command runner that only install needs.
func buildInstaller(s settings, withFetch bool, logger *slog.Logger) (*components, error) {
	cfg := s.installConfig()

	ctrl, err := newController(s.ServiceManager)
	if err != nil {
		return nil, err
	}

	probe := privilege.NewProbe()
	deps := packaging.Deps{
		Systemd: ctrl,
		Root:    probe,
		Procs:   packaging.NewProcessKiller(),
	}

	client := upstream.NewClient(cfg.Service.OllamaBaseURL, probeTimeout, logger)
	deps.Upstream = client

	if withFetch {
		downloader, err := fetch.SelectDownloader(s.FetchTool, exec.LookPath, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		deps.Fetcher = fetch.NewFetcher(fetch.Config{
			EntryPoint: cfg.EntryPoint,
			Manifest:   cfg.Manifest,
		}, downloader, logger)

		id, err := resolveRuntimeIdentity(&cfg)
		if err != nil {
			client.Close()
			return nil, err
		}
		deps.Runner = privilege.RunnerFor(probe.IsRoot(), id)
		logger.Info("runtime identity resolved", "user", id.User, "group", id.Group)
	} else {
		// Teardown and status never use the identity.
		if cfg.RuntimeUser == "" {
			cfg.RuntimeUser = "root"
		}
		if cfg.RuntimeGroup == "" {
			cfg.RuntimeGroup = "root"
		}
	}

	return &components{
		installer: packaging.NewInstaller(cfg, deps, logger),
		upstream:  client,
	}, nil
}
