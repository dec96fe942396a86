package packaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ollama-lan/ollama-lan/internal/fetch"
	"github.com/ollama-lan/ollama-lan/internal/fsutil"
)

var (
	// ErrNotRoot is returned when install or uninstall runs without root privileges.
	ErrNotRoot = errors.New("packaging: root privileges required")

	// ErrUnsupportedOS is returned on platforms other than Linux.
	ErrUnsupportedOS = errors.New("packaging: unsupported operating system")
)

// CheckPlatform returns ErrUnsupportedOS unless goos is linux.
func CheckPlatform(goos string) error {
	if goos != "linux" {
		return fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
	return nil
}

// Deps are the collaborators of an Installer. Procs and Upstream are optional.
type Deps struct {
	Systemd  SystemdController
	Root     RootChecker
	Fetcher  SourceFetcher
	Runner   CommandRunner
	Procs    ProcessKiller
	Upstream UpstreamProber
}

// InstallResult describes what Install left behind.
type InstallResult struct {
	// Registered is false when no service manager is available.
	Registered bool

	// UnitChanged is true when the unit file content differs from what was on disk.
	UnitChanged bool

	// Started is true when the service was (re)started.
	Started bool

	// ManualCommand starts the service by hand; set when Registered is false.
	ManualCommand string
}

// Installer installs and removes ollama-lan as a systemd service.
type Installer struct {
	cfg      InstallConfig
	systemd  SystemdController
	root     RootChecker
	fetcher  SourceFetcher
	runner   CommandRunner
	procs    ProcessKiller
	upstream UpstreamProber
	logger   *slog.Logger
}

// NewInstaller creates a new Installer with defaults applied.
func NewInstaller(cfg InstallConfig, deps Deps, logger *slog.Logger) *Installer {
	cfg.ApplyDefaults()
	return &Installer{
		cfg:      cfg,
		systemd:  deps.Systemd,
		root:     deps.Root,
		fetcher:  deps.Fetcher,
		runner:   deps.Runner,
		procs:    deps.Procs,
		upstream: deps.Upstream,
		logger:   logger.With("component", "packaging"),
	}
}

// Config returns the installer's configuration with defaults applied.
func (ins *Installer) Config() InstallConfig {
	return ins.cfg
}

// Install fetches the source, provisions the installation target and
// registers the service. Running it again converges on the same state.
func (ins *Installer) Install(ctx context.Context) (InstallResult, error) {
	var res InstallResult

	// 1. Check root
	if !ins.root.IsRoot() {
		return res, fmt.Errorf("%w: install", ErrNotRoot)
	}

	// 2. Validate configuration
	if err := ins.cfg.Validate(); err != nil {
		return res, err
	}
	params := UnitParamsFor(ins.cfg)
	if err := params.Validate(); err != nil {
		return res, err
	}

	// 3. Fetch and validate the source tree
	src, err := ins.fetcher.Fetch(ctx, fetch.Reference{RepoURL: ins.cfg.RepoURL, Ref: ins.cfg.Ref, SHA256: ins.cfg.SHA256})
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			ins.logger.Warn("remove fetch workspace", "error", cerr)
		}
	}()

	// 4. Provision
	if err := ins.provision(ctx, src); err != nil {
		return res, err
	}

	// 5. Register the service
	if !ins.systemd.IsAvailable() {
		res.ManualCommand = ManualCommand(ins.cfg)
		ins.logger.Warn("systemd is not available, service not registered", "launcher", ins.cfg.LauncherPath)
		return res, nil
	}
	if err := ins.register(ctx, params, &res); err != nil {
		return res, err
	}

	// 6. Probe upstream
	if res.Started && ins.upstream != nil {
		if err := ins.upstream.Probe(ctx); err != nil {
			ins.logger.Warn("model API not reachable", "url", ins.cfg.Service.OllamaBaseURL, "error", err)
		} else {
			ins.logger.Info("model API reachable", "url", ins.cfg.Service.OllamaBaseURL)
		}
	}
	return res, nil
}

func (ins *Installer) register(ctx context.Context, params UnitParams, res *InstallResult) error {
	uf, err := RenderUnit(params)
	if err != nil {
		return err
	}

	prev, err := os.ReadFile(ins.cfg.UnitFilePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: read unit file: %w", err)
	}
	res.UnitChanged = !bytes.Equal(prev, uf.Content)

	unitDir := filepath.Dir(ins.cfg.UnitFilePath)
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("packaging: create unit file directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(unitDir, filepath.Base(ins.cfg.UnitFilePath), uf.Content, 0o644); err != nil {
		return fmt.Errorf("packaging: write unit file: %w", err)
	}
	ins.logger.Info("unit file written", "path", ins.cfg.UnitFilePath, "changed", res.UnitChanged)

	if err := ins.systemd.DaemonReload(ctx); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}
	ins.logger.Info("systemd daemon reloaded")

	if err := ins.systemd.Enable(ctx, ins.cfg.ServiceName); err != nil {
		return fmt.Errorf("packaging: enable: %w", err)
	}
	ins.logger.Info("service enabled", "unit", ins.cfg.UnitName())
	res.Registered = true

	if ins.cfg.NoStart {
		ins.logger.Info("service start skipped", "unit", ins.cfg.UnitName())
		return nil
	}
	if err := ins.systemd.Restart(ctx, ins.cfg.ServiceName); err != nil {
		return fmt.Errorf("packaging: start: %w", err)
	}
	res.Started = true
	ins.logger.Info("service started", "unit", ins.cfg.UnitName(),
		"listen", fmt.Sprintf("%s:%d", ins.cfg.Service.Host, ins.cfg.Service.Port))
	return nil
}
