package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install ollama-lan as a systemd service",
	Long: "Download the application source, install it into the installation directory\n" +
		"with its own virtual environment and register, enable and start the service.\n" +
		"Running install again upgrades the application and applies changed settings.",
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	addInstallFlags(installCmd.Flags())
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd.Flags())
	if err != nil {
		return fmt.Errorf("ollama-lan install: %w", err)
	}
	logger := setupLogger(cmd.ErrOrStderr(), s.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	delegated, err := elevate(ctx, cmd, "install", logger)
	if delegated || err != nil {
		if err != nil {
			return fmt.Errorf("ollama-lan install: %w", err)
		}
		return nil
	}

	c, err := buildInstaller(s, true, logger)
	if err != nil {
		return fmt.Errorf("ollama-lan install: %w", err)
	}
	defer c.Close()

	res, err := c.installer.Install(ctx)
	if err != nil {
		return fmt.Errorf("ollama-lan install: %w", err)
	}

	cfg := c.installer.Config()
	w := cmd.OutOrStdout()
	switch {
	case !res.Registered:
		fmt.Fprintln(w, "systemd is not available; the service was not registered.")
		fmt.Fprintf(w, "Start it manually with:\n  %s\n", res.ManualCommand)
	case !res.Started:
		fmt.Fprintf(w, "Service %s enabled but not started.\n", cfg.UnitName())
	default:
		fmt.Fprintf(w, "Service %s is running on http://%s:%d\n", cfg.UnitName(), cfg.Service.Host, cfg.Service.Port)
	}
	fmt.Fprintln(w, "ollama-lan installed successfully")
	return nil
}
