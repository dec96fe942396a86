package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the ollama-lan service and all installed files",
	Long: "Stop and disable the service, terminate leftover processes and remove the\n" +
		"unit file, the launcher and the installation directory. Safe to run on a\n" +
		"machine where ollama-lan is partially or not at all installed.",
	Args: cobra.NoArgs,
	RunE: runUninstall,
}

func init() {
	addTargetFlags(uninstallCmd.Flags())
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd.Flags())
	if err != nil {
		return fmt.Errorf("ollama-lan uninstall: %w", err)
	}
	logger := setupLogger(cmd.ErrOrStderr(), s.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	delegated, err := elevate(ctx, cmd, "uninstall", logger)
	if delegated || err != nil {
		if err != nil {
			return fmt.Errorf("ollama-lan uninstall: %w", err)
		}
		return nil
	}

	c, err := buildInstaller(s, false, logger)
	if err != nil {
		return fmt.Errorf("ollama-lan uninstall: %w", err)
	}
	defer c.Close()

	report, err := c.installer.Uninstall(ctx)
	if err != nil {
		return fmt.Errorf("ollama-lan uninstall: %w", err)
	}

	w := cmd.OutOrStdout()
	for _, step := range report.Warnings() {
		fmt.Fprintf(w, "warning: %s: %v\n", step.Step, step.Err)
	}
	fmt.Fprintln(w, "ollama-lan uninstalled")
	return nil
}
