package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ollama-lan/ollama-lan/internal/packaging"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installation and service status",
	Long:  "Inspect the installation directory, the unit file and the service state and\ncheck whether the model API answers.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	addTargetFlags(statusCmd.Flags())
	statusCmd.Flags().String(flagOllamaBaseURL, packaging.DefaultOllamaBaseURL, "model API base URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd.Flags())
	if err != nil {
		return fmt.Errorf("ollama-lan status: %w", err)
	}
	logger := setupLogger(cmd.ErrOrStderr(), s.LogLevel)

	c, err := buildInstaller(s, false, logger)
	if err != nil {
		return fmt.Errorf("ollama-lan status: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	st := c.installer.Status(ctx)
	cfg := c.installer.Config()
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Install directory: %s (%s)\n", cfg.InstallDir, present(st.InstallDir))
	fmt.Fprintf(w, "Entry point:       %s\n", present(st.EntryPoint))
	fmt.Fprintf(w, "Virtual env:       %s\n", present(st.VirtualEnv))
	fmt.Fprintf(w, "Launcher:          %s (%s)\n", cfg.LauncherPath, present(st.Launcher))
	fmt.Fprintf(w, "Unit file:         %s (%s)\n", cfg.UnitFilePath, present(st.UnitFile))
	if st.ServiceManager {
		fmt.Fprintf(w, "Service:           %s, %s\n", yesNo(st.Enabled, "enabled", "disabled"), yesNo(st.Active, "active", "inactive"))
	} else {
		fmt.Fprintln(w, "Service:           systemd not available")
	}

	printUpstream(ctx, w, c)
	return nil
}

func printUpstream(ctx context.Context, w io.Writer, c *components) {
	models, err := c.upstream.ListModels(ctx)
	if err != nil {
		fmt.Fprintf(w, "Model API:         %s (unreachable: %v)\n", c.upstream.BaseURL(), err)
		return
	}
	fmt.Fprintf(w, "Model API:         %s (%d models)\n", c.upstream.BaseURL(), len(models))
	for _, m := range models {
		fmt.Fprintf(w, "  %s\n", m.Name)
	}
}

func present(ok bool) string {
	return yesNo(ok, "present", "missing")
}

func yesNo(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
