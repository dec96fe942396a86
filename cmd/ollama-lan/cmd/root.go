// Package cmd implements the ollama-lan CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("ollama-lan version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "ollama-lan",
	Short: "ollama-lan installs the LAN chat UI as a system service",
	Long: "ollama-lan installs, inspects and removes the ollama-lan chat UI on this machine.\n" +
		"It downloads the application source, provisions a Python virtual environment\n" +
		"owned by the runtime user and registers a systemd service that serves the UI.",
	SilenceUsage: true,
	// No Run function; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().String(flagConfig, "", "YAML config file")
	rootCmd.PersistentFlags().String(flagLogLevel, defaultLogLevel, "log level (debug, info, warn, error)")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("ollama-lan version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
