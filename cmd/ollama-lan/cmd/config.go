package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ollama-lan/ollama-lan/internal/packaging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: "Print the configuration install would use after applying defaults, the config\n" +
		"file, OLLAMA_LAN_* environment variables and flags.",
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	addInstallFlags(configCmd.Flags())
	rootCmd.AddCommand(configCmd)
}

// resolvedConfig is the YAML view printed by the config command.
type resolvedConfig struct {
	packaging.InstallConfig `yaml:",inline"`

	FetchTool      string `yaml:"fetch_tool"`
	ServiceManager string `yaml:"service_manager"`
	LogLevel       string `yaml:"log_level"`
}

func runConfig(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd.Flags())
	if err != nil {
		return fmt.Errorf("ollama-lan config: %w", err)
	}

	cfg := s.installConfig()
	if _, err := resolveRuntimeIdentity(&cfg); err != nil {
		logger := setupLogger(cmd.ErrOrStderr(), s.LogLevel)
		logger.Warn("runtime identity not resolved", "error", err)
	}

	out, err := yaml.Marshal(resolvedConfig{
		InstallConfig:  cfg,
		FetchTool:      s.FetchTool,
		ServiceManager: s.ServiceManager,
		LogLevel:       s.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("ollama-lan config: encode: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
