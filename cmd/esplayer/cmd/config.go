package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/esplayer/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing esplayer configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  esplayer config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, ./configs/config.yaml, /etc/esplayer/config.yaml)
  - Environment variables (ESPLAYER_PLAYER_APP_ID, ESPLAYER_SERVER_PORT, etc.)
  - Command-line flags (for some options)

Environment variables use the ESPLAYER_ prefix and underscores for nesting.
Example: sync.low_threshold -> ESPLAYER_SYNC_LOW_THRESHOLD`,
	RunE: runConfigDump,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the effective configuration",
	Long:  `Load the configuration from file, environment and flags, and report the first validation error.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configCheckCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Defaults()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# esplayer Configuration File")
	fmt.Fprintln(out, "# ============================")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# All values shown below are defaults.")
	fmt.Fprintln(out, "# Duration format: 100ms, 30s, 24h0m0s")
	fmt.Fprintln(out, "# Size format: 80KB, 1MB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   ESPLAYER_PLAYER_APP_ID, ESPLAYER_PLAYER_PTS_UNIT")
	fmt.Fprintln(out, "#   ESPLAYER_DATABASE_DRIVER, ESPLAYER_DATABASE_DSN")
	fmt.Fprintln(out, "#   ESPLAYER_LOGGING_LEVEL, ESPLAYER_LOGGING_FORMAT")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))

	return nil
}
