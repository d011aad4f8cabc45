package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rivermedia/chancore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default daemon configuration in YAML format.

Configuration can be set via:
  - Config file (--config; no file is read when it is omitted)
  - Environment variables (CHANCORE_SERVER_PORT, CHANCORE_REDIS_ADDR, etc.)

Environment variables use the CHANCORE_ prefix with underscores for nesting.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# chancored configuration file")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println()
	fmt.Print(string(yamlData))
	return nil
}
