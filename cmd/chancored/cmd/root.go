// Package cmd implements the CLI commands for chancored.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivermedia/chancore/internal/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "chancored",
	Short:   "Multi-channel live streaming control plane",
	Version: version.Short(),
	Long: `chancored is the control-plane daemon for a multi-channel live
streaming pipeline: it starts, stops, and restarts per-channel ffmpeg
pipelines, supervises their health with automatic failover between
configured inputs, and serves the aggregated run-state and metrics over
HTTP.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (when omitted, no file is read: defaults and environment only)")
}
