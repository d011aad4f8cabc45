// Package cmd implements the CLI commands for chanrole.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivermedia/chancore/internal/version"
)

var (
	channelFlag    string
	catalogFlag    string
	handoffDirFlag string
	logDirFlag     string
	redisAddrFlag  string
)

var rootCmd = &cobra.Command{
	Use:     "chanrole",
	Short:   "Run a single pipeline role (input, transcoder, or output) to completion",
	Version: version.Short(),
}

// Execute runs the chanrole CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&channelFlag, "channel", "", "channel name (required)")
	rootCmd.PersistentFlags().StringVar(&catalogFlag, "catalog", "/etc/chancore/channels.yaml", "channel catalog path")
	rootCmd.PersistentFlags().StringVar(&handoffDirFlag, "handoff-dir", "/tmp/chancore", "rendezvous handoff directory")
	rootCmd.PersistentFlags().StringVar(&logDirFlag, "log-dir", "/var/log/chancore", "per-role ffmpeg log directory")
	rootCmd.PersistentFlags().StringVar(&redisAddrFlag, "redis-addr", "", "redis address for stats recording (disabled if empty)")
	_ = rootCmd.MarkPersistentFlagRequired("channel")
}
