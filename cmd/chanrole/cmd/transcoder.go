package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/pipeline/roles/transcoder"
)

var transcoderCmd = &cobra.Command{
	Use:   "transcoder",
	Short: "Run the transcoder role to completion",
	RunE:  runTranscoder,
}

func init() {
	rootCmd.AddCommand(transcoderCmd)
}

func runTranscoder(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	catalog, err := config.NewLoader().Load(catalogFlag)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	spec, err := catalog.Channel(channelFlag)
	if err != nil {
		return fmt.Errorf("unknown channel %q: %w", channelFlag, err)
	}

	role := &transcoder.Role{
		Channel:    channelFlag,
		Spec:       spec.Transcoding,
		HandoffDir: handoffDirFlag,
		LogDir:     logDirFlag,
		Stats:      statsClient(),
		Logger:     logger,
	}

	return runRole(role, logger)
}
