package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/pipeline/roles/output"
)

var outputIndex int

var outputCmd = &cobra.Command{
	Use:   "output",
	Short: "Run an output role to completion",
	RunE:  runOutput,
}

func init() {
	outputCmd.Flags().IntVar(&outputIndex, "index", 0, "index into the channel's configured outputs")
	rootCmd.AddCommand(outputCmd)
}

func runOutput(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	catalog, err := config.NewLoader().Load(catalogFlag)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	spec, err := catalog.Channel(channelFlag)
	if err != nil {
		return fmt.Errorf("unknown channel %q: %w", channelFlag, err)
	}
	if outputIndex < 0 || outputIndex >= len(spec.Outputs) {
		return fmt.Errorf("output index %d out of range for channel %q (%d outputs configured)", outputIndex, channelFlag, len(spec.Outputs))
	}

	role := &output.Role{
		Channel:        channelFlag,
		Output:         spec.Outputs[outputIndex],
		Mux:            spec.Mux,
		NeedsTranscode: spec.NeedsTranscoder(),
		Index:          outputIndex,
		HandoffDir:     handoffDirFlag,
		LogDir:         logDirFlag,
		Stats:          statsClient(),
		Logger:         logger,
	}

	return runRole(role, logger)
}
