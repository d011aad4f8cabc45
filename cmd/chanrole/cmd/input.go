package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/redis/go-redis/v9"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/pipeline/core"
	"github.com/rivermedia/chancore/internal/pipeline/roles/input"
	"github.com/rivermedia/chancore/internal/statestore/metrics"
)

var inputSourceIndex int

var inputCmd = &cobra.Command{
	Use:   "input",
	Short: "Run an input role to completion",
	RunE:  runInput,
}

func init() {
	inputCmd.Flags().IntVar(&inputSourceIndex, "source-index", 0, "index into the channel's configured inputs")
	rootCmd.AddCommand(inputCmd)
}

func runInput(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	catalog, err := config.NewLoader().Load(catalogFlag)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	spec, err := catalog.Channel(channelFlag)
	if err != nil {
		return fmt.Errorf("unknown channel %q: %w", channelFlag, err)
	}
	in, err := spec.InputAt(inputSourceIndex)
	if err != nil {
		return err
	}

	role := &input.Role{
		Channel:    channelFlag,
		Input:      *in,
		HandoffDir: handoffDirFlag,
		LogDir:     logDirFlag,
		Stats:      statsClient(),
		Logger:     logger,
	}

	return runRole(role, logger)
}

// statsClient returns a metrics.StatsClient backed by redisAddrFlag, or nil
// if stats recording was not configured for this standalone invocation.
func statsClient() metrics.StatsClient {
	if redisAddrFlag == "" {
		return nil
	}
	return metrics.New(redis.NewClient(&redis.Options{Addr: redisAddrFlag}))
}

// runRole drives builder through a core.Machine until a termination
// signal or the builder itself reaches a terminal state.
func runRole(builder core.RoleBuilder, logger *slog.Logger) error {
	machine := core.NewMachine(builder, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		machine.Stop()
	}()

	return machine.Run(ctx)
}
