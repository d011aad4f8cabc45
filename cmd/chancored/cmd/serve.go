package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rivermedia/chancore/internal/app"
	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/httpapi"
	"github.com/rivermedia/chancore/internal/observability"
	"github.com/rivermedia/chancore/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control-plane daemon",
	Long: `Start chancored: the Channel Lifecycle Manager, the Health &
Failover Supervisor, the Metrics Collector, and the HTTP API, all
colocated in one process.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer svc.Close()

	serverConfig := httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := httpapi.NewServer(serverConfig, observability.WithComponent(logger, "httpapi"), version.Version)
	server.Mount(
		httpapi.NewLifecycleHandler(svc.Lifecycle, logger),
		httpapi.NewStatsHandler(svc.Metrics, cfg.Storage.HandoffDir, logger),
	)

	logger.Info("starting chancored",
		slog.String("version", version.Version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("daemon exited: %w", err)
	}
	return nil
}
