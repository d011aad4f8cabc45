// Package app wires the control-plane's components into one set of
// services, constructed once by cmd/chancored's serve command and shared
// between the HTTP API and the Health Supervisor's background loop. This
// colocates the Lifecycle Manager and the Health Supervisor in a single
// process per SPEC_FULL.md's resolution of the Open Question on whether
// they should be separate daemons — so Restart is a direct method call,
// not an HTTP round-trip as in channel_manager.py/channel_monitor.py's
// original two-process split.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/health"
	"github.com/rivermedia/chancore/internal/lifecycle"
	"github.com/rivermedia/chancore/internal/metrics"
	"github.com/rivermedia/chancore/internal/observability"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
	storemetrics "github.com/rivermedia/chancore/internal/statestore/metrics"
)

// Services holds every long-lived component of the control-plane daemon.
type Services struct {
	Config   *config.Config
	Catalog  *config.Catalog
	RunState *runstate.Store
	Metrics  *storemetrics.Store
	Redis    *redis.Client

	Lifecycle  *lifecycle.Manager
	Supervisor *health.Supervisor
	Collector  *metrics.Collector

	Logger *slog.Logger
}

// New constructs every Services component from cfg, loading the channel
// catalog from cfg.ChannelFile and connecting to Redis using cfg.Redis.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := config.NewLoader().Load(cfg.ChannelFile)
	if err != nil {
		return nil, fmt.Errorf("app: loading channel catalog: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("app: connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}

	runState := runstate.New(cfg.Storage.StateDir)
	metricStore := storemetrics.New(rdb)

	lifecycleManager := lifecycle.NewManager(
		catalog,
		runState,
		cfg.Storage.HandoffDir,
		cfg.Storage.LogDir,
		cfg.Supervisor.HandoffWaitBound,
		cfg.Supervisor.StopGraceful,
		cfg.Supervisor.StopTerminate,
		observability.WithComponent(logger, "lifecycle"),
	)
	lifecycleManager.CatalogPath = cfg.ChannelFile
	lifecycleManager.RedisAddr = cfg.Redis.Addr
	if cfg.Supervisor.RoleBin != "" {
		lifecycleManager.RoleBin = cfg.Supervisor.RoleBin
	}

	supervisor := health.NewSupervisor(catalog, runState, lifecycleManager, observability.WithComponent(logger, "health"))
	supervisor.CheckInterval = cfg.Supervisor.CheckInterval
	supervisor.MinBackoff = cfg.Supervisor.MinBackoff
	supervisor.MaxBackoff = cfg.Supervisor.MaxBackoff
	supervisor.MaxFailureCount = cfg.Supervisor.MaxFailureCount
	supervisor.ProcessStartWait = cfg.Supervisor.ProcessStartWait
	supervisor.ReachabilitySweep = cfg.Supervisor.ReachabilitySweep

	collector := metrics.NewCollector(metricStore, catalog, runState, observability.WithComponent(logger, "metrics"))
	collector.Interval = cfg.Metrics.SampleRate

	return &Services{
		Config:     cfg,
		Catalog:    catalog,
		RunState:   runState,
		Metrics:    metricStore,
		Redis:      rdb,
		Lifecycle:  lifecycleManager,
		Supervisor: supervisor,
		Collector:  collector,
		Logger:     logger,
	}, nil
}

// Run starts the Health Supervisor and Metrics Collector background loops
// and blocks until ctx is canceled or either loop returns an error.
func (s *Services) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- s.Supervisor.Run(ctx)
	}()
	go func() {
		errCh <- s.Collector.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases Services' held resources.
func (s *Services) Close() error {
	return s.Redis.Close()
}
