// Package metrics implements the host-wide Metrics Collector: a periodic
// sampler of CPU, memory, disk, and network counters, recorded into the
// Stats & State Store Protocol's "system" series alongside per-channel
// stats. Grounded on metrics_collector.py's collect_metrics/store_live_data
// loop, using gopsutil/v4 the way the teacher's StatsCollector does.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"github.com/rivermedia/chancore/internal/config"
	storemetrics "github.com/rivermedia/chancore/internal/statestore/metrics"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
)

// Collector periodically samples host resource usage and channel counts
// and records them into the metrics store under storemetrics.SystemChannel.
type Collector struct {
	Store    *storemetrics.Store
	Catalog  *config.Catalog
	RunState *runstate.Store
	Logger   *slog.Logger
	Interval time.Duration
	DiskPath string

	lastNet     net.IOCountersStat
	lastNetTime time.Time
	haveLastNet bool
}

// NewCollector constructs a Collector with the given dependencies. Interval
// defaults to 5 seconds and DiskPath to "/" when left zero.
func NewCollector(store *storemetrics.Store, catalog *config.Catalog, rs *runstate.Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		Store:    store,
		Catalog:  catalog,
		RunState: rs,
		Logger:   logger,
		Interval: 5 * time.Second,
		DiskPath: "/",
	}
}

// Run samples host metrics on Interval until ctx is canceled.
func (c *Collector) Run(ctx context.Context) error {
	interval := c.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *Collector) collectOnce(ctx context.Context) {
	if sample, err := c.cpuSample(ctx); err != nil {
		c.Logger.WarnContext(ctx, "cpu sample failed", slog.String("error", err.Error()))
	} else {
		c.insert(ctx, "cpu", sample)
	}

	if sample, err := c.memSample(ctx); err != nil {
		c.Logger.WarnContext(ctx, "memory sample failed", slog.String("error", err.Error()))
	} else {
		c.insert(ctx, "memory", sample)
	}

	if sample, err := c.diskSample(ctx); err != nil {
		c.Logger.WarnContext(ctx, "disk sample failed", slog.String("error", err.Error()))
	} else {
		c.insert(ctx, "hdd", sample)
	}

	if sample, err := c.networkSample(ctx); err != nil {
		c.Logger.WarnContext(ctx, "network sample failed", slog.String("error", err.Error()))
	} else if sample != nil {
		c.insert(ctx, "network", sample)
	}

	c.insert(ctx, "channels", c.channelCountSample())
}

func (c *Collector) insert(ctx context.Context, statType string, sample storemetrics.Sample) {
	if c.Store == nil {
		return
	}
	if err := c.Store.Insert(ctx, storemetrics.SystemChannel, statType, sample); err != nil {
		c.Logger.WarnContext(ctx, "failed recording host sample", slog.String("stat_type", statType), slog.String("error", err.Error()))
	}
}

func (c *Collector) cpuSample(ctx context.Context) (storemetrics.Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(percents) == 0 {
		return storemetrics.Sample{"percent": 0}, nil
	}
	return storemetrics.Sample{"percent": percents[0]}, nil
}

func (c *Collector) memSample(ctx context.Context) (storemetrics.Sample, error) {
	info, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return storemetrics.Sample{
		"percent": info.UsedPercent,
		"used":    float64(info.Used),
		"total":   float64(info.Total),
	}, nil
}

func (c *Collector) diskSample(ctx context.Context) (storemetrics.Sample, error) {
	path := c.DiskPath
	if path == "" {
		path = "/"
	}
	info, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, err
	}
	return storemetrics.Sample{
		"percent": info.UsedPercent,
		"used":    float64(info.Used),
		"total":   float64(info.Total),
	}, nil
}

// networkSample returns byte-rate counters computed since the previous
// sample, matching get_network_usage's delta-over-elapsed-time shape. It
// returns nil on the very first call, when there is no prior reading to
// diff against.
func (c *Collector) networkSample(ctx context.Context) (storemetrics.Sample, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(counters) == 0 {
		return nil, nil
	}
	current := counters[0]
	now := time.Now()

	if !c.haveLastNet {
		c.lastNet = current
		c.lastNetTime = now
		c.haveLastNet = true
		return nil, nil
	}

	elapsed := now.Sub(c.lastNetTime).Seconds()
	var sendRate, recvRate float64
	if elapsed > 0 {
		sendRate = float64(current.BytesSent-c.lastNet.BytesSent) / elapsed
		recvRate = float64(current.BytesRecv-c.lastNet.BytesRecv) / elapsed
	}

	sample := storemetrics.Sample{
		"bytes_sent": float64(current.BytesSent),
		"bytes_recv": float64(current.BytesRecv),
		"send_rate":  sendRate,
		"recv_rate":  recvRate,
	}

	c.lastNet = current
	c.lastNetTime = now
	return sample, nil
}

// channelCountSample reports configured vs. currently running channel
// counts, matching get_total_channel_count/get_running_channel_count.
func (c *Collector) channelCountSample() storemetrics.Sample {
	total := 0
	if c.Catalog != nil {
		total = len(c.Catalog.Channels())
	}

	running := 0
	if c.RunState != nil {
		if names, err := c.RunState.List(); err == nil {
			running = len(names)
		}
	}

	return storemetrics.Sample{
		"total":   float64(total),
		"running": float64(running),
	}
}
