// Package obsmetrics holds the control plane's own Prometheus metrics —
// process-internal observability served at /metrics, distinct from the
// per-channel domain time series in internal/statestore/metrics. Grounded
// on xg2g's internal/api/metrics.go promauto usage.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RestartsTotal counts restarts the Health Supervisor has triggered,
	// labeled by channel and whether the failure was complete or partial.
	RestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chancore_restarts_total",
		Help: "Total channel restarts triggered by the health supervisor.",
	}, []string{"channel", "failure_kind"})

	// BackoffSeconds observes the computed backoff delay before each
	// restart attempt.
	BackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancore_restart_backoff_seconds",
		Help:    "Backoff delay applied before a restart attempt.",
		Buckets: prometheus.LinearBuckets(5, 2.5, 11), // 5s .. 30s, spans MinBackoff..MaxBackoff
	})

	// ChannelHealthy reports 1 for a channel currently passing its last
	// health check, 0 otherwise.
	ChannelHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chancore_channel_healthy",
		Help: "1 if the channel's last health check found every role alive, 0 otherwise.",
	}, []string{"channel"})

	// FailureCount mirrors the health supervisor's in-memory consecutive
	// failure counter per channel.
	FailureCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chancore_channel_failure_count",
		Help: "Consecutive failure count driving backoff for the channel.",
	}, []string{"channel"})
)
