// Package metrics implements the Redis-backed time-series tier of the
// Stats & State Store Protocol (spec.md §4.1): per-channel, per-stat-type
// sorted sets holding a rolling live window plus periodically aggregated
// historic samples. Grounded on stats_collector.py and metrics_collector.py.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// LiveWindow is how long a sample remains in the "live" sorted set
	// before being trimmed.
	LiveWindow = 300 * time.Second
	// HistoricRetention is the default retention of aggregated samples for
	// per-channel stat types.
	HistoricRetention = 3 * time.Hour
	// SystemRetention is the retention of aggregated samples for the
	// host-wide "system" stat type, which is kept longer per
	// metrics_collector.py.
	SystemRetention = 24 * time.Hour
	// AggregationPeriod is the wall-clock boundary on which live samples
	// are folded into one historic point.
	AggregationPeriod = 300 * time.Second
	// SystemChannel is the pseudo-channel name under which host-wide
	// metrics (cpu, memory, disk, network) are recorded, so they share the
	// same key scheme as per-channel stats but get SystemRetention instead
	// of HistoricRetention.
	SystemChannel = "system"
)

// Sample is one numeric observation recorded against a channel/stat-type
// time series, e.g. an SRT input's bitrate-kbps and rtt-ms pair.
type Sample map[string]float64

// StatsClient is the narrow interface pipeline roles depend on to record
// their per-stage samples (srt_input, video_encoder_input,
// video_encoder_output, udp_output — the stat-type catalog from
// stats_api.py's get_stat_types), so a RoleBuilder only needs one method of
// the Store, not a live Redis connection, to be unit-testable.
type StatsClient interface {
	Insert(ctx context.Context, channel, statType string, sample Sample) error
}

// Store is the Redis-backed sample store. Every role process and the
// Metrics Collector hold their own Store, all writing to the same Redis
// keyspace, per spec.md's "independent per-role processes each talk
// directly to the store".
type Store struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func liveKey(channel, statType string) string {
	return fmt.Sprintf("channel:%s:%s:live", channel, statType)
}

func historicKey(channel, statType string) string {
	return fmt.Sprintf("channel:%s:%s:historic", channel, statType)
}

// aggregationCursorKey tracks the last aggregation boundary per
// channel/stat-type, replacing the in-process last_aggregation_time field
// the Python collector kept per instance — the Go store is shared across
// many independent role processes, so the cursor must live in Redis too.
func aggregationCursorKey(channel, statType string) string {
	return fmt.Sprintf("channel:%s:%s:agg_cursor", channel, statType)
}

// Insert records sample under channel/statType at the current time, trims
// the live window, and triggers historic aggregation if the aggregation
// period has elapsed since the last trigger for this series.
func (s *Store) Insert(ctx context.Context, channel, statType string, sample Sample) error {
	now := time.Now()
	ts := now.Unix()

	encoded, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("metrics: encoding sample for %s/%s: %w", channel, statType, err)
	}

	key := liveKey(channel, statType)
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(ts), Member: string(encoded)}).Err(); err != nil {
		return fmt.Errorf("metrics: recording live sample for %s/%s: %w", channel, statType, err)
	}
	if err := s.rdb.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", ts-int64(LiveWindow.Seconds()))).Err(); err != nil {
		return fmt.Errorf("metrics: trimming live window for %s/%s: %w", channel, statType, err)
	}

	return s.maybeAggregate(ctx, channel, statType, ts)
}

// maybeAggregate folds live samples into one historic point once per
// AggregationPeriod, mirroring stats_collector.py's
// "timestamp - last_aggregation_time >= 300" check, made concurrency-safe
// across many writers via Redis as the source of truth for the cursor.
func (s *Store) maybeAggregate(ctx context.Context, channel, statType string, ts int64) error {
	cursorKey := aggregationCursorKey(channel, statType)
	last, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		// First sample of this series: the aggregation period starts here.
		if err := s.rdb.Set(ctx, cursorKey, ts, 0).Err(); err != nil {
			return fmt.Errorf("metrics: initializing aggregation cursor for %s/%s: %w", channel, statType, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("metrics: reading aggregation cursor for %s/%s: %w", channel, statType, err)
	}

	if ts-last < int64(AggregationPeriod.Seconds()) {
		return nil
	}

	if err := s.rdb.Set(ctx, cursorKey, ts, 0).Err(); err != nil {
		return fmt.Errorf("metrics: advancing aggregation cursor for %s/%s: %w", channel, statType, err)
	}

	retention := HistoricRetention
	if channel == SystemChannel {
		retention = SystemRetention
	}
	return s.aggregate(ctx, channel, statType, ts, retention)
}

func (s *Store) aggregate(ctx context.Context, channel, statType string, ts int64, retention time.Duration) error {
	start := fmt.Sprintf("%d", ts-int64(AggregationPeriod.Seconds()))
	end := fmt.Sprintf("%d", ts)

	liveSamples, err := s.rdb.ZRangeByScore(ctx, liveKey(channel, statType), &redis.ZRangeBy{Min: start, Max: end}).Result()
	if err != nil {
		return fmt.Errorf("metrics: reading live samples for %s/%s: %w", channel, statType, err)
	}
	if len(liveSamples) == 0 {
		return nil
	}

	avg, err := averageSamples(liveSamples)
	if err != nil {
		return fmt.Errorf("metrics: averaging samples for %s/%s: %w", channel, statType, err)
	}

	encoded, err := json.Marshal(avg)
	if err != nil {
		return fmt.Errorf("metrics: encoding aggregated sample for %s/%s: %w", channel, statType, err)
	}

	hKey := historicKey(channel, statType)
	if err := s.rdb.ZAdd(ctx, hKey, redis.Z{Score: float64(ts), Member: string(encoded)}).Err(); err != nil {
		return fmt.Errorf("metrics: storing historic sample for %s/%s: %w", channel, statType, err)
	}
	if err := s.rdb.ZRemRangeByScore(ctx, hKey, "0", fmt.Sprintf("%d", ts-int64(retention.Seconds()))).Err(); err != nil {
		return fmt.Errorf("metrics: trimming historic retention for %s/%s: %w", channel, statType, err)
	}
	return nil
}

// AggregateSystem folds the system-wide live series into historic points
// using SystemRetention rather than HistoricRetention, per
// metrics_collector.py's longer retention for host metrics.
func (s *Store) AggregateSystem(ctx context.Context, statType string, ts int64) error {
	return s.aggregate(ctx, SystemChannel, statType, ts, SystemRetention)
}

func averageSamples(encoded []string) (Sample, error) {
	totals := make(Sample)
	for _, raw := range encoded {
		var sample Sample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			return nil, err
		}
		for k, v := range sample {
			totals[k] += v
		}
	}
	count := float64(len(encoded))
	for k, v := range totals {
		totals[k] = v / count
	}
	return totals, nil
}

// LiveSamples returns the samples currently held in the live window for
// channel/statType, newest last.
func (s *Store) LiveSamples(ctx context.Context, channel, statType string) ([]Sample, error) {
	raw, err := s.rdb.ZRange(ctx, liveKey(channel, statType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("metrics: reading live samples for %s/%s: %w", channel, statType, err)
	}
	return decodeSamples(raw)
}

// HistoricSamples returns the aggregated samples for channel/statType,
// oldest first.
func (s *Store) HistoricSamples(ctx context.Context, channel, statType string) ([]Sample, error) {
	raw, err := s.rdb.ZRange(ctx, historicKey(channel, statType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("metrics: reading historic samples for %s/%s: %w", channel, statType, err)
	}
	return decodeSamples(raw)
}

func decodeSamples(raw []string) ([]Sample, error) {
	out := make([]Sample, 0, len(raw))
	for _, r := range raw {
		var sample Sample
		if err := json.Unmarshal([]byte(r), &sample); err != nil {
			return nil, fmt.Errorf("metrics: decoding sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, nil
}
