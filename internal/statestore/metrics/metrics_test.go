package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestStore_InsertAndReadLive(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.SetTime(time.Unix(1_700_000_000, 0))

	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 4200, "rtt_ms": 12}))
	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 4300, "rtt_ms": 14}))

	samples, err := store.LiveSamples(ctx, "news-1", "srtinput")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, float64(4200), samples[0]["bitrate_kbps"])
}

func TestStore_LiveWindowTrim(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	mr.SetTime(base)
	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 1000}))

	mr.FastForward(LiveWindow + 10*time.Second)
	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 2000}))

	samples, err := store.LiveSamples(ctx, "news-1", "srtinput")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, float64(2000), samples[0]["bitrate_kbps"])
}

func TestStore_AggregationProducesHistoricPoint(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	mr.SetTime(base)
	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 1000}))
	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 3000}))

	mr.FastForward(AggregationPeriod)
	require.NoError(t, store.Insert(ctx, "news-1", "srtinput", Sample{"bitrate_kbps": 2000}))

	historic, err := store.HistoricSamples(ctx, "news-1", "srtinput")
	require.NoError(t, err)
	require.Len(t, historic, 1)
	assert.InDelta(t, 2000, historic[0]["bitrate_kbps"], 0.001)
}

func TestStore_AggregateSystemUsesLongerRetention(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.SetTime(time.Unix(1_700_000_000, 0))

	require.NoError(t, store.Insert(ctx, "system", "host", Sample{"cpu_percent": 55}))
	require.NoError(t, store.AggregateSystem(ctx, "host", time.Now().Unix()))

	historic, err := store.HistoricSamples(ctx, "system", "host")
	require.NoError(t, err)
	require.Len(t, historic, 1)
}
