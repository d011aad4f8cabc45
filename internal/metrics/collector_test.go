package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermedia/chancore/internal/config"
	storemetrics "github.com/rivermedia/chancore/internal/statestore/metrics"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
)

const testCatalogYAML = `
channels:
  news-1:
    inputs:
      - kind: reliable-stream
        uri: srt://source:9000
    transcoding:
      video:
        streams:
          - codec: passthrough
      audio:
        codec: passthrough
    mux:
      program-number: 1
      video-pids: ["0x100"]
      audio-pid: "0x101"
    outputs:
      - kind: datagram
        host: 239.1.1.1
        port: 5000
`

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storemetrics.New(rdb)

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalogYAML), 0o644))
	cat, err := config.NewLoader().Load(catalogPath)
	require.NoError(t, err)

	rs := runstate.New(filepath.Join(dir, "running"))
	return NewCollector(store, cat, rs, nil)
}

func TestCollector_ChannelCountSampleReportsTotalAndRunning(t *testing.T) {
	c := newTestCollector(t)
	sample := c.channelCountSample()
	assert.Equal(t, float64(1), sample["total"])
	assert.Equal(t, float64(0), sample["running"])

	require.NoError(t, c.RunState.Write(&runstate.ChannelRunState{Channel: "news-1", InputPID: 123}))
	sample = c.channelCountSample()
	assert.Equal(t, float64(1), sample["running"])
}

func TestCollector_NetworkSampleNilOnFirstCall(t *testing.T) {
	c := newTestCollector(t)
	sample, err := c.networkSample(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sample)
	assert.True(t, c.haveLastNet)
}

func TestCollector_CollectOnceRecordsSystemSamples(t *testing.T) {
	c := newTestCollector(t)
	c.collectOnce(context.Background())

	samples, err := c.Store.LiveSamples(context.Background(), storemetrics.SystemChannel, "cpu")
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	samples, err = c.Store.LiveSamples(context.Background(), storemetrics.SystemChannel, "channels")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, float64(1), samples[0]["total"])
}
