package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
channels:
  news-1:
    inputs:
      - kind: reliable-stream
        uri: srt://primary:9000
        priority: 100
      - kind: reliable-stream
        uri: srt://backup:9000
        priority: 10
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

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalogYAML), 0o644))

	cat, err := config.NewLoader().Load(catalogPath)
	require.NoError(t, err)

	rs := runstate.New(filepath.Join(dir, "running"))
	return NewSupervisor(cat, rs, nil, nil)
}

func TestSupervisor_FindBestInputPicksHighestPriority(t *testing.T) {
	s := newTestSupervisor(t)
	assert.Equal(t, 0, s.findBestInput("news-1"))
}

func TestSupervisor_FindBestInputDefaultsOnUnknownChannel(t *testing.T) {
	s := newTestSupervisor(t)
	assert.Equal(t, 0, s.findBestInput("does-not-exist"))
}

func TestSupervisor_CalculateBackoffStaysWithinBounds(t *testing.T) {
	s := newTestSupervisor(t)
	s.MinBackoff = 5 * time.Second
	s.MaxBackoff = 30 * time.Second

	for failureCount := 0; failureCount < 8; failureCount++ {
		backoff := s.calculateBackoff(failureCount)
		assert.GreaterOrEqual(t, backoff, s.MinBackoff)
		assert.LessOrEqual(t, backoff, s.MaxBackoff)
	}
}

func TestSupervisor_CalculateBackoffGrowsWithFailureCount(t *testing.T) {
	s := newTestSupervisor(t)
	s.MinBackoff = 5 * time.Second
	s.MaxBackoff = 30 * time.Second

	// at failureCount=0 the scaled ceiling equals MinBackoff, so backoff is
	// pinned; by failureCount=3 the ceiling should have reached MaxBackoff.
	assert.Equal(t, s.MinBackoff, s.calculateBackoff(0))
	assert.Equal(t, s.MaxBackoff, s.scaledCeiling(3))
}

func (s *Supervisor) scaledCeiling(failureCount int) time.Duration {
	min := s.minBackoff()
	max := s.maxBackoff()
	scaled := min * time.Duration(1<<uint(failureCount))
	if scaled > max || scaled <= 0 {
		return max
	}
	return scaled
}

func TestSupervisor_BumpFailureCountResetsAtMax(t *testing.T) {
	s := newTestSupervisor(t)
	s.MaxFailureCount = 3

	assert.Equal(t, 1, s.bumpFailureCount("news-1"))
	assert.Equal(t, 2, s.bumpFailureCount("news-1"))
	assert.Equal(t, 0, s.bumpFailureCount("news-1"))
}

func TestSupervisor_NormalizeCronPadsFiveFieldExpressions(t *testing.T) {
	s := newTestSupervisor(t)
	assert.Equal(t, "0 */2 * * * *", s.normalizeCron("*/2 * * * *"))
	assert.Equal(t, "30 */2 * * * *", s.normalizeCron("30 */2 * * * *"))
}

func TestSupervisor_CheckChannelSkipsUnknownRunState(t *testing.T) {
	s := newTestSupervisor(t)
	// No run-state file exists for news-1; checkChannel must not panic and
	// must simply return without attempting a restart.
	s.checkChannel(context.Background(), "news-1")
}
