package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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
        uri: srt://source:9000
        priority: 100
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

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalogYAML), 0o644))

	cat, err := config.NewLoader().Load(catalogPath)
	require.NoError(t, err)

	return NewManager(cat, runstate.New(filepath.Join(dir, "running")), filepath.Join(dir, "handoff"), filepath.Join(dir, "logs"), 0, 0, 0, nil)
}

func TestManager_StartUnknownChannel(t *testing.T) {
	m := newTestManager(t)
	err := m.Start(context.Background(), "does-not-exist", 0)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestManager_StartInvalidSourceIndex(t *testing.T) {
	m := newTestManager(t)
	err := m.Start(context.Background(), "news-1", 5)
	require.Error(t, err)
	var idxErr *config.InvalidSourceIndexError
	assert.ErrorAs(t, err, &idxErr)
}

func TestManager_StopNotRunning(t *testing.T) {
	m := newTestManager(t)
	err := m.Stop(context.Background(), "news-1")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManager_StatusNotRunning(t *testing.T) {
	m := newTestManager(t)
	status, err := m.Status("news-1")
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestManager_StatusUnknownChannel(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Status("does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestManager_List(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, map[string]ChannelListEntry{
		"news-1": {
			InputType:      "reliable-stream",
			TranscoderType: "none",
			OutputTypes:    []string{"datagram"},
			Running:        false,
		},
	}, m.List())
}

func TestManager_StatusAllNotRunning(t *testing.T) {
	m := newTestManager(t)
	all := m.StatusAll()
	require.Contains(t, all, "news-1")
	assert.False(t, all["news-1"].Running)
}
