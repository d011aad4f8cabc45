package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/rivermedia/chancore/internal/config"
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

func TestNew_WiresAllComponents(t *testing.T) {
	mr := miniredis.RunT(t)

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "channels.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(testCatalogYAML), 0o644))

	cfg := &config.Config{}
	cfg.ChannelFile = catalogPath
	cfg.Storage.StateDir = filepath.Join(dir, "running")
	cfg.Storage.HandoffDir = filepath.Join(dir, "handoff")
	cfg.Storage.LogDir = filepath.Join(dir, "logs")
	cfg.Redis.Addr = mr.Addr()

	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer svc.Close()

	require.NotNil(t, svc.Lifecycle)
	require.NotNil(t, svc.Supervisor)
	require.NotNil(t, svc.Collector)
	require.Equal(t, []string{"news-1"}, svc.Catalog.Channels())
}
