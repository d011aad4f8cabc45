package handoff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndRead(t *testing.T) {
	dir := t.TempDir()
	descPath := DescriptorPath(dir, "news-1", "muxed")

	desc := &Descriptor{
		Channel: "news-1",
		Video:   &StreamFormat{Codec: "h264", PID: "0x0100", ProgramNumber: 1},
		Audio:   &StreamFormat{Codec: "aac", PID: "0x0101", ProgramNumber: 1},
	}
	require.NoError(t, Publish(descPath, desc))

	got, err := Read(descPath)
	require.NoError(t, err)
	assert.Equal(t, "news-1", got.Channel)
	assert.Equal(t, "h264", got.Video.Codec)
	assert.False(t, got.PublishedAt.IsZero())
}

func TestWaitSucceedsOncePublished(t *testing.T) {
	dir := t.TempDir()
	socketPath := SocketPath(dir, "news-1", "muxed")
	descPath := DescriptorPath(dir, "news-1", "muxed")

	go func() {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, os.WriteFile(socketPath, []byte{}, 0o644))
		require.NoError(t, Publish(descPath, &Descriptor{Channel: "news-1"}))
	}()

	desc, err := Wait(context.Background(), socketPath, descPath, 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "news-1", desc.Channel)
}

func TestWaitTimesOut(t *testing.T) {
	dir := t.TempDir()
	_, err := Wait(context.Background(), filepath.Join(dir, "never"), filepath.Join(dir, "never-info"), 5*time.Millisecond, 30*time.Millisecond)
	assert.Error(t, err)
}

func TestRemoveToleratesMissing(t *testing.T) {
	dir := t.TempDir()
	err := Remove(filepath.Join(dir, "a"), filepath.Join(dir, "b"))
	assert.NoError(t, err)
}
