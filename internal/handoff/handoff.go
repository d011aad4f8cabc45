// Package handoff implements the rendezvous protocol by which one pipeline
// role publishes the stream descriptor a downstream role needs before it
// can attach: codec, PID, and probe metadata written to a JSON file, and a
// data-plane socket path the downstream role waits for. Grounded on
// input_handler.py's _store_codec_info (video/audio *_shm_info files) and
// its shared-memory socket cleanup list.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StreamFormat describes one elementary stream's codec parameters, as
// published by an input or transcoder role for the next role to consume.
type StreamFormat struct {
	Codec         string `json:"codec"`
	PID           string `json:"pid"` // canonical "0x####" form, see config.FormatPID
	ProgramNumber int    `json:"program_number"`
	Extended      any    `json:"extended,omitempty"` // raw ffprobe stream/program fragment, best-effort
}

// Descriptor is the handoff payload one role writes for the next to read.
// Video and Audio are independent so passthrough/transcoded combinations
// can mix freely, matching the spec's per-stream passthrough invariant.
type Descriptor struct {
	Channel   string        `json:"channel"`
	Video     *StreamFormat `json:"video,omitempty"`
	Audio     *StreamFormat `json:"audio,omitempty"`
	SocketPath string       `json:"socket_path"`
	PublishedAt time.Time   `json:"published_at"`
}

// Paths computes the well-known rendezvous paths for a channel's data-plane
// socket and its descriptor files, rooted at dir (the configured handoff
// directory), mirroring input_handler.py's "<channel>_muxed_shm",
// "<channel>_video_shm_info", "<channel>_audio_shm_info" naming.
type Paths struct {
	Socket     string
	Descriptor string
}

// SocketPath returns the data-plane rendezvous socket path for channel at
// the given handoff stage (e.g. "muxed", "transcoded").
func SocketPath(dir, channel, stage string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_shm", channel, stage))
}

// DescriptorPath returns the JSON descriptor path for channel at the given
// handoff stage.
func DescriptorPath(dir, channel, stage string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_info", channel, stage))
}

// Publish writes desc to descriptorPath atomically (temp file + rename), so
// a concurrently polling downstream role never observes a half-written
// file.
func Publish(descriptorPath string, desc *Descriptor) error {
	desc.PublishedAt = time.Now()

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("handoff: encoding descriptor: %w", err)
	}

	dir := filepath.Dir(descriptorPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("handoff: creating handoff dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-descriptor-*")
	if err != nil {
		return fmt.Errorf("handoff: creating temp descriptor: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("handoff: writing temp descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("handoff: closing temp descriptor: %w", err)
	}
	if err := os.Rename(tmpName, descriptorPath); err != nil {
		return fmt.Errorf("handoff: committing descriptor: %w", err)
	}
	return nil
}

// Read loads a previously published descriptor.
func Read(descriptorPath string) (*Descriptor, error) {
	data, err := os.ReadFile(descriptorPath)
	if err != nil {
		return nil, fmt.Errorf("handoff: reading descriptor: %w", err)
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("handoff: parsing descriptor: %w", err)
	}
	return &desc, nil
}

// Remove deletes the socket and descriptor paths for a handoff stage,
// tolerating their absence. Mirrors input_handler.py's
// _cleanup_shared_memory list of unlink calls.
func Remove(socketPath, descriptorPath string) error {
	for _, p := range []string{socketPath, descriptorPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("handoff: removing %s: %w", p, err)
		}
	}
	return nil
}

// Wait polls descriptorPath and socketPath until both appear, ctx is
// canceled, or timeout elapses, returning the published descriptor. This is
// how a downstream role (transcoder, output) blocks on an upstream role's
// readiness without a direct IPC channel between them, per spec.md §4.5's
// CONSTRUCTING state description.
func Wait(ctx context.Context, socketPath, descriptorPath string, pollEvery, timeout time.Duration) (*Descriptor, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		if desc, err := tryRead(socketPath, descriptorPath); err == nil {
			return desc, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("handoff: timed out waiting for %s after %s", descriptorPath, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func tryRead(socketPath, descriptorPath string) (*Descriptor, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, err
	}
	return Read(descriptorPath)
}
