// Package input implements the input role of a channel's pipeline: it
// analyzes the selected source, spawns the ffmpeg process that demuxes it
// onto the channel's muxed rendezvous socket, and publishes a handoff
// descriptor for the transcoder/output roles to consume. Grounded on
// input_handler.py's analyze_stream + shmsink pipeline construction.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/handoff"
	"github.com/rivermedia/chancore/internal/probe"
	"github.com/rivermedia/chancore/internal/procutil"
	"github.com/rivermedia/chancore/internal/statestore/metrics"
)

// Role builds and supervises the input stage for one channel/source. It
// implements core.RoleBuilder.
type Role struct {
	Channel       string
	Input         config.InputSpec
	HandoffDir    string
	LogDir        string
	Stats         metrics.StatsClient
	Logger        *slog.Logger
	StopGraceful  time.Duration
	StopTerminate time.Duration

	proc *procutil.Process
}

// Build probes the configured source, spawns the demux/remux process, and
// publishes the muxed handoff descriptor as soon as ffmpeg is spawned; it
// does not wait for ffmpeg to open the input.
func (r *Role) Build(ctx context.Context) error {
	logger := r.logger()

	result, err := probe.Probe(ctx, r.Input.URI)
	if err != nil {
		return fmt.Errorf("input role %s: probing %s: %w", r.Channel, r.Input.URI, err)
	}

	video, _ := result.VideoStream()
	audio, _ := result.AudioStream()
	programNumber := result.ProgramNumber()

	socketPath := handoff.SocketPath(r.HandoffDir, r.Channel, "muxed")
	descPath := handoff.DescriptorPath(r.HandoffDir, r.Channel, "muxed")
	if err := handoff.Remove(socketPath, descPath); err != nil {
		logger.WarnContext(ctx, "could not clear stale handoff files", slog.String("error", err.Error()))
	}

	logFile, err := r.openLogFile()
	if err != nil {
		return fmt.Errorf("input role %s: opening log file: %w", r.Channel, err)
	}

	args := buildFFmpegArgs(r.Input, socketPath)
	proc, err := procutil.Spawn(ctx, "ffmpeg", args, logFile, logFile, nil)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("input role %s: spawning ffmpeg: %w", r.Channel, err)
	}
	r.proc = proc

	desc := &handoff.Descriptor{
		Channel:    r.Channel,
		SocketPath: socketPath,
	}
	if video.CodecName != "" {
		desc.Video = &handoff.StreamFormat{
			Codec:         video.CodecName,
			PID:           config.FormatPID(video.Index),
			ProgramNumber: programNumber,
		}
	}
	if audio.CodecName != "" {
		desc.Audio = &handoff.StreamFormat{
			Codec:         audio.CodecName,
			PID:           config.FormatPID(audio.Index),
			ProgramNumber: programNumber,
		}
	}

	if err := handoff.Publish(descPath, desc); err != nil {
		return fmt.Errorf("input role %s: publishing handoff descriptor: %w", r.Channel, err)
	}

	r.recordStats(ctx, logger, programNumber, len(result.Streams))

	logger.InfoContext(ctx, "input role constructed",
		slog.String("uri", r.Input.URI),
		slog.String("video_codec", video.CodecName),
		slog.String("audio_codec", audio.CodecName),
	)
	return nil
}

// recordStats inserts one srt_input sample, the stat type stats_api.py's
// get_stat_types catalog uses for the demux/input stage.
func (r *Role) recordStats(ctx context.Context, logger *slog.Logger, programNumber, streamCount int) {
	if r.Stats == nil {
		return
	}
	sample := metrics.Sample{
		"program_number": float64(programNumber),
		"stream_count":   float64(streamCount),
	}
	if err := r.Stats.Insert(ctx, r.Channel, "srt_input", sample); err != nil {
		logger.WarnContext(ctx, "error recording input stats", slog.String("error", err.Error()))
	}
}

// Teardown stops the ffmpeg process and removes the handoff files so a
// downstream role doesn't attach to a stale socket.
func (r *Role) Teardown(ctx context.Context) {
	logger := r.logger()
	if r.proc != nil {
		grace, term := r.stopDurations()
		if forceKilled, err := r.proc.Stop(grace, term); err != nil {
			logger.WarnContext(ctx, "error stopping input process", slog.String("error", err.Error()))
		} else if forceKilled {
			logger.WarnContext(ctx, "input process required force kill")
		}
		r.proc = nil
	}

	socketPath := handoff.SocketPath(r.HandoffDir, r.Channel, "muxed")
	descPath := handoff.DescriptorPath(r.HandoffDir, r.Channel, "muxed")
	if err := handoff.Remove(socketPath, descPath); err != nil {
		logger.WarnContext(ctx, "error removing handoff files", slog.String("error", err.Error()))
	}
}

// PID returns the input process's PID, or 0 if it is not currently built.
func (r *Role) PID() int {
	if r.proc == nil {
		return 0
	}
	return r.proc.PID
}

func (r *Role) stopDurations() (time.Duration, time.Duration) {
	grace, term := r.StopGraceful, r.StopTerminate
	if grace <= 0 {
		grace = 10 * time.Second
	}
	if term <= 0 {
		term = 5 * time.Second
	}
	return grace, term
}

func (r *Role) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Role) openLogFile() (*os.File, error) {
	if r.LogDir == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(r.LogDir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(r.LogDir, r.Channel+"_input.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// buildFFmpegArgs constructs the ffmpeg invocation that reads the selected
// input and remuxes it onto the rendezvous unix socket, copying every
// stream without re-encoding — transcoding, if needed, happens downstream.
func buildFFmpegArgs(in config.InputSpec, socketPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", in.URI,
		"-c", "copy",
		"-f", "mpegts",
		fmt.Sprintf("unix:%s", socketPath),
	}
}
