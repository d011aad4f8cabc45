// Package transcoder implements the transcoder role: it waits for the
// input role's muxed handoff, spawns the ffmpeg process that re-encodes
// the configured non-passthrough streams, and republishes a handoff
// descriptor for the output roles. Grounded on transcoder.py's role as the
// bridge between the input's shmsrc and the output's shmsink.
package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/handoff"
	"github.com/rivermedia/chancore/internal/procutil"
	"github.com/rivermedia/chancore/internal/statestore/metrics"
)

// HandoffWaitTimeout bounds how long the transcoder waits for the input
// role's handoff to appear before giving up construction.
const HandoffWaitTimeout = 2 * time.Minute

// HandoffPollInterval is how often the transcoder polls for the input
// handoff while waiting.
const HandoffPollInterval = 500 * time.Millisecond

// Role builds and supervises the transcoder stage for one channel.
type Role struct {
	Channel       string
	Spec          config.TranscodingSpec
	HandoffDir    string
	LogDir        string
	Stats         metrics.StatsClient
	Logger        *slog.Logger
	StopGraceful  time.Duration
	StopTerminate time.Duration

	proc *procutil.Process
}

// Build waits for the input role's muxed descriptor, then spawns ffmpeg to
// transcode the configured streams onto the channel's transcoded
// rendezvous socket.
func (r *Role) Build(ctx context.Context) error {
	logger := r.logger()

	upstreamSocket := handoff.SocketPath(r.HandoffDir, r.Channel, "muxed")
	upstreamDesc := handoff.DescriptorPath(r.HandoffDir, r.Channel, "muxed")
	upstream, err := handoff.Wait(ctx, upstreamSocket, upstreamDesc, HandoffPollInterval, HandoffWaitTimeout)
	if err != nil {
		return fmt.Errorf("transcoder role %s: waiting for input handoff: %w", r.Channel, err)
	}

	socketPath := handoff.SocketPath(r.HandoffDir, r.Channel, "transcoded")
	descPath := handoff.DescriptorPath(r.HandoffDir, r.Channel, "transcoded")
	if err := handoff.Remove(socketPath, descPath); err != nil {
		logger.WarnContext(ctx, "could not clear stale handoff files", slog.String("error", err.Error()))
	}

	logFile, err := r.openLogFile()
	if err != nil {
		return fmt.Errorf("transcoder role %s: opening log file: %w", r.Channel, err)
	}

	args := buildFFmpegArgs(r.Spec, upstreamSocket, socketPath)
	proc, err := procutil.Spawn(ctx, "ffmpeg", args, logFile, logFile, nil)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("transcoder role %s: spawning ffmpeg: %w", r.Channel, err)
	}
	r.proc = proc

	desc := &handoff.Descriptor{Channel: r.Channel, SocketPath: socketPath}
	desc.Video = descriptorForVideo(r.Spec, upstream)
	desc.Audio = descriptorForAudio(r.Spec, upstream)

	if err := handoff.Publish(descPath, desc); err != nil {
		return fmt.Errorf("transcoder role %s: publishing handoff descriptor: %w", r.Channel, err)
	}

	r.recordStats(ctx, logger)

	logger.InfoContext(ctx, "transcoder role constructed", slog.String("upstream_socket", upstreamSocket))
	return nil
}

// recordStats inserts video_encoder_input/video_encoder_output samples,
// the stat types stats_api.py's get_stat_types catalog uses for the
// transcode stage.
func (r *Role) recordStats(ctx context.Context, logger *slog.Logger) {
	if r.Stats == nil {
		return
	}
	passthrough := float64(0)
	if len(r.Spec.Video.Streams) == 0 || r.Spec.Video.Streams[0].Codec == "passthrough" {
		passthrough = 1
	}
	if err := r.Stats.Insert(ctx, r.Channel, "video_encoder_input", metrics.Sample{"passthrough": passthrough}); err != nil {
		logger.WarnContext(ctx, "error recording transcoder input stats", slog.String("error", err.Error()))
	}
	output := metrics.Sample{"passthrough": passthrough}
	if len(r.Spec.Video.Streams) > 0 && r.Spec.Video.Streams[0].BitrateBps > 0 {
		output["bitrate_bps"] = float64(r.Spec.Video.Streams[0].BitrateBps)
	}
	if err := r.Stats.Insert(ctx, r.Channel, "video_encoder_output", output); err != nil {
		logger.WarnContext(ctx, "error recording transcoder output stats", slog.String("error", err.Error()))
	}
}

// Teardown stops ffmpeg and clears this role's handoff files.
func (r *Role) Teardown(ctx context.Context) {
	logger := r.logger()
	if r.proc != nil {
		grace, term := r.stopDurations()
		if forceKilled, err := r.proc.Stop(grace, term); err != nil {
			logger.WarnContext(ctx, "error stopping transcoder process", slog.String("error", err.Error()))
		} else if forceKilled {
			logger.WarnContext(ctx, "transcoder process required force kill")
		}
		r.proc = nil
	}

	socketPath := handoff.SocketPath(r.HandoffDir, r.Channel, "transcoded")
	descPath := handoff.DescriptorPath(r.HandoffDir, r.Channel, "transcoded")
	if err := handoff.Remove(socketPath, descPath); err != nil {
		logger.WarnContext(ctx, "error removing handoff files", slog.String("error", err.Error()))
	}
}

// PID returns the transcoder process's PID, or 0 if it is not currently
// built.
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
	return os.OpenFile(filepath.Join(r.LogDir, r.Channel+"_transcoder.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func descriptorForVideo(spec config.TranscodingSpec, upstream *handoff.Descriptor) *handoff.StreamFormat {
	if len(spec.Video.Streams) == 0 || spec.Video.Streams[0].Codec == "passthrough" {
		return upstream.Video
	}
	return &handoff.StreamFormat{Codec: spec.Video.Streams[0].Codec}
}

func descriptorForAudio(spec config.TranscodingSpec, upstream *handoff.Descriptor) *handoff.StreamFormat {
	if spec.Audio.Codec == "" || spec.Audio.Codec == "passthrough" {
		return upstream.Audio
	}
	return &handoff.StreamFormat{Codec: spec.Audio.Codec}
}

// buildFFmpegArgs constructs the ffmpeg invocation reading from the
// upstream rendezvous socket and writing the transcoded output to this
// role's own socket. Passthrough streams are stream-copied; everything
// else is re-encoded per the configured codec/bitrate/resolution.
func buildFFmpegArgs(spec config.TranscodingSpec, upstreamSocket, outSocket string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", fmt.Sprintf("unix:%s", upstreamSocket),
	}

	if len(spec.Video.Streams) == 0 || spec.Video.Streams[0].Codec == "passthrough" {
		args = append(args, "-c:v", "copy")
	} else {
		vs := spec.Video.Streams[0]
		args = append(args, "-c:v", vs.Codec)
		if vs.BitrateBps > 0 {
			args = append(args, "-b:v", fmt.Sprintf("%d", vs.BitrateBps))
		}
		if vs.Width > 0 && vs.Height > 0 {
			args = append(args, "-s", fmt.Sprintf("%dx%d", vs.Width, vs.Height))
		}
		if spec.Video.Deinterlace {
			args = append(args, "-vf", "yadif")
		}
	}

	if spec.Audio.Codec == "" || spec.Audio.Codec == "passthrough" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", spec.Audio.Codec)
		if spec.Audio.BitrateBps > 0 {
			args = append(args, "-b:a", fmt.Sprintf("%d", spec.Audio.BitrateBps))
		}
	}

	args = append(args, "-f", "mpegts", fmt.Sprintf("unix:%s", outSocket))
	return args
}
