// Package output implements an output role: it waits for the upstream
// stage's handoff (the transcoder's socket if transcoding is needed,
// otherwise the input's muxed socket directly) and spawns the ffmpeg
// process that stream-copies the upstream mux under the configured program
// number and pushes it to the destination protocol. Grounded on udp_output_handler.py / hls_output_handler.py's
// "read from shmsrc, write to the network sink" shape.
package output

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

// HandoffWaitTimeout bounds how long an output role waits for its upstream
// stage's handoff before giving up construction.
const HandoffWaitTimeout = 2 * time.Minute

// HandoffPollInterval is how often an output role polls for the upstream
// handoff while waiting.
const HandoffPollInterval = 500 * time.Millisecond

// Role builds and supervises one output destination for a channel.
type Role struct {
	Channel        string
	Output         config.OutputSpec
	Mux            config.MuxSpec
	NeedsTranscode bool
	Index          int
	HandoffDir     string
	LogDir         string
	Stats          metrics.StatsClient
	Logger         *slog.Logger
	StopGraceful   time.Duration
	StopTerminate  time.Duration

	proc *procutil.Process
}

// Build waits for the relevant upstream handoff and spawns ffmpeg to mux
// and push the stream to the configured destination.
func (r *Role) Build(ctx context.Context) error {
	logger := r.logger()

	stage := "muxed"
	if r.NeedsTranscode {
		stage = "transcoded"
	}
	upstreamSocket := handoff.SocketPath(r.HandoffDir, r.Channel, stage)
	upstreamDesc := handoff.DescriptorPath(r.HandoffDir, r.Channel, stage)
	if _, err := handoff.Wait(ctx, upstreamSocket, upstreamDesc, HandoffPollInterval, HandoffWaitTimeout); err != nil {
		return fmt.Errorf("output role %s[%d]: waiting for %s handoff: %w", r.Channel, r.Index, stage, err)
	}

	logFile, err := r.openLogFile()
	if err != nil {
		return fmt.Errorf("output role %s[%d]: opening log file: %w", r.Channel, r.Index, err)
	}

	dest, err := destinationURI(r.Output)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("output role %s[%d]: %w", r.Channel, r.Index, err)
	}

	args := buildFFmpegArgs(r.Mux, upstreamSocket, r.Output.Kind, dest)
	proc, err := procutil.Spawn(ctx, "ffmpeg", args, logFile, logFile, nil)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("output role %s[%d]: spawning ffmpeg: %w", r.Channel, r.Index, err)
	}
	r.proc = proc

	r.recordStats(ctx, logger, dest)

	logger.InfoContext(ctx, "output role constructed",
		slog.Int("index", r.Index),
		slog.String("kind", string(r.Output.Kind)),
		slog.String("destination", dest),
	)
	return nil
}

// recordStats inserts one udp_output sample, the stat type stats_api.py's
// get_stat_types catalog uses for every output destination regardless of
// protocol.
func (r *Role) recordStats(ctx context.Context, logger *slog.Logger, dest string) {
	if r.Stats == nil {
		return
	}
	sample := metrics.Sample{"index": float64(r.Index)}
	if r.Mux.BitrateBps > 0 {
		sample["bitrate_bps"] = float64(r.Mux.BitrateBps)
	}
	if err := r.Stats.Insert(ctx, r.Channel, "udp_output", sample); err != nil {
		logger.WarnContext(ctx, "error recording output stats", slog.String("error", err.Error()), slog.String("destination", dest))
	}
}

// Teardown stops the ffmpeg process for this output.
func (r *Role) Teardown(ctx context.Context) {
	logger := r.logger()
	if r.proc == nil {
		return
	}
	grace, term := r.stopDurations()
	if forceKilled, err := r.proc.Stop(grace, term); err != nil {
		logger.WarnContext(ctx, "error stopping output process", slog.String("error", err.Error()))
	} else if forceKilled {
		logger.WarnContext(ctx, "output process required force kill")
	}
	r.proc = nil
}

// PID returns the output process's PID, or 0 if it is not currently built.
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
	name := fmt.Sprintf("%s_output_%d.log", r.Channel, r.Index)
	return os.OpenFile(filepath.Join(r.LogDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func destinationURI(out config.OutputSpec) (string, error) {
	if out.URI != "" {
		return out.URI, nil
	}
	if out.Host == "" || out.Port == 0 {
		return "", fmt.Errorf("output destination requires either uri or host+port")
	}

	switch out.Kind {
	case config.OutputDatagram:
		return fmt.Sprintf("udp://%s:%d", out.Host, out.Port), nil
	case config.OutputReliableStream:
		return fmt.Sprintf("srt://%s:%d", out.Host, out.Port), nil
	case config.OutputRIST:
		return fmt.Sprintf("rist://%s:%d", out.Host, out.Port), nil
	case config.OutputRTMP:
		return fmt.Sprintf("rtmp://%s:%d", out.Host, out.Port), nil
	case config.OutputTCP:
		return fmt.Sprintf("tcp://%s:%d", out.Host, out.Port), nil
	default:
		return fmt.Sprintf("udp://%s:%d", out.Host, out.Port), nil
	}
}

// buildFFmpegArgs constructs the ffmpeg invocation reading the upstream
// socket and pushing to dest without re-encoding. The configured program
// number is set as the MPEG-TS service id; the configured video/audio PIDs
// are not applied, so streams keep the PIDs ffmpeg's muxer assigns.
func buildFFmpegArgs(mux config.MuxSpec, upstreamSocket string, kind config.OutputKind, dest string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", fmt.Sprintf("unix:%s", upstreamSocket),
		"-c", "copy",
	}
	if mux.BitrateBps > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%d", mux.BitrateBps))
	}
	args = append(args, "-mpegts_service_id", fmt.Sprintf("%d", mux.ProgramNumber))
	args = append(args, "-f", "mpegts", dest)
	return args
}
