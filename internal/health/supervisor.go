// Package health implements the Health & Failover Supervisor (spec.md
// §4.2): a periodic loop that reads every running channel's run-state,
// classifies failures as complete or partial, and drives recovery through
// the Lifecycle Manager with exponential backoff. Grounded on
// channel_monitor.py's monitor loop and _handle_channel_failure.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/lifecycle"
	"github.com/rivermedia/chancore/internal/obsmetrics"
	"github.com/rivermedia/chancore/internal/probe"
	"github.com/rivermedia/chancore/internal/procutil"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
)

// Supervisor is the Health & Failover Supervisor.
type Supervisor struct {
	Catalog   *config.Catalog
	RunState  *runstate.Store
	Lifecycle *lifecycle.Manager
	Logger    *slog.Logger

	CheckInterval     time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	MaxFailureCount   int
	ProcessStartWait  time.Duration
	ReachabilitySweep string // cron expression, 5 fields or 6 fields (seconds first)

	mu            sync.Mutex
	failureCounts map[string]int

	cronRunner *cron.Cron
}

// NewSupervisor constructs a Supervisor with the given tunables.
func NewSupervisor(catalog *config.Catalog, rs *runstate.Store, lm *lifecycle.Manager, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Catalog:          catalog,
		RunState:         rs,
		Lifecycle:        lm,
		Logger:           logger,
		CheckInterval:    5 * time.Second,
		MinBackoff:       5 * time.Second,
		MaxBackoff:       30 * time.Second,
		MaxFailureCount:  5,
		ProcessStartWait: 10 * time.Second,
		failureCounts:    make(map[string]int),
	}
}

// Run drives the supervisor's check loop until ctx is canceled. It also
// starts the cron-scheduled reachability sweep if ReachabilitySweep is set.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.ReachabilitySweep != "" {
		s.cronRunner = cron.New(cron.WithSeconds())
		if _, err := s.cronRunner.AddFunc(s.normalizeCron(s.ReachabilitySweep), func() { s.runReachabilitySweep(ctx) }); err != nil {
			return fmt.Errorf("health: scheduling reachability sweep: %w", err)
		}
		s.cronRunner.Start()
		defer s.cronRunner.Stop()
	}

	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

// normalizeCron pads a 5-field cron expression to 6 fields (seconds-first)
// for robfig/cron's WithSeconds parser, so operators may give either a 5-
// or a 6-field expression.
func (s *Supervisor) normalizeCron(expr string) string {
	fields := 0
	inField := false
	for _, r := range expr {
		if r == ' ' {
			inField = false
			continue
		}
		if !inField {
			fields++
			inField = true
		}
	}
	if fields == 5 {
		return "0 " + expr
	}
	return expr
}

func (s *Supervisor) checkAll(ctx context.Context) {
	channels, err := s.RunState.List()
	if err != nil {
		s.Logger.ErrorContext(ctx, "failed listing running channels", slog.String("error", err.Error()))
		return
	}

	for _, channel := range channels {
		s.checkChannel(ctx, channel)
	}
}

func (s *Supervisor) checkChannel(ctx context.Context, channel string) {
	st, err := s.RunState.Read(channel)
	if err != nil {
		if err != runstate.ErrNotRunning {
			s.Logger.ErrorContext(ctx, "failed reading run-state", slog.String("channel", channel), slog.String("error", err.Error()))
		}
		return
	}

	inputAlive := procutil.IsAlive(st.InputPID)
	transcoderAlive := st.TranscoderPID == nil || procutil.IsAlive(*st.TranscoderPID)
	completeFailure := !inputAlive || !transcoderAlive

	var failedOutputs []string
	for idx, pid := range st.OutputPIDs {
		if !procutil.IsAlive(pid) {
			failedOutputs = append(failedOutputs, idx)
		}
	}

	if !completeFailure && len(failedOutputs) == 0 {
		obsmetrics.ChannelHealthy.WithLabelValues(channel).Set(1)
		return
	}
	obsmetrics.ChannelHealthy.WithLabelValues(channel).Set(0)

	if completeFailure {
		obsmetrics.RestartsTotal.WithLabelValues(channel, "complete").Inc()
		s.handleCompleteFailure(ctx, channel, st)
	} else {
		obsmetrics.RestartsTotal.WithLabelValues(channel, "partial").Inc()
		s.handlePartialFailure(ctx, channel, st, failedOutputs)
	}
}

// handleCompleteFailure restarts the channel on its highest-priority input
// after an exponential backoff, matching _handle_channel_failure's
// "complete_failure" branch.
func (s *Supervisor) handleCompleteFailure(ctx context.Context, channel string, old *runstate.ChannelRunState) {
	failureCount := s.bumpFailureCount(channel)

	backoff := s.calculateBackoff(failureCount)
	obsmetrics.BackoffSeconds.Observe(backoff.Seconds())
	s.Logger.WarnContext(ctx, "channel failure detected, backing off before restart",
		slog.String("channel", channel), slog.Int("failure_count", failureCount), slog.Duration("backoff", backoff))

	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return
	}

	bestIndex := s.findBestInput(channel)
	if err := s.Lifecycle.Restart(ctx, channel, bestIndex); err != nil {
		s.Logger.ErrorContext(ctx, "restart failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}

	select {
	case <-time.After(s.ProcessStartWait):
	case <-ctx.Done():
		return
	}

	s.verifyRestart(ctx, channel, old)
}

// handlePartialFailure restarts the channel on its already-active input,
// matching _handle_channel_failure's non-complete-failure branch, which
// does not touch the backoff/failure-count bookkeeping.
func (s *Supervisor) handlePartialFailure(ctx context.Context, channel string, old *runstate.ChannelRunState, failedOutputs []string) {
	s.Logger.WarnContext(ctx, "partial channel failure detected",
		slog.String("channel", channel), slog.Any("failed_outputs", failedOutputs))

	if err := s.Lifecycle.Restart(ctx, channel, old.SourceIndex); err != nil {
		s.Logger.ErrorContext(ctx, "restart failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (s *Supervisor) verifyRestart(ctx context.Context, channel string, old *runstate.ChannelRunState) {
	newState, err := s.RunState.Read(channel)
	if err != nil {
		s.Logger.ErrorContext(ctx, "restart verification failed: could not read new state",
			slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}

	if newState.InputPID == old.InputPID {
		s.Logger.ErrorContext(ctx, "restart did not change input PID", slog.String("channel", channel))
		return
	}
	s.resetFailureCount(channel)
	s.Logger.InfoContext(ctx, "restart verified", slog.String("channel", channel))
}

// bumpFailureCount increments and returns the channel's failure count,
// resetting to 0 once MaxFailureCount is reached. The reset happens before
// the backoff calculation, matching _handle_channel_failure, so the
// triggering failure returns 0 and backs off from the minimum.
func (s *Supervisor) bumpFailureCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCounts[channel]++
	count := s.failureCounts[channel]
	if count >= s.maxFailureCount() {
		s.failureCounts[channel] = 0
	}
	obsmetrics.FailureCount.WithLabelValues(channel).Set(float64(s.failureCounts[channel]))
	return s.failureCounts[channel]
}

func (s *Supervisor) resetFailureCount(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCounts[channel] = 0
	obsmetrics.FailureCount.WithLabelValues(channel).Set(0)
}

func (s *Supervisor) maxFailureCount() int {
	if s.MaxFailureCount <= 0 {
		return 5
	}
	return s.MaxFailureCount
}

// calculateBackoff returns a jittered exponential backoff, matching
// _calculate_backoff_time: uniform(min, min(max, min*2^failureCount)).
func (s *Supervisor) calculateBackoff(failureCount int) time.Duration {
	min := s.minBackoff()
	max := s.maxBackoff()

	scaled := min * time.Duration(1<<uint(failureCount))
	if scaled > max || scaled <= 0 {
		scaled = max
	}
	if scaled <= min {
		return min
	}
	jitterRange := float64(scaled - min)
	return min + time.Duration(rand.Float64()*jitterRange)
}

func (s *Supervisor) minBackoff() time.Duration {
	if s.MinBackoff <= 0 {
		return 5 * time.Second
	}
	return s.MinBackoff
}

func (s *Supervisor) maxBackoff() time.Duration {
	if s.MaxBackoff <= 0 {
		return 30 * time.Second
	}
	return s.MaxBackoff
}

// findBestInput returns the index of the highest-priority input for
// channel, defaulting to 0 on any lookup error, matching _find_best_input.
// Strict greater-than keeps the lowest index among ties.
func (s *Supervisor) findBestInput(channel string) int {
	spec, err := s.Catalog.Channel(channel)
	if err != nil {
		return 0
	}

	bestIndex := 0
	bestPriority := -1
	for i, in := range spec.Inputs {
		if in.Priority > bestPriority {
			bestPriority = in.Priority
			bestIndex = i
		}
	}
	return bestIndex
}

// runReachabilitySweep probes every running channel's inputs at lower
// priority than the currently-selected one; when one of them has become
// reachable, it promotes the channel to the newly-reachable
// highest-priority input via the same restart path handleCompleteFailure
// uses, matching SPEC_FULL.md §4.4's "may promote a running channel from a
// lower-priority input to a higher-priority one that has come back".
func (s *Supervisor) runReachabilitySweep(ctx context.Context) {
	channels, err := s.RunState.List()
	if err != nil {
		s.Logger.ErrorContext(ctx, "failed listing running channels for reachability sweep", slog.String("error", err.Error()))
		return
	}

	for _, channel := range channels {
		st, err := s.RunState.Read(channel)
		if err != nil {
			continue
		}
		spec, err := s.Catalog.Channel(channel)
		if err != nil {
			continue
		}
		if st.SourceIndex < 0 || st.SourceIndex >= len(spec.Inputs) {
			continue
		}
		currentPriority := spec.Inputs[st.SourceIndex].Priority

		bestIndex := -1
		bestPriority := currentPriority
		for i, in := range spec.Inputs {
			if in.Priority <= currentPriority {
				continue
			}
			if !probe.IsReachable(ctx, in.URI) {
				s.Logger.WarnContext(ctx, "input unreachable during reachability sweep",
					slog.String("channel", channel), slog.Int("index", i), slog.String("uri", in.URI))
				continue
			}
			if in.Priority > bestPriority {
				bestPriority = in.Priority
				bestIndex = i
			}
		}

		if bestIndex < 0 {
			continue
		}

		s.Logger.InfoContext(ctx, "promoting channel to newly-reachable higher-priority input",
			slog.String("channel", channel), slog.Int("from_index", st.SourceIndex), slog.Int("to_index", bestIndex))
		if err := s.Lifecycle.Restart(ctx, channel, bestIndex); err != nil {
			s.Logger.ErrorContext(ctx, "reachability sweep restart failed",
				slog.String("channel", channel), slog.String("error", err.Error()))
		}
	}
}
