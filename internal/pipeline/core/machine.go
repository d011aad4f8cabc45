package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RoleBuilder is implemented by each concrete role (input, transcoder,
// output). Build constructs and starts the role's element graph, returning
// once data is flowing or an error if construction failed outright. Tear
// down releases any resources Build acquired, called on every exit from
// RUNNING/CONSTRUCTING regardless of outcome. Grounded on
// input_handler.py's probe -> build pipeline -> link elements sequence,
// generalized across roles.
type RoleBuilder interface {
	// Build constructs the role's pipeline. It must return once the role
	// believes it is producing output, or an error otherwise.
	Build(ctx context.Context) error

	// Teardown releases resources acquired by Build.
	Teardown(ctx context.Context)
}

// InitialWatchdogTimeout is the grace period given to a freshly built role
// before activity is required, matching input_handler.py's
// INITIAL_WATCHDOG_TIMEOUT (construction and first-frame delivery are
// slower than steady-state).
const InitialWatchdogTimeout = 30 * time.Second

// RunningWatchdogTimeout is the activity timeout once a role has delivered
// at least one sample, matching input_handler.py's
// RUNNING_WATCHDOG_TIMEOUT.
const RunningWatchdogTimeout = 5 * time.Second

// DefaultMaxStalls bounds the number of STALLED -> CONSTRUCTING recovery
// attempts before a role gives up and transitions to FATAL, matching
// spec.md §4.5's "bound the number of in-process restart attempts (e.g.,
// 10-30 depending on role)".
const DefaultMaxStalls = 10

// Machine drives one RoleBuilder through the lifecycle states on a single
// goroutine, reacting to an internal event channel rather than being
// driven externally — external callers only ever call Stop or inspect
// State.
type Machine struct {
	builder RoleBuilder
	logger  *slog.Logger

	// MaxStalls bounds STALLED -> CONSTRUCTING recoveries before the
	// machine transitions to FATAL. Defaults to DefaultMaxStalls; callers
	// may override it before calling Run.
	MaxStalls int

	// InitialWatchdogTimeout and RunningWatchdogTimeout override the
	// package defaults of the same name; callers may shrink them (e.g. in
	// tests) before calling Run.
	InitialWatchdogTimeout time.Duration
	RunningWatchdogTimeout time.Duration

	mu    sync.RWMutex
	state State

	lastActivity atomic.Value // time.Time
	events       chan event
	stopped      chan struct{}
	running      atomic.Bool
}

type eventKind int

const (
	eventActivity eventKind = iota
	eventBuildDone
	eventBuildFailed
	eventWatchdogTimeout
	eventStopRequested
)

type event struct {
	kind eventKind
	err  error
}

// NewMachine creates a Machine for builder.
func NewMachine(builder RoleBuilder, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		builder:                builder,
		logger:                 logger,
		state:                  StateIdle,
		MaxStalls:              DefaultMaxStalls,
		InitialWatchdogTimeout: InitialWatchdogTimeout,
		RunningWatchdogTimeout: RunningWatchdogTimeout,
		events:                 make(chan event, 16),
		stopped:                make(chan struct{}),
	}
	m.lastActivity.Store(time.Now())
	return m
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// NotifyActivity records that the role produced output, resetting the
// watchdog clock. Roles call this from their data path (e.g. every GStreamer
// buffer probe callback, every frame written to an output socket).
func (m *Machine) NotifyActivity() {
	m.lastActivity.Store(time.Now())
	select {
	case m.events <- event{kind: eventActivity}:
	default:
	}
}

// Stop requests a graceful shutdown, transitioning to TERMINATING and then
// EXIT once Teardown completes.
func (m *Machine) Stop() {
	select {
	case m.events <- event{kind: eventStopRequested}:
	default:
	}
}

// Run drives the state machine until it reaches EXIT or ctx is canceled. It
// is the single goroutine that owns all state transitions; callers must
// not call Run concurrently on the same Machine.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.stopped)
	defer m.running.Store(false)

	m.transition(StateConstructing)

	var fatalErr *FatalError
	stallCount := 0
	sawActivity := false

	for {
		switch m.State() {
		case StateConstructing:
			buildErr := make(chan error, 1)
			buildCtx, cancelBuild := context.WithCancel(ctx)
			go func() { buildErr <- m.builder.Build(buildCtx) }()

			select {
			case err := <-buildErr:
				cancelBuild()
				if err != nil {
					m.logger.ErrorContext(ctx, "role construction failed", slog.String("error", err.Error()))
					fatalErr = &FatalError{Reason: "construction failed", ExitCode: 1, Err: err}
					m.transition(StateFatal)
					continue
				}
				m.lastActivity.Store(time.Now())
				sawActivity = false
				m.transition(StateRunning)
			case ev := <-m.events:
				if ev.kind == eventStopRequested {
					cancelBuild()
					<-buildErr
					m.transition(StateTerminating)
				}
			case <-ctx.Done():
				cancelBuild()
				<-buildErr
				m.transition(StateTerminating)
			}

		case StateRunning:
			timeout := m.InitialWatchdogTimeout
			if sawActivity {
				timeout = m.RunningWatchdogTimeout
			}
			select {
			case <-ctx.Done():
				m.transition(StateTerminating)
			case ev := <-m.events:
				switch ev.kind {
				case eventActivity:
					// lastActivity already updated by NotifyActivity.
					sawActivity = true
				case eventStopRequested:
					m.transition(StateTerminating)
				}
			case <-time.After(timeout):
				if time.Since(m.lastActivityTime()) >= timeout {
					m.logger.WarnContext(ctx, "role stalled, no activity within watchdog timeout",
						slog.Duration("timeout", timeout))
					stallCount++
					m.builder.Teardown(ctx)
					m.transition(StateStalled)
				}
			}

		case StateStalled:
			if stallCount > m.maxStallsOrDefault() {
				m.logger.ErrorContext(ctx, "role exceeded maximum stall recoveries", slog.Int("stall_count", stallCount))
				fatalErr = &FatalError{Reason: "maximum stall recoveries exceeded", ExitCode: 1, Err: ErrMaxRestartsExceeded}
				m.transition(StateFatal)
				continue
			}
			m.transition(StateConstructing)

		case StateTerminating:
			m.builder.Teardown(ctx)
			m.transition(StateExit)

		case StateFatal:
			m.builder.Teardown(ctx)
			m.transition(StateExit)

		case StateExit:
			if fatalErr != nil {
				return fatalErr
			}
			return nil
		}
	}
}

func (m *Machine) lastActivityTime() time.Time {
	return m.lastActivity.Load().(time.Time)
}

func (m *Machine) maxStallsOrDefault() int {
	if m.MaxStalls <= 0 {
		return DefaultMaxStalls
	}
	return m.MaxStalls
}

func (m *Machine) transition(next State) {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, next) && from != next {
		m.mu.Unlock()
		m.logger.Error("illegal state transition attempted", slog.String("from", from.String()), slog.String("to", next.String()))
		return
	}
	m.state = next
	m.mu.Unlock()
	m.logger.Info("role state transition", slog.String("from", from.String()), slog.String("to", next.String()))
}

// Done returns a channel closed once Run has returned.
func (m *Machine) Done() <-chan struct{} {
	return m.stopped
}
