// Package lifecycle implements the Channel Lifecycle Manager (spec.md
// §4.1): it starts, stops, restarts, and reports the status of channels by
// launching one `chanrole` subprocess per role (input, transcoder,
// outputs), each its own process group, and persisting the resulting PIDs
// to the run-state store. Grounded on channel_manager.py's
// start_channel/stop_channel/restart_channel/get_channel_status subprocess
// bookkeeping, and on SPEC_FULL.md §4.3's roleLauncher contract.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/handoff"
	"github.com/rivermedia/chancore/internal/procutil"
	"github.com/rivermedia/chancore/internal/statestore/runstate"
)

// ReadyPollInterval is how often Start polls a just-launched role for
// liveness/readiness while verifying a successful launch.
const ReadyPollInterval = 100 * time.Millisecond

// DefaultRoleBin is the chanrole executable name resolved via PATH when
// Manager.RoleBin is unset.
const DefaultRoleBin = "chanrole"

// channelHandle tracks the live OS processes backing one running channel,
// mirroring channel_manager.py's per-channel dict of subprocess.Popen
// objects.
type channelHandle struct {
	channel     string
	sourceIndex int
	startedAt   time.Time

	inputProc      *procutil.Process
	transcoderProc *procutil.Process // nil if the channel needs no transcoder
	outputProcs    []*procutil.Process

	cancel context.CancelFunc
}

// Manager is the Channel Lifecycle Manager.
type Manager struct {
	Catalog       *config.Catalog
	RunState      *runstate.Store
	HandoffDir    string
	LogDir        string
	StartWindow   time.Duration
	StopGraceful  time.Duration
	StopTerminate time.Duration
	Logger        *slog.Logger

	// CatalogPath is handed to each chanrole subprocess as --catalog; it
	// must be the same file Catalog was parsed from.
	CatalogPath string
	// RoleBin is the chanrole executable to exec; defaults to
	// DefaultRoleBin, resolved via PATH.
	RoleBin string
	// RedisAddr is passed through as chanrole's --redis-addr, enabling
	// per-role stats recording; empty disables it.
	RedisAddr string

	mu           sync.Mutex
	channelLocks map[string]*sync.Mutex
	handles      map[string]*channelHandle
}

// NewManager constructs a Manager. StartWindow, StopGraceful, and
// StopTerminate should come from config.SupervisorConfig.
func NewManager(catalog *config.Catalog, rs *runstate.Store, handoffDir, logDir string, startWindow, stopGraceful, stopTerminate time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Catalog:       catalog,
		RunState:      rs,
		HandoffDir:    handoffDir,
		LogDir:        logDir,
		StartWindow:   startWindow,
		StopGraceful:  stopGraceful,
		StopTerminate: stopTerminate,
		Logger:        logger,
		RoleBin:       DefaultRoleBin,
		channelLocks:  make(map[string]*sync.Mutex),
		handles:       make(map[string]*channelHandle),
	}
}

func (m *Manager) roleBin() string {
	if m.RoleBin == "" {
		return DefaultRoleBin
	}
	return m.RoleBin
}

func (m *Manager) lockFor(channel string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.channelLocks[channel]
	if !ok {
		lock = &sync.Mutex{}
		m.channelLocks[channel] = lock
	}
	return lock
}

// baseArgs returns the persistent chanrole flags shared by every role
// subcommand for channel.
func (m *Manager) baseArgs(channel string) []string {
	args := []string{
		"--channel", channel,
		"--catalog", m.CatalogPath,
		"--handoff-dir", m.HandoffDir,
		"--log-dir", m.LogDir,
	}
	if m.RedisAddr != "" {
		args = append(args, "--redis-addr", m.RedisAddr)
	}
	return args
}

// roleLogFile opens (creating LogDir if needed) the log file chanrole's own
// stdout/stderr are redirected to for channel's role. This is distinct from
// the ffmpeg log file the role itself opens under the same LogDir.
func (m *Manager) roleLogFile(channel, role string) (*os.File, error) {
	if m.LogDir == "" {
		return os.Stderr, nil
	}
	if err := os.MkdirAll(m.LogDir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(m.LogDir, fmt.Sprintf("%s_%s_role.log", channel, role)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Start brings up every role for channel using sourceIndex as the initially
// selected input, in the order input -> transcoder (if needed) -> outputs,
// matching channel_manager.py's start_channel sequencing. It blocks until
// every role is observed ready or StartWindow elapses.
func (m *Manager) Start(ctx context.Context, channel string, sourceIndex int) error {
	lock := m.lockFor(channel)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := m.handleFor(channel); ok {
		return ErrAlreadyRunning
	}

	spec, err := m.Catalog.Channel(channel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownChannel, err)
	}
	if _, err := spec.InputAt(sourceIndex); err != nil {
		return err
	}

	chCtx, cancel := context.WithCancel(context.Background())
	handle := &channelHandle{channel: channel, sourceIndex: sourceIndex, startedAt: time.Now(), cancel: cancel}

	inputArgs := append([]string{"input"}, append(m.baseArgs(channel), "--source-index", fmt.Sprintf("%d", sourceIndex))...)
	inputProc, err := m.launchRole(chCtx, channel, "input", inputArgs, m.waitForHandoff(channel, "muxed"))
	if err != nil {
		cancel()
		return &LaunchError{Channel: channel, Stage: "input", Err: err}
	}
	handle.inputProc = inputProc

	if spec.NeedsTranscoder() {
		tArgs := append([]string{"transcoder"}, m.baseArgs(channel)...)
		tProc, err := m.launchRole(chCtx, channel, "transcoder", tArgs, m.waitForHandoff(channel, "transcoded"))
		if err != nil {
			m.teardownPartial(handle)
			cancel()
			return &LaunchError{Channel: channel, Stage: "transcoder", Err: err}
		}
		handle.transcoderProc = tProc
	}

	for i := range spec.Outputs {
		oArgs := append([]string{"output"}, append(m.baseArgs(channel), "--index", fmt.Sprintf("%d", i))...)
		oProc, err := m.launchRole(chCtx, channel, fmt.Sprintf("output_%d", i), oArgs, nil)
		if err != nil {
			m.teardownPartial(handle)
			cancel()
			return &LaunchError{Channel: channel, Stage: fmt.Sprintf("output_%d", i), Err: err}
		}
		handle.outputProcs = append(handle.outputProcs, oProc)
	}

	m.mu.Lock()
	m.handles[channel] = handle
	m.mu.Unlock()

	if err := m.RunState.Write(buildRunState(handle)); err != nil {
		m.Logger.WarnContext(ctx, "failed to write run-state file", slog.String("channel", channel), slog.String("error", err.Error()))
	}

	m.Logger.InfoContext(ctx, "channel started", slog.String("channel", channel), slog.Int("source_index", sourceIndex))
	return nil
}

// waitForHandoff returns a readiness check that blocks until channel's role
// at the given handoff stage has published its descriptor, the same
// rendezvous a downstream role's own Build() waits on.
func (m *Manager) waitForHandoff(channel, stage string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		socketPath := handoff.SocketPath(m.HandoffDir, channel, stage)
		descPath := handoff.DescriptorPath(m.HandoffDir, channel, stage)
		_, err := handoff.Wait(ctx, socketPath, descPath, ReadyPollInterval, m.startWindow())
		return err
	}
}

// launchRole execs chanrole with args as the leader of its own process
// group and blocks until ready reports success (or, for roles with no
// downstream handoff to observe such as outputs, until the process has
// survived one poll interval), or StartWindow elapses. Grounded on
// SPEC_FULL.md §4.3's roleLauncher contract and procutil's existing
// Setpgid/signal-escalation semantics.
func (m *Manager) launchRole(ctx context.Context, channel, role string, args []string, ready func(ctx context.Context) error) (*procutil.Process, error) {
	logFile, err := m.roleLogFile(channel, role)
	if err != nil {
		return nil, fmt.Errorf("opening log file for %s: %w", role, err)
	}

	proc, err := procutil.Spawn(ctx, m.roleBin(), args, logFile, logFile, nil)
	if err != nil {
		if logFile != os.Stderr {
			logFile.Close()
		}
		return nil, fmt.Errorf("spawning %s: %w", role, err)
	}

	if ready == nil {
		select {
		case <-time.After(ReadyPollInterval):
		case <-ctx.Done():
		}
		if !procutil.IsAlive(proc.PID) {
			return nil, fmt.Errorf("%s exited immediately after launch", role)
		}
		return proc, nil
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, m.startWindow())
	defer waitCancel()
	if err := ready(waitCtx); err != nil {
		proc.Stop(m.stopDurations())
		return nil, fmt.Errorf("%s did not become ready: %w", role, err)
	}
	return proc, nil
}

func (m *Manager) startWindow() time.Duration {
	if m.StartWindow <= 0 {
		return 30 * time.Second
	}
	return m.StartWindow
}

func (m *Manager) stopDurations() (time.Duration, time.Duration) {
	grace, term := m.StopGraceful, m.StopTerminate
	if grace <= 0 {
		grace = 10 * time.Second
	}
	if term <= 0 {
		term = 5 * time.Second
	}
	return grace, term
}

// teardownPartial stops whatever roles were already launched when a later
// stage in Start fails, so a failed start never leaks processes.
func (m *Manager) teardownPartial(handle *channelHandle) {
	grace, term := m.stopDurations()
	for i := len(handle.outputProcs) - 1; i >= 0; i-- {
		stopProc(handle.outputProcs[i], grace, term, m.Logger)
	}
	if handle.transcoderProc != nil {
		stopProc(handle.transcoderProc, grace, term, m.Logger)
	}
	stopProc(handle.inputProc, grace, term, m.Logger)
}

func stopProc(p *procutil.Process, grace, term time.Duration, logger *slog.Logger) {
	if p == nil {
		return
	}
	if forceKilled, err := p.Stop(grace, term); err != nil {
		logger.Warn("error stopping role process", slog.Int("pid", p.PID), slog.String("error", err.Error()))
	} else if forceKilled {
		logger.Warn("role process required force kill", slog.Int("pid", p.PID))
	}
}

// Stop tears down every role for channel in reverse start order (outputs
// first, then transcoder, then input), matching
// channel_manager.py's stop_channel.
func (m *Manager) Stop(ctx context.Context, channel string) error {
	lock := m.lockFor(channel)
	lock.Lock()
	defer lock.Unlock()

	handle, ok := m.handleFor(channel)
	if !ok {
		return ErrNotRunning
	}

	if err := m.RunState.Remove(channel); err != nil {
		m.Logger.WarnContext(ctx, "failed to remove run-state file", slog.String("channel", channel), slog.String("error", err.Error()))
	}

	m.teardownPartial(handle)
	handle.cancel()

	m.mu.Lock()
	delete(m.handles, channel)
	m.mu.Unlock()

	m.Logger.InfoContext(ctx, "channel stopped", slog.String("channel", channel))
	return nil
}

// Restart stops and restarts channel, reusing sourceIndex if >= 0 or the
// channel's previously active source index otherwise.
func (m *Manager) Restart(ctx context.Context, channel string, sourceIndex int) error {
	lock := m.lockFor(channel)
	lock.Lock()
	handle, running := m.handleFor(channel)
	if sourceIndex < 0 {
		if running {
			sourceIndex = handle.sourceIndex
		} else {
			sourceIndex = 0
		}
	}
	lock.Unlock()

	if running {
		if err := m.Stop(ctx, channel); err != nil {
			return err
		}
	}
	return m.Start(ctx, channel, sourceIndex)
}

func (m *Manager) handleFor(channel string) (*channelHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[channel]
	return h, ok
}

// RoleStatus is the reported state of one role within a channel.
type RoleStatus struct {
	Role  string `json:"role"`
	State string `json:"state"`
	PID   int    `json:"pid,omitempty"`
}

// ChannelStatus is the Lifecycle Manager's view of one channel, for the
// /status endpoint.
type ChannelStatus struct {
	Channel     string       `json:"channel"`
	Running     bool         `json:"running"`
	SourceIndex int          `json:"source_index"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	Roles       []RoleStatus `json:"roles,omitempty"`
}

// Status reports the current state of channel.
func (m *Manager) Status(channel string) (ChannelStatus, error) {
	if _, err := m.Catalog.Channel(channel); err != nil {
		return ChannelStatus{}, fmt.Errorf("%w: %v", ErrUnknownChannel, err)
	}

	handle, ok := m.handleFor(channel)
	if !ok {
		return ChannelStatus{Channel: channel, Running: false}, nil
	}

	status := ChannelStatus{
		Channel:     channel,
		Running:     true,
		SourceIndex: handle.sourceIndex,
		StartedAt:   handle.startedAt,
	}
	status.Roles = append(status.Roles, roleStatus("input", handle.inputProc))
	if handle.transcoderProc != nil {
		status.Roles = append(status.Roles, roleStatus("transcoder", handle.transcoderProc))
	}
	for i, p := range handle.outputProcs {
		status.Roles = append(status.Roles, roleStatus(fmt.Sprintf("output_%d", i), p))
	}
	return status, nil
}

// roleStatus reports a role's liveness by probing its PID directly, since
// the process is now a subprocess rather than an in-process core.Machine
// whose State() could be read synchronously.
func roleStatus(role string, p *procutil.Process) RoleStatus {
	if p == nil {
		return RoleStatus{Role: role, State: "exited"}
	}
	state := "exited"
	if procutil.IsAlive(p.PID) {
		state = "running"
	}
	return RoleStatus{Role: role, State: state, PID: p.PID}
}

// ChannelListEntry is one channel's classification and running state, as
// reported by List, matching channel_manager.py's load_config log lines
// ("Input type: ...", "Transcoder type: ...", "Output types: ...").
type ChannelListEntry struct {
	InputType      string   `json:"input_type"`
	TranscoderType string   `json:"transcoder_type"`
	OutputTypes    []string `json:"output_types"`
	Running        bool     `json:"running"`
}

// List returns every catalog channel's input/transcoder/output
// classification and whether it is currently running, keyed by channel
// name, per spec.md's "list()" operation.
func (m *Manager) List() map[string]ChannelListEntry {
	names := m.Catalog.Channels()
	out := make(map[string]ChannelListEntry, len(names))
	for _, name := range names {
		spec, err := m.Catalog.Channel(name)
		if err != nil {
			continue
		}

		entry := ChannelListEntry{
			TranscoderType: string(spec.Transcoder),
			OutputTypes:    make([]string, len(spec.Outputs)),
		}
		if len(spec.Inputs) > 0 {
			entry.InputType = string(spec.Inputs[0].Kind)
		}
		for i, o := range spec.Outputs {
			entry.OutputTypes[i] = string(o.Kind)
		}
		_, entry.Running = m.handleFor(name)

		out[name] = entry
	}
	return out
}

// StatusAll reports every catalog channel's current run status, keyed by
// channel name — the all-channels branch of spec.md's "status(channel?)"
// operation, for when no channel is given.
func (m *Manager) StatusAll() map[string]ChannelStatus {
	names := m.Catalog.Channels()
	out := make(map[string]ChannelStatus, len(names))
	for _, name := range names {
		status, err := m.Status(name)
		if err != nil {
			continue
		}
		out[name] = status
	}
	return out
}

func buildRunState(handle *channelHandle) *runstate.ChannelRunState {
	st := &runstate.ChannelRunState{
		Channel:      handle.channel,
		SourceIndex:  handle.sourceIndex,
		InputPID:     handle.inputProc.PID,
		OutputPIDs:   make(map[string]int, len(handle.outputProcs)),
		LastRestart:  handle.startedAt,
		FailureCount: 0,
	}
	if handle.transcoderProc != nil {
		pid := handle.transcoderProc.PID
		st.TranscoderPID = &pid
	}
	for i, p := range handle.outputProcs {
		st.OutputPIDs[fmt.Sprintf("%d", i)] = p.PID
	}
	return st
}
