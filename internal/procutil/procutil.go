// Package procutil wraps external process spawning and signaling with the
// process-group semantics the control plane relies on: every role process
// is started as its own session/group leader so a single signal reaches any
// children it spawns (ffmpeg, gstreamer helpers), and shutdown escalates
// SIGINT -> SIGTERM -> SIGKILL on a timer. Grounded on channel_manager.py's
// os.setsid/os.killpg usage and stop_channel's escalation ladder.
package procutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Process wraps a running external command started in its own process
// group.
type Process struct {
	Cmd *exec.Cmd
	PID int
}

// Spawn starts name with args as the leader of a new process group (via
// Setpgid), redirecting stdout/stderr to the given writers. env, if
// non-nil, is appended to the current process environment.
func Spawn(ctx context.Context, name string, args []string, stdout, stderr *os.File, env []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	// CommandContext kills with SIGKILL on ctx cancellation by default;
	// Stop below implements the graded escalation instead, so detach that
	// default behavior by clearing Cancel.
	cmd.Cancel = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procutil: starting %s: %w", name, err)
	}

	return &Process{Cmd: cmd, PID: cmd.Process.Pid}, nil
}

// Wait blocks until the process exits and returns its error, if any.
func (p *Process) Wait() error {
	return p.Cmd.Wait()
}

// signalGroup delivers sig to the process group led by p, matching
// os.killpg(os.getpgid(pid), sig).
func (p *Process) signalGroup(sig syscall.Signal) error {
	return syscall.Kill(-p.PID, sig)
}

// Stop escalates SIGINT -> SIGTERM -> SIGKILL across the group, waiting up
// to gracePeriod then termPeriod between steps. It returns true if the
// process had to be force-killed, matching stop_channel's force_killed
// bookkeeping used to decide whether to clean up shared state afterward.
func (p *Process) Stop(gracePeriod, termPeriod time.Duration) (forceKilled bool, err error) {
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	if err := p.signalGroup(syscall.SIGINT); err != nil && err != syscall.ESRCH {
		return false, fmt.Errorf("procutil: sending SIGINT: %w", err)
	}

	select {
	case <-done:
		return false, nil
	case <-time.After(gracePeriod):
	}

	if err := p.signalGroup(syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return false, fmt.Errorf("procutil: sending SIGTERM: %w", err)
	}

	select {
	case <-done:
		return false, nil
	case <-time.After(termPeriod):
	}

	if err := p.signalGroup(syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return true, fmt.Errorf("procutil: sending SIGKILL: %w", err)
	}
	<-done
	return true, nil
}

// IsAlive reports whether PID still refers to a live, non-zombie process,
// used by the Health Supervisor to distinguish a crashed role from one that
// is merely slow to respond.
func IsAlive(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := proc.Status()
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	running, err := proc.IsRunning()
	return err == nil && running
}
