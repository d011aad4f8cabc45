package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeBuilder struct {
	buildErr      error
	buildCalls    atomic.Int32
	teardownCalls atomic.Int32
	blockBuild    chan struct{}
}

func (f *fakeBuilder) Build(ctx context.Context) error {
	f.buildCalls.Add(1)
	if f.blockBuild != nil {
		select {
		case <-f.blockBuild:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.buildErr
}

func (f *fakeBuilder) Teardown(ctx context.Context) {
	f.teardownCalls.Add(1)
}

func TestMachine_StopTransitionsToExit(t *testing.T) {
	builder := &fakeBuilder{}
	m := NewMachine(builder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateRunning }, time.Second, time.Millisecond)

	m.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("machine did not exit after Stop")
	}

	assert.Equal(t, StateExit, m.State())
	assert.GreaterOrEqual(t, builder.teardownCalls.Load(), int32(1))
}

func TestMachine_BuildFailureGoesFatal(t *testing.T) {
	builder := &fakeBuilder{buildErr: errors.New("boom")}
	m := NewMachine(builder, nil)

	err := m.Run(context.Background())
	require.Error(t, err)

	var fatalErr *FatalError
	require.ErrorAs(t, err, &fatalErr)
	assert.Equal(t, 1, fatalErr.ExitCode)
	assert.Equal(t, StateExit, m.State())
}

func TestMachine_RepeatedStallsGoFatal(t *testing.T) {
	builder := &fakeBuilder{}
	m := NewMachine(builder, nil)
	m.MaxStalls = 2
	m.InitialWatchdogTimeout = 5 * time.Millisecond
	m.RunningWatchdogTimeout = 5 * time.Millisecond

	err := m.Run(context.Background())
	require.Error(t, err)

	var fatalErr *FatalError
	require.ErrorAs(t, err, &fatalErr)
	require.ErrorIs(t, err, ErrMaxRestartsExceeded)
	assert.Equal(t, StateExit, m.State())
	assert.GreaterOrEqual(t, builder.buildCalls.Load(), int32(3))
	assert.GreaterOrEqual(t, builder.teardownCalls.Load(), int32(3))
}

func TestMachine_ContextCancelDuringConstructionTerminates(t *testing.T) {
	builder := &fakeBuilder{blockBuild: make(chan struct{})}
	m := NewMachine(builder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return builder.buildCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("machine did not exit after context cancel")
	}
	assert.Equal(t, StateExit, m.State())
}

func TestMachine_SecondRunReturnsErrAlreadyRunning(t *testing.T) {
	builder := &fakeBuilder{blockBuild: make(chan struct{})}
	m := NewMachine(builder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return builder.buildCalls.Load() == 1 }, time.Second, time.Millisecond)

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestMachine_StopLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	builder := &fakeBuilder{}
	m := NewMachine(builder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateRunning }, time.Second, time.Millisecond)

	m.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("machine did not exit after Stop")
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateConstructing))
	assert.True(t, CanTransition(StateStalled, StateConstructing))
	assert.False(t, CanTransition(StateIdle, StateRunning))
	assert.False(t, CanTransition(StateExit, StateRunning))
}
