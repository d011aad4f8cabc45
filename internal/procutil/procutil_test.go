package procutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnAndStopGraceful(t *testing.T) {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer devnull.Close()

	p, err := Spawn(context.Background(), "sleep", []string{"30"}, devnull, devnull, nil)
	require.NoError(t, err)
	assert.True(t, IsAlive(p.PID))

	forceKilled, err := p.Stop(200*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, forceKilled)
	assert.False(t, IsAlive(p.PID))
}

func TestSpawnAndStopForceKillsIgnoredSignals(t *testing.T) {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer devnull.Close()

	// trap SIGINT/SIGTERM so Stop must escalate to SIGKILL.
	p, err := Spawn(context.Background(), "sh", []string{"-c", "trap '' INT TERM; sleep 30"}, devnull, devnull, nil)
	require.NoError(t, err)

	forceKilled, err := p.Stop(100*time.Millisecond, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, forceKilled)
}

func TestIsAliveFalseForUnknownPID(t *testing.T) {
	assert.False(t, IsAlive(1<<30))
}
