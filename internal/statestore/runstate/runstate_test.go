package runstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	transcoderPID := 4242
	st := &ChannelRunState{
		Channel:       "news-1",
		SourceIndex:   0,
		InputPID:      1001,
		TranscoderPID: &transcoderPID,
		OutputPIDs:    map[string]int{"0": 2001, "1": 2002},
		LastRestart:   time.Now().Truncate(time.Second),
		FailureCount:  0,
	}

	require.NoError(t, store.Write(st))

	got, err := store.Read("news-1")
	require.NoError(t, err)
	assert.Equal(t, st.Channel, got.Channel)
	assert.Equal(t, st.InputPID, got.InputPID)
	assert.Equal(t, *st.TranscoderPID, *got.TranscoderPID)
	assert.Equal(t, st.OutputPIDs, got.OutputPIDs)
	assert.True(t, st.LastRestart.Equal(got.LastRestart))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"news-1"}, names)

	require.NoError(t, store.Remove("news-1"))
	_, err = store.Read("news-1")
	assert.ErrorIs(t, err, ErrNotRunning)

	// Removing twice is not an error.
	require.NoError(t, store.Remove("news-1"))
}

func TestStore_ReadMissingChannel(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Read("does-not-exist")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStore_ListEmptyDir(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nested", "does-not-exist-yet"))
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
