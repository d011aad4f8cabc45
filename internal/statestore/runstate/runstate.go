// Package runstate persists the per-channel run-state record described in
// spec.md §4.1's "Stats & State Store Protocol": source index, role PIDs,
// last restart time, and failure count, written as one JSON file per
// channel. It is grounded on channel_manager.py's manage_state_file.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotRunning is returned by Read when no run-state file exists for the
// requested channel.
var ErrNotRunning = errors.New("runstate: channel is not running")

// ChannelRunState is the persisted record of one running channel, mirroring
// channel_manager.py's state dict.
type ChannelRunState struct {
	Channel      string         `json:"channel"`
	SourceIndex  int            `json:"source_index"`
	InputPID     int            `json:"input_pid"`
	TranscoderPID *int          `json:"transcoder_pid"`
	OutputPIDs   map[string]int `json:"output_pids"`
	LastRestart  time.Time      `json:"last_restart"`
	FailureCount int            `json:"failure_count"`
}

// Store is a filesystem-backed run-state repository. One JSON file per
// channel lives under Dir, named "<channel>.json".
type Store struct {
	Dir string
}

// New creates a Store rooted at dir. The directory must already exist or be
// creatable; New does not create it eagerly so callers can decide ownership
// of the state directory's lifecycle at startup.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(channel string) string {
	return filepath.Join(s.Dir, channel+".json")
}

// Write persists st atomically: it writes to a temp file in the same
// directory and renames over the target, so a reader never observes a
// partially written file.
func (s *Store) Write(st *ChannelRunState) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("runstate: creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("runstate: marshaling state for %s: %w", st.Channel, err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".tmp-"+st.Channel+"-*")
	if err != nil {
		return fmt.Errorf("runstate: creating temp file for %s: %w", st.Channel, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("runstate: writing temp file for %s: %w", st.Channel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("runstate: closing temp file for %s: %w", st.Channel, err)
	}

	if err := os.Rename(tmpName, s.path(st.Channel)); err != nil {
		return fmt.Errorf("runstate: committing state for %s: %w", st.Channel, err)
	}
	return nil
}

// Read loads the run-state for channel, or ErrNotRunning if no state file
// exists.
func (s *Store) Read(channel string) (*ChannelRunState, error) {
	data, err := os.ReadFile(s.path(channel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("runstate: reading state for %s: %w", channel, err)
	}

	var st ChannelRunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("runstate: parsing state for %s: %w", channel, err)
	}
	return &st, nil
}

// Remove deletes the run-state file for channel. Removing a nonexistent
// file is not an error, matching channel_manager.py's remove action.
func (s *Store) Remove(channel string) error {
	if err := os.Remove(s.path(channel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runstate: removing state for %s: %w", channel, err)
	}
	return nil
}

// List returns the channel names that currently have a run-state file,
// i.e. the set of channels the Lifecycle Manager believes are running.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstate: listing state dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		names = append(names, name[:len(name)-len(".json")])
	}
	return names, nil
}
