// Package probe shells out to ffprobe to analyze an input URI's codecs,
// PIDs, and program layout before a role commits to building its pipeline.
// Grounded on input_handler.py's analyze_stream.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// Timeout bounds how long ffprobe is given to analyze a stream before it is
// considered unreachable, matching analyze_stream's subprocess timeout.
const Timeout = 20 * time.Second

// Stream is one entry of Result.Streams, trimmed to the fields the control
// plane cares about.
type Stream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels  int    `json:"channels,omitempty"`
}

// Program is one entry of Result.Programs.
type Program struct {
	ProgramID int      `json:"program_id"`
	PMTPID    int      `json:"pmt_pid"`
	PCRPID    int      `json:"pcr_pid"`
	Streams   []Stream `json:"streams"`
}

// Result is the ffprobe JSON output, trimmed to the fields used by the
// control plane. Raw holds the full decoded document for forwarding as
// handoff.StreamFormat.Extended.
type Result struct {
	Streams  []Stream  `json:"streams"`
	Programs []Program `json:"programs"`
	Format   struct {
		FormatName string `json:"format_name"`
		NBStreams  int    `json:"nb_streams"`
		NBPrograms int    `json:"nb_programs"`
	} `json:"format"`
	Raw map[string]any `json:"-"`
}

// VideoStream returns the first video stream in the analyzed program (or,
// absent a program, in the top-level stream list), per analyze_stream's
// "prefer program.streams, fall back to probe_data.streams" rule.
func (r *Result) VideoStream() (Stream, bool) {
	return r.firstStreamOfType("video")
}

// AudioStream returns the first audio stream, by the same rule.
func (r *Result) AudioStream() (Stream, bool) {
	return r.firstStreamOfType("audio")
}

func (r *Result) firstStreamOfType(codecType string) (Stream, bool) {
	streams := r.Streams
	if len(r.Programs) > 0 && len(r.Programs[0].Streams) > 0 {
		streams = r.Programs[0].Streams
	}
	for _, s := range streams {
		if s.CodecType == codecType {
			return s, true
		}
	}
	return Stream{}, false
}

// ProgramNumber returns the first program's id, or 0 if no program was
// reported.
func (r *Result) ProgramNumber() int {
	if len(r.Programs) == 0 {
		return 0
	}
	return r.Programs[0].ProgramID
}

// Probe runs ffprobe against uri and returns the parsed result.
func Probe(ctx context.Context, uri string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_programs",
		"-i", uri,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("probe: ffprobe failed for %s: %w", uri, err)
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("probe: parsing ffprobe output for %s: %w", uri, err)
	}
	if err := json.Unmarshal(stdout.Bytes(), &result.Raw); err != nil {
		return nil, fmt.Errorf("probe: parsing raw ffprobe output for %s: %w", uri, err)
	}

	return &result, nil
}

// IsReachable runs a bounded probe purely to check liveness, for the Health
// Supervisor's periodic reachability sweep (spec.md §4.2). It discards the
// analysis and only reports whether ffprobe could open the URI at all.
func IsReachable(ctx context.Context, uri string) bool {
	_, err := Probe(ctx, uri)
	return err == nil
}
