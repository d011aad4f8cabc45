package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// InputKind enumerates the normalized input protocol classifications,
// mirroring channel_manager.py's InputType enum.
type InputKind string

// Input kinds.
const (
	InputReliableStream InputKind = "reliable-stream" // srtsrc-equivalent
	InputDatagram       InputKind = "datagram"         // udpsrc-equivalent
	InputSegmentedHTTP  InputKind = "segmented-http"    // hlssrc-equivalent
	InputUnknown        InputKind = "unknown"
)

// OutputKind enumerates the normalized output protocol classifications.
type OutputKind string

// Output kinds.
const (
	OutputDatagram      OutputKind = "datagram"
	OutputReliableStream OutputKind = "reliable-stream"
	OutputRIST          OutputKind = "rist"
	OutputRTMP          OutputKind = "rtmp"
	OutputTCP           OutputKind = "tcp"
	OutputSegmentedHTTP OutputKind = "segmented-http"
	OutputUnknown       OutputKind = "unknown"
)

// TranscoderKind enumerates the transcoder strategy, mirroring
// channel_manager.py's TranscoderType enum.
type TranscoderKind string

// Transcoder kinds.
const (
	TranscoderNone            TranscoderKind = "none"
	TranscoderCPU             TranscoderKind = "cpu"
	TranscoderGPU             TranscoderKind = "gpu"
	TranscoderHybridCPUDecode TranscoderKind = "hybrid-cpu-decode"
	TranscoderHybridGPUDecode TranscoderKind = "hybrid-gpu-decode"
)

// DemuxSelector identifies which program/stream a role should lock onto.
type DemuxSelector struct {
	Program       int    `yaml:"program"`
	VideoStreamID string `yaml:"video-stream-id,omitempty"`
	AudioStreamID string `yaml:"audio-stream-id,omitempty"`
}

// InputSpec is one entry of ChannelSpec.Inputs.
type InputSpec struct {
	Kind     InputKind         `yaml:"-"`
	RawKind  string            `yaml:"kind"`
	URI      string            `yaml:"uri"`
	Priority int               `yaml:"priority"`
	Options  map[string]string `yaml:"options,omitempty"`
	Demux    DemuxSelector     `yaml:"demux,omitempty"`
}

// VideoStreamSpec is one encode target within ChannelSpec.Transcoding.Video.
type VideoStreamSpec struct {
	Codec      string            `yaml:"codec"` // "passthrough" or a codec name
	BitrateBps int               `yaml:"-"`
	BitrateKbs int               `yaml:"bitrate,omitempty"`
	Width      int               `yaml:"-"`
	Height     int               `yaml:"-"`
	Resolution *ResolutionSpec   `yaml:"resolution,omitempty"`
	Options    map[string]string `yaml:"options,omitempty"`
}

// ResolutionSpec is a target video resolution.
type ResolutionSpec struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// VideoTranscodingSpec is ChannelSpec.Transcoding.Video.
type VideoTranscodingSpec struct {
	Deinterlace bool              `yaml:"deinterlace,omitempty"`
	Streams     []VideoStreamSpec `yaml:"streams"`
}

// AudioTranscodingSpec is ChannelSpec.Transcoding.Audio.
type AudioTranscodingSpec struct {
	Codec      string            `yaml:"codec"`
	BitrateBps int               `yaml:"-"`
	BitrateKbs int               `yaml:"bitrate,omitempty"`
	Options    map[string]string `yaml:"options,omitempty"`
}

// TranscodingSpec is ChannelSpec.Transcoding.
type TranscodingSpec struct {
	Video VideoTranscodingSpec `yaml:"video"`
	Audio AudioTranscodingSpec `yaml:"audio"`
}

// MuxSpec is ChannelSpec.Mux.
type MuxSpec struct {
	ProgramNumber int               `yaml:"program-number"`
	VideoPIDs     []int             `yaml:"-"`
	RawVideoPIDs  []string          `yaml:"video-pids"`
	AudioPID      int               `yaml:"-"`
	RawAudioPID   string            `yaml:"audio-pid"`
	BitrateBps    int               `yaml:"-"`
	BitrateKbs    int               `yaml:"bitrate,omitempty"`
	Options       map[string]string `yaml:"other-options,omitempty"`
}

// OutputSpec is one entry of ChannelSpec.Outputs.
type OutputSpec struct {
	Kind    OutputKind        `yaml:"-"`
	RawKind string            `yaml:"kind"`
	Host    string            `yaml:"host,omitempty"`
	Port    int               `yaml:"port,omitempty"`
	URI     string            `yaml:"uri,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// ProcessingSpec is ChannelSpec.Processing: the channel's own transcoder
// strategy selection, consulted only when the channel is not fully
// passthrough. Mirrors channel_manager.py's per-channel
// processing.get('type', 'cpu_only') lookup.
type ProcessingSpec struct {
	Type string `yaml:"type,omitempty"`
}

// ChannelSpec is the immutable-for-the-run declarative configuration of one
// channel, as defined in spec.md §3.
type ChannelSpec struct {
	Name        string          `yaml:"name"`
	Inputs      []InputSpec     `yaml:"inputs"`
	Transcoding TranscodingSpec `yaml:"transcoding"`
	Processing  ProcessingSpec  `yaml:"processing,omitempty"`
	Mux         MuxSpec         `yaml:"mux"`
	Outputs     []OutputSpec    `yaml:"outputs"`
	Transcoder  TranscoderKind  `yaml:"-"`
}

// NeedsTranscoder reports whether any non-passthrough video or audio stream
// requires a transcoder process, per spec.md §3's invariant:
// "transcoder_pid is null iff both video and audio are passthrough".
func (c *ChannelSpec) NeedsTranscoder() bool {
	return c.Transcoder != TranscoderNone
}

// InputAt returns the input at index, or an error if out of range.
func (c *ChannelSpec) InputAt(index int) (*InputSpec, error) {
	if index < 0 || index >= len(c.Inputs) {
		return nil, &InvalidSourceIndexError{Channel: c.Name, Index: index, NumInputs: len(c.Inputs)}
	}
	return &c.Inputs[index], nil
}

// rawCatalog mirrors the top-level YAML document shape (config.yaml in the
// original), i.e. {"channels": {name: {...}}}.
type rawCatalog struct {
	Channels map[string]*ChannelSpec `yaml:"channels"`
}

// Catalog is the typed, normalized view of the channel configuration file
// returned by Loader.Load. It is read-only after load — spec.md §4.1: "load
// ... once at startup; return a typed ChannelSpec".
type Catalog struct {
	channels map[string]*ChannelSpec
	names    []string
}

// Loader parses the declarative channel catalog.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load reads and normalizes the channel catalog at path.
func (l *Loader) Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading channel catalog %s: %w", path, err)
	}

	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing channel catalog %s: %w", path, err)
	}

	cat := &Catalog{channels: make(map[string]*ChannelSpec, len(raw.Channels))}
	for name, spec := range raw.Channels {
		spec.Name = name
		if err := normalize(spec); err != nil {
			return nil, &ConfigError{Channel: name, Msg: err.Error()}
		}
		cat.channels[name] = spec
		cat.names = append(cat.names, name)
	}
	return cat, nil
}

// Channel returns the named channel's spec, or a ConfigError if it does not
// exist, per spec.md §4.1: "Fails with ConfigError when the referenced
// channel is absent".
func (c *Catalog) Channel(name string) (*ChannelSpec, error) {
	spec, ok := c.channels[name]
	if !ok {
		return nil, &ConfigError{Channel: name, Msg: "channel not found in configuration"}
	}
	return spec, nil
}

// Channels returns every configured channel name, for /list.
func (c *Catalog) Channels() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// normalize classifies enumerations and coerces numeric fields in place,
// matching config.py's validate_plugin_settings / get_transcoding_settings
// and channel_manager.py's _detect_*_type helpers.
func normalize(spec *ChannelSpec) error {
	if len(spec.Inputs) == 0 {
		return fmt.Errorf("channel %q: at least one input is required", spec.Name)
	}
	if len(spec.Outputs) == 0 {
		return fmt.Errorf("channel %q: at least one output is required", spec.Name)
	}
	if spec.Mux.ProgramNumber == 0 {
		return fmt.Errorf("channel %q: mux.program-number is required", spec.Name)
	}

	for i := range spec.Inputs {
		in := &spec.Inputs[i]
		in.Kind = classifyInputKind(in.RawKind)
		if in.Priority == 0 {
			in.Priority = 50 // default priority, per channel_monitor.py's input_config.get('priority', 50)
		}
	}

	for i := range spec.Outputs {
		out := &spec.Outputs[i]
		out.Kind = classifyOutputKind(out.RawKind)
	}

	videoPassthrough := true
	for i := range spec.Transcoding.Video.Streams {
		vs := &spec.Transcoding.Video.Streams[i]
		vs.BitrateBps = vs.BitrateKbs * 1000 // canonical unit: see SPEC_FULL.md §3
		if vs.Resolution != nil {
			vs.Width, vs.Height = vs.Resolution.Width, vs.Resolution.Height
		}
		if vs.Codec != "passthrough" {
			videoPassthrough = false
		}
	}
	if len(spec.Transcoding.Video.Streams) == 0 {
		videoPassthrough = true
	}

	audioPassthrough := spec.Transcoding.Audio.Codec == "" || spec.Transcoding.Audio.Codec == "passthrough"
	spec.Transcoding.Audio.BitrateBps = spec.Transcoding.Audio.BitrateKbs * 1000

	spec.Mux.BitrateBps = spec.Mux.BitrateKbs * 1000
	var err error
	spec.Mux.VideoPIDs, err = parseHexList(spec.Mux.RawVideoPIDs)
	if err != nil {
		return fmt.Errorf("channel %q: mux.video-pids: %w", spec.Name, err)
	}
	if spec.Mux.RawAudioPID != "" {
		spec.Mux.AudioPID, err = parseHex(spec.Mux.RawAudioPID)
		if err != nil {
			return fmt.Errorf("channel %q: mux.audio-pid: %w", spec.Name, err)
		}
	}

	if videoPassthrough && audioPassthrough {
		spec.Transcoder = TranscoderNone
	} else {
		spec.Transcoder = classifyTranscoderKind(spec.Processing.Type)
	}

	return nil
}

func classifyInputKind(raw string) InputKind {
	switch strings.ToLower(raw) {
	case "reliable-stream", "srtsrc", "srt":
		return InputReliableStream
	case "datagram", "udpsrc", "udp":
		return InputDatagram
	case "segmented-http", "hlssrc", "hls":
		return InputSegmentedHTTP
	default:
		return InputUnknown
	}
}

func classifyOutputKind(raw string) OutputKind {
	switch strings.ToLower(raw) {
	case "datagram", "udpsink", "udp":
		return OutputDatagram
	case "reliable-stream", "srtsink", "srt":
		return OutputReliableStream
	case "rist", "ristsink":
		return OutputRIST
	case "rtmp", "rtmpsink":
		return OutputRTMP
	case "tcp", "tcpserversink":
		return OutputTCP
	case "segmented-http", "hlssink", "hls":
		return OutputSegmentedHTTP
	default:
		return OutputUnknown
	}
}

// classifyTranscoderKind maps a channel's own processing.type (empty
// defaults to cpu_only) to a TranscoderKind, matching
// _detect_transcoder_type's per-channel processing.get('type', 'cpu_only')
// lookup — this is never derived from a catalog-wide default.
func classifyTranscoderKind(raw string) TranscoderKind {
	switch strings.ToLower(raw) {
	case "cpu_only", "cpu", "":
		return TranscoderCPU
	case "gpu_only", "gpu":
		return TranscoderGPU
	case "hybrid_cpu_decode":
		return TranscoderHybridCPUDecode
	case "hybrid_gpu_decode":
		return TranscoderHybridGPUDecode
	default:
		return TranscoderCPU
	}
}

// parseHex parses a "0x####"-style string into an int, matching
// config.py's int(settings['video-pid'], 16) conversion.
func parseHex(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex stream id %q: %w", s, err)
	}
	return int(v), nil
}

func parseHexList(raw []string) ([]int, error) {
	out := make([]int, 0, len(raw))
	for _, r := range raw {
		v, err := parseHex(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatPID renders a stream id as a canonical "0x####" string (zero-padded
// to four hex digits), matching input_handler.py's format_pid helper.
func FormatPID(pid int) string {
	return fmt.Sprintf("0x%04x", pid)
}
