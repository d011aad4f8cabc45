package httpapi

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rivermedia/chancore/internal/handoff"
	"github.com/rivermedia/chancore/internal/probe"
	"github.com/rivermedia/chancore/internal/statestore/metrics"
)

// StatsHandler exposes the Health & Failover Supervisor's read-only stats,
// metrics, stream-info, and probe operations, grounded on stats_api.py.
type StatsHandler struct {
	store      *metrics.Store
	handoffDir string
	logger     *slog.Logger
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(store *metrics.Store, handoffDir string, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{store: store, handoffDir: handoffDir, logger: logger}
}

// Register attaches the stats operations to api.
func (h *StatsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLiveMetrics",
		Method:      "GET",
		Path:        "/api/v1/channels/{channel}/metrics/{statType}/live",
		Summary:     "Get the live (unaggregated) window of samples for a stat type",
		Tags:        []string{"Stats"},
	}, h.LiveMetrics)

	huma.Register(api, huma.Operation{
		OperationID: "getHistoricMetrics",
		Method:      "GET",
		Path:        "/api/v1/channels/{channel}/metrics/{statType}/historic",
		Summary:     "Get aggregated historic samples for a stat type",
		Tags:        []string{"Stats"},
	}, h.HistoricMetrics)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamInfo",
		Method:      "GET",
		Path:        "/api/v1/channels/{channel}/stream-info/{stage}",
		Summary:     "Get the published handoff descriptor for a pipeline stage",
		Description: "Stage is one of: muxed, transcoded, output",
		Tags:        []string{"Stats"},
	}, h.StreamInfo)

	huma.Register(api, huma.Operation{
		OperationID: "probeInput",
		Method:      "GET",
		Path:        "/api/v1/probe",
		Summary:     "Probe a source URI with ffprobe",
		Tags:        []string{"Stats"},
	}, h.Probe)
}

// MetricsPathInput is the shared path-param shape for metrics endpoints.
type MetricsPathInput struct {
	Channel  string `path:"channel"`
	StatType string `path:"statType"`
}

// MetricsOutput is the response body for both live and historic metrics.
type MetricsOutput struct {
	Body struct {
		Samples []metrics.Sample `json:"samples"`
	}
}

// LiveMetrics returns the live (unaggregated) window of samples.
func (h *StatsHandler) LiveMetrics(ctx context.Context, input *MetricsPathInput) (*MetricsOutput, error) {
	samples, err := h.store.LiveSamples(ctx, input.Channel, input.StatType)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading live samples: " + err.Error())
	}
	out := &MetricsOutput{}
	out.Body.Samples = samples
	return out, nil
}

// HistoricMetrics returns aggregated historic samples.
func (h *StatsHandler) HistoricMetrics(ctx context.Context, input *MetricsPathInput) (*MetricsOutput, error) {
	samples, err := h.store.HistoricSamples(ctx, input.Channel, input.StatType)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading historic samples: " + err.Error())
	}
	out := &MetricsOutput{}
	out.Body.Samples = samples
	return out, nil
}

// StreamInfoInput is the request for fetching a stage's handoff descriptor.
type StreamInfoInput struct {
	Channel string `path:"channel"`
	Stage   string `path:"stage" enum:"muxed,transcoded,output"`
}

// StreamInfoOutput is the response for getStreamInfo.
type StreamInfoOutput struct {
	Body handoff.Descriptor
}

// StreamInfo returns the handoff descriptor currently published for a
// pipeline stage, exposing the codec/PID discovery record that downstream
// roles themselves consume.
func (h *StatsHandler) StreamInfo(ctx context.Context, input *StreamInfoInput) (*StreamInfoOutput, error) {
	descPath := handoff.DescriptorPath(h.handoffDir, input.Channel, input.Stage)
	desc, err := handoff.Read(descPath)
	if err != nil {
		return nil, huma.Error404NotFound("no published stream info for " + input.Channel + "/" + input.Stage)
	}
	return &StreamInfoOutput{Body: *desc}, nil
}

// ProbeInput is the request for probing a source URI.
type ProbeInput struct {
	URI string `query:"uri" required:"true"`
}

// ProbeOutput is the response for probeInput.
type ProbeOutput struct {
	Body struct {
		Reachable bool         `json:"reachable"`
		Result    *probe.Result `json:"result,omitempty"`
	}
}

// Probe runs ffprobe against the given URI and reports reachability.
func (h *StatsHandler) Probe(ctx context.Context, input *ProbeInput) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	result, err := probe.Probe(ctx, input.URI)
	if err != nil {
		out.Body.Reachable = false
		return out, nil
	}
	out.Body.Reachable = true
	out.Body.Result = result
	return out, nil
}
