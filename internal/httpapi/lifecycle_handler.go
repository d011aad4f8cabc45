package httpapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/lifecycle"
)

// LifecycleHandler exposes the Channel Lifecycle Manager's start, stop,
// restart, status, and list operations, grounded on channel_manager.py's
// Flask routes of the same names.
type LifecycleHandler struct {
	manager *lifecycle.Manager
	logger  *slog.Logger
}

// NewLifecycleHandler constructs a LifecycleHandler wrapping manager.
func NewLifecycleHandler(manager *lifecycle.Manager, logger *slog.Logger) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleHandler{manager: manager, logger: logger}
}

// Register attaches the lifecycle operations to api.
func (h *LifecycleHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startChannel",
		Method:      "POST",
		Path:        "/api/v1/channels/{channel}/start",
		Summary:     "Start a channel",
		Tags:        []string{"Lifecycle"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopChannel",
		Method:      "POST",
		Path:        "/api/v1/channels/{channel}/stop",
		Summary:     "Stop a channel",
		Tags:        []string{"Lifecycle"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "restartChannel",
		Method:      "POST",
		Path:        "/api/v1/channels/{channel}/restart",
		Summary:     "Restart a channel, optionally on a different input",
		Tags:        []string{"Lifecycle"},
	}, h.Restart)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelStatus",
		Method:      "GET",
		Path:        "/api/v1/channels/{channel}/status",
		Summary:     "Get a channel's run status",
		Tags:        []string{"Lifecycle"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "getAllChannelsStatus",
		Method:      "GET",
		Path:        "/api/v1/channels/status",
		Summary:     "Get every channel's run status",
		Tags:        []string{"Lifecycle"},
	}, h.AllStatus)

	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List configured channels with their classification and running state",
		Tags:        []string{"Lifecycle"},
	}, h.List)
}

// StartInput is the request for starting a channel.
type StartInput struct {
	Channel string `path:"channel"`
	Body    struct {
		SourceIndex int `json:"source_index" doc:"Index into the channel's configured inputs to start from" default:"0"`
	}
}

// EmptyOutput is the output for operations with no response body.
type EmptyOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// Start starts a channel on the given source index.
func (h *LifecycleHandler) Start(ctx context.Context, input *StartInput) (*EmptyOutput, error) {
	if err := h.manager.Start(ctx, input.Channel, input.Body.SourceIndex); err != nil {
		return nil, translateError(input.Channel, err)
	}
	return &EmptyOutput{Body: struct {
		Success bool `json:"success"`
	}{Success: true}}, nil
}

// ChannelPathInput is the common input shape for channel-scoped operations
// with no body.
type ChannelPathInput struct {
	Channel string `path:"channel"`
}

// Stop stops a running channel.
func (h *LifecycleHandler) Stop(ctx context.Context, input *ChannelPathInput) (*EmptyOutput, error) {
	if err := h.manager.Stop(ctx, input.Channel); err != nil {
		return nil, translateError(input.Channel, err)
	}
	return &EmptyOutput{Body: struct {
		Success bool `json:"success"`
	}{Success: true}}, nil
}

// RestartInput is the request for restarting a channel.
type RestartInput struct {
	Channel string `path:"channel"`
	Body    struct {
		SourceIndex int `json:"source_index" doc:"Index into the channel's configured inputs to restart on" default:"0"`
	}
}

// Restart stops and restarts a channel, optionally on a different input.
func (h *LifecycleHandler) Restart(ctx context.Context, input *RestartInput) (*EmptyOutput, error) {
	if err := h.manager.Restart(ctx, input.Channel, input.Body.SourceIndex); err != nil {
		return nil, translateError(input.Channel, err)
	}
	return &EmptyOutput{Body: struct {
		Success bool `json:"success"`
	}{Success: true}}, nil
}

// StatusOutput is the response for getChannelStatus.
type StatusOutput struct {
	Body lifecycle.ChannelStatus
}

// Status returns a channel's current run status.
func (h *LifecycleHandler) Status(ctx context.Context, input *ChannelPathInput) (*StatusOutput, error) {
	status, err := h.manager.Status(input.Channel)
	if err != nil {
		return nil, translateError(input.Channel, err)
	}
	return &StatusOutput{Body: status}, nil
}

// StatusAllOutput is the response for getAllChannelsStatus.
type StatusAllOutput struct {
	Body struct {
		Status   string                             `json:"status"`
		Channels map[string]lifecycle.ChannelStatus `json:"channels"`
	}
}

// AllStatus returns every known channel's current run status — the
// optional-channel branch of spec.md's status(channel?) operation.
func (h *LifecycleHandler) AllStatus(ctx context.Context, input *struct{}) (*StatusAllOutput, error) {
	out := &StatusAllOutput{}
	out.Body.Status = "success"
	out.Body.Channels = h.manager.StatusAll()
	return out, nil
}

// ListOutput is the response for listChannels.
type ListOutput struct {
	Body struct {
		Channels map[string]lifecycle.ChannelListEntry `json:"channels"`
	}
}

// List returns every channel known to the catalog, with its classification
// and running state.
func (h *LifecycleHandler) List(ctx context.Context, input *struct{}) (*ListOutput, error) {
	out := &ListOutput{}
	out.Body.Channels = h.manager.List()
	return out, nil
}

// translateError maps lifecycle/config sentinel errors onto the
// appropriate huma HTTP status, matching channel_manager.py's
// 404/409/400 Flask error responses.
func translateError(channel string, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownChannel):
		return huma.Error404NotFound("unknown channel: " + channel)
	case errors.Is(err, lifecycle.ErrAlreadyRunning):
		return huma.Error409Conflict("channel already running: " + channel)
	case errors.Is(err, lifecycle.ErrNotRunning):
		return huma.Error409Conflict("channel not running: " + channel)
	default:
		var idxErr *config.InvalidSourceIndexError
		if errors.As(err, &idxErr) {
			return huma.Error400BadRequest(idxErr.Error())
		}
		return huma.Error500InternalServerError("channel operation failed: " + err.Error())
	}
}
