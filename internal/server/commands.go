package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// testTimeout bounds connection tests started from a client.
const testTimeout = 30 * time.Second

// Sentinel errors for commands.
var (
	// ErrUnknownCommand is returned for command types the server does not handle.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNotConfigured is returned when a command needs a feature that is not configured.
	ErrNotConfigured = errors.New("not configured")
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StartResponse is returned when a session starts.
type StartResponse struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path,omitempty"`
}

// EventsResponse is returned for an event log query.
type EventsResponse struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	session      Recorder
	eventLogPath string
	testWebhook  func(context.Context) error
	testArchive  func(context.Context) error
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/start", "notifications/webhook/test")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch {
	case namespace == "session":
		h.handleSession(action, cmd, send, triggerStatusUpdate)
	case namespace == "settings":
		h.handleSettings(action, cmd, send)
	case namespace == "events" && action == "list":
		h.handleEvents(cmd, send)
	case namespace == "notifications" && action == "webhook" && subaction == "test":
		h.handleTest(cmd, send, h.testWebhook)
	case namespace == "archive" && action == "test":
		h.handleTest(cmd, send, h.testArchive)
	case namespace == "status" && action == "get":
		// Status is sent automatically, but explicit get triggers an immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd, ErrUnknownCommand)
		return
	}

	triggerStatusUpdate()
}

// handleSession routes session/* commands
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch action {
	case "start":
		resp, err := h.startSession()
		if err != nil {
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, resp)
	case "stop", "cancel":
		// Stopping waits for the capture source to wind down.
		HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStatusUpdate()
			if action == "cancel" {
				return nil, h.session.Cancel()
			}
			return nil, h.session.Stop()
		})
	default:
		slog.Warn("unknown session action", "action", action)
		SendError(send, cmd, ErrUnknownCommand)
	}
}

// startSession starts a recording to a new file.
func (h *CommandHandler) startSession() (*StartResponse, error) {
	if _, err := h.session.Start(nil); err != nil {
		return nil, err
	}
	resp := &StartResponse{SessionID: h.session.SessionID()}
	if path, ok := h.session.ActivePath(); ok {
		resp.Path = path
	}
	return resp, nil
}

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd, recordingSettings(h.session.Config()))
	case "update":
		HandleCommand(cmd, send, h.updateSettings)
	default:
		slog.Warn("unknown settings action", "action", action)
		SendError(send, cmd, ErrUnknownCommand)
	}
}

// updateSettings applies a settings update to the session.
func (h *CommandHandler) updateSettings(req *SettingsUpdateRequest) (any, error) {
	cfg := req.Apply(h.session.Config())
	if err := h.session.SetConfig(cfg); err != nil {
		return nil, err
	}
	slog.Info("recording settings updated",
		"silence_threshold", cfg.SilenceThreshold,
		"silence_timeout", cfg.SilenceTimeout,
		"total_timeout", cfg.TotalTimeout)
	return recordingSettings(cfg), nil
}

// handleEvents returns a page of the session event log.
func (h *CommandHandler) handleEvents(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *EventsRequest) (any, error) {
		return h.readEvents(req)
	})
}

func (h *CommandHandler) readEvents(req *EventsRequest) (*EventsResponse, error) {
	if h.eventLogPath == "" {
		return nil, ErrNotConfigured
	}
	filter, err := eventlog.ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultEventsLimit
	}
	events, more, err := eventlog.ReadLast(h.eventLogPath, limit, req.Offset, filter)
	if err != nil {
		return nil, err
	}
	return &EventsResponse{Events: events, HasMore: more}, nil
}

// handleTest runs a connection test in the background.
func (h *CommandHandler) handleTest(cmd WSCommand, send chan<- any, test func(context.Context) error) {
	if test == nil {
		SendError(send, cmd, ErrNotConfigured)
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		return nil, test(ctx)
	})
}

// recordingSettings converts a session configuration for clients.
func recordingSettings(cfg recording.Config) types.RecordingSettings {
	return types.RecordingSettings{
		SilenceThreshold:   cfg.SilenceThreshold,
		SilenceTimeoutMs:   cfg.SilenceTimeout.Milliseconds(),
		TotalTimeoutMs:     cfg.TotalTimeout.Milliseconds(),
		StopOnSilence:      cfg.StopOnSilence,
		StopOnTotalTimeout: cfg.StopOnTotalTimeout,
		SampleRate:         cfg.SampleRate,
		Channels:           cfg.Channels,
		BitsPerSample:      cfg.BitsPerSample,
	}
}
