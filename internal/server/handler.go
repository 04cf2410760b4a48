// Package server provides the HTTP and WebSocket monitor for a recording session.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// DecodeAndValidate decodes the command data into data and validates it.
// Returns true if successful, false if an error response was already sent.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}

	if err := types.Validate(data); err != nil {
		SendValidationErrors(send, cmd, err)
		return false
	}

	return true
}

// HandleCommand decodes, validates, and processes a command with automatic response handling.
// The process function returns the response data or an error.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	result, err := process(&data)
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		SendValidationErrors(send, cmd, verr)
		return
	case err != nil:
		SendError(send, cmd, err)
		return
	}

	SendSuccess(send, cmd, result)
}

// HandleActionAsync runs a command action asynchronously with panic recovery.
// Use it for actions that wait on the network.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd, errors.New("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, result)
	}()
}

// --- Response helpers ---

// commandResult is the response envelope for a command.
type commandResult struct {
	types.WSCommandResult
	ID string `json:"id,omitempty"`
}

// SendSuccess sends a success response for a command.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	trySend(send, cmd.Type, commandResult{
		WSCommandResult: types.WSCommandResult{
			Type:    cmd.Type + "_result",
			Success: true,
			Data:    data,
		},
		ID: cmd.ID,
	})
}

// SendError sends an error response for a command.
func SendError(send chan<- any, cmd WSCommand, err error) {
	trySend(send, cmd.Type, commandResult{
		WSCommandResult: types.WSCommandResult{
			Type:    cmd.Type + "_result",
			Message: err.Error(),
		},
		ID: cmd.ID,
	})
}

// SendValidationErrors sends the field errors of a failed validation.
func SendValidationErrors(send chan<- any, cmd WSCommand, err error) {
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		verr = types.ToValidationError(err)
	}

	trySend(send, cmd.Type, commandResult{
		WSCommandResult: types.WSCommandResult{
			Type:    cmd.Type + "_result",
			Error:   verr,
			Message: verr.Error(),
		},
		ID: cmd.ID,
	})
}

// trySend attempts to send a message, logging a warning if the channel is full.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full or closed", "type", cmdType)
	}
}
