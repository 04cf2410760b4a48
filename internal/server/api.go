package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// API response helpers

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false after writing an error.
func parseJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if err := types.Validate(&v); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return v, false
	}
	return v, true
}

// statusFor maps a session error to an HTTP status code.
func statusFor(err error) int {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, recording.ErrAlreadyRecording), errors.Is(err, recording.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, ErrNotConfigured):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleAPIStatus returns the full recorder status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildStatus())
}

// handleAPILevels returns the current audio levels.
// GET /api/levels
func (s *Server) handleAPILevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.WSLevelsResponse{Type: types.MessageLevels, Levels: s.monitor.Levels()})
}

// handleAPIStart starts a recording to a new file.
// POST /api/session/start
func (s *Server) handleAPIStart(w http.ResponseWriter, _ *http.Request) {
	resp, err := s.commands.startSession()
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAPIStop stops the recording and returns its result.
// POST /api/session/stop
func (s *Server) handleAPIStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Stop(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "result": s.monitor.Last()})
}

// handleAPICancel cancels the recording.
// POST /api/session/cancel
func (s *Server) handleAPICancel(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Cancel(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleAPIGetSettings returns the recording settings.
// GET /api/settings
func (s *Server) handleAPIGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, recordingSettings(s.session.Config()))
}

// handleAPIUpdateSettings updates the recording settings for the next session.
// PUT /api/settings
func (s *Server) handleAPIUpdateSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[SettingsUpdateRequest](w, r)
	if !ok {
		return
	}

	settings, err := s.commands.updateSettings(&req)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, verr)
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleAPIEvents returns a page of the event log.
// GET /api/events?limit=50&offset=0&filter=session
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := EventsRequest{Filter: q.Get("filter")}
	for name, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}
	if err := types.Validate(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.commands.readEvents(&req)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, eventlog.ErrInvalidFilter) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
