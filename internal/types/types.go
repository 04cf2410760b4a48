// Package types provides shared type definitions used across the recorder.
package types

import (
	"time"
)

// StorageMode determines where recordings are saved.
type StorageMode string

// Supported storage modes.
const (
	StorageLocal StorageMode = "local" // Save only to local filesystem
	StorageS3    StorageMode = "s3"    // Upload only to S3
	StorageBoth  StorageMode = "both"  // Save locally AND upload to S3
)

// Message types sent to monitor clients.
const (
	MessageStatus   = "status"
	MessageLevels   = "levels"
	MessageFinished = "finished"
	MessageError    = "error"
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// LevelsInterval is the interval between level updates to monitor clients.
	LevelsInterval = 100 * time.Millisecond
	// StatusInterval is the interval between periodic status updates.
	StatusInterval = 3000 * time.Millisecond
)

// AudioLevels contains current audio level measurements.
type AudioLevels struct {
	Peak              float64 `json:"peak"`                         // Normalized peak of the last buffer
	PeakDB            float64 `json:"peak_db"`                      // Peak level in dBFS
	HeldDB            float64 `json:"held_db"`                      // Held peak in dBFS
	Silence           bool    `json:"silence,omitzero"`             // True if audio at or below threshold
	SilenceDurationMs int64   `json:"silence_duration_ms,omitzero"` // Silence duration in milliseconds
	AudioDetected     bool    `json:"audio_detected,omitzero"`      // Audio above threshold was seen this session
}

// SessionStatus contains the state of the recording session.
type SessionStatus struct {
	State        string    `json:"state"`                // idle, recording or finalizing
	SessionID    string    `json:"session_id,omitempty"` // Current or last session
	Path         string    `json:"path,omitempty"`       // File being recorded
	StartedAt    time.Time `json:"started_at,omitzero"`  // Start of the current session
	ElapsedMs    int64     `json:"elapsed_ms,omitzero"`  // Time since start
	BytesWritten int64     `json:"bytes_written"`        // Audio bytes written
}

// SessionResult describes a finished session.
type SessionResult struct {
	SessionID     string `json:"session_id"`
	Path          string `json:"path,omitempty"`
	Reason        string `json:"reason"`
	AudioDetected bool   `json:"audio_detected"`
	BytesWritten  int64  `json:"bytes_written"`
	DurationMs    int64  `json:"duration_ms"`
}

// RecordingSettings contains the active recording configuration.
type RecordingSettings struct {
	SilenceThreshold   float64 `json:"silence_threshold"`
	SilenceTimeoutMs   int64   `json:"silence_timeout_ms"`
	TotalTimeoutMs     int64   `json:"total_timeout_ms"`
	StopOnSilence      bool    `json:"stop_on_silence"`
	StopOnTotalTimeout bool    `json:"stop_on_total_timeout"`
	SampleRate         int     `json:"sample_rate"`
	Channels           int     `json:"channels"`
	BitsPerSample      int     `json:"bits_per_sample"`
}

// ArchiveStatus contains the state of the upload queue.
type ArchiveStatus struct {
	StorageMode StorageMode `json:"storage_mode"`
	Pending     int         `json:"pending"`
	Retrying    int         `json:"retrying"`
	LastUpload  time.Time   `json:"last_upload,omitzero"`
	LastError   string      `json:"last_error,omitempty"`
}

// WSStatusResponse is sent to clients with the full recorder status.
type WSStatusResponse struct {
	Type     string            `json:"type"`              // Message type identifier
	Session  SessionStatus     `json:"session"`           // Session state
	Last     *SessionResult    `json:"last,omitempty"`    // Most recent finished session
	Settings RecordingSettings `json:"settings"`          // Active configuration
	Archive  *ArchiveStatus    `json:"archive,omitempty"` // Upload status when archiving is enabled
	Platform string            `json:"platform"`          // Operating system platform
	Version  VersionInfo       `json:"version"`           // Version information
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type   string      `json:"type"`   // Message type identifier
	Levels AudioLevels `json:"levels"` // Current audio levels
}

// WSFinishedResponse is sent to clients when a session finishes.
type WSFinishedResponse struct {
	Type   string        `json:"type"`
	Result SessionResult `json:"result"`
}

// WSErrorResponse is sent to clients when a session reports an error.
type WSErrorResponse struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
