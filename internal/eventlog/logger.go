// Package eventlog provides event logging for the recorder.
// It captures session events (started, stopped, error) and archive events
// (upload, cleanup) in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
	SessionError   EventType = "session_error"
)

// Archive event types.
const (
	UploadQueued     EventType = "upload_queued"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
	UploadRetry      EventType = "upload_retry"
	UploadAbandoned  EventType = "upload_abandoned"
	CleanupCompleted EventType = "cleanup_completed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   string          `json:"msg,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	Path          string `json:"path,omitempty"`
	Reason        string `json:"reason,omitempty"`
	AudioDetected bool   `json:"audio_detected,omitzero"`
	BytesWritten  int64  `json:"bytes_written,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ArchiveDetails contains upload and cleanup event details.
type ArchiveDetails struct {
	Filename     string `json:"filename,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	Error        string `json:"error,omitempty"`
	RetryCount   int    `json:"retry,omitempty"`
	FilesDeleted int    `json:"files_deleted,omitempty"`
	StorageType  string `json:"storage_type,omitempty"` // "local" or "s3" for cleanup
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
	now      func() time.Time
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "voicerecorder", "events.jsonl")
	default: // linux, darwin
		if dir, err := os.UserCacheDir(); err == nil {
			return filepath.Join(dir, "voicerecorder", "events.jsonl")
		}
		return filepath.Join(os.TempDir(), "voicerecorder", "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // Log directory needs to be readable
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // Log file is not secret
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
		now:      time.Now,
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a session event.
func (l *Logger) LogSession(eventType EventType, sessionID, message string, details *SessionDetails) error {
	return l.logDetails(eventType, sessionID, message, details)
}

// LogArchive logs an upload or cleanup event.
func (l *Logger) LogArchive(eventType EventType, message string, details *ArchiveDetails) error {
	return l.logDetails(eventType, "", message, details)
}

func (l *Logger) logDetails(eventType EventType, sessionID, message string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode event details: %w", err)
	}
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Message:   message,
		Details:   raw,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// SessionDetails decodes the details of a session event.
func (e *Event) SessionDetails() (*SessionDetails, error) {
	if !IsSessionEvent(e.Type) {
		return nil, fmt.Errorf("event %s is not a session event", e.Type)
	}
	var d SessionDetails
	if err := json.Unmarshal(e.Details, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ArchiveDetails decodes the details of an archive event.
func (e *Event) ArchiveDetails() (*ArchiveDetails, error) {
	if !IsArchiveEvent(e.Type) {
		return nil, fmt.Errorf("event %s is not an archive event", e.Type)
	}
	var d ArchiveDetails
	if err := json.Unmarshal(e.Details, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterArchive TypeFilter = "archive"
)

// ErrInvalidFilter is returned for an unknown filter name.
var ErrInvalidFilter = errors.New("invalid event filter")

// ParseFilter converts a filter name to a TypeFilter.
func ParseFilter(s string) (TypeFilter, error) {
	switch f := TypeFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterSession, FilterArchive:
		return f, nil
	case "all":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
}

func (f TypeFilter) matches(t EventType) bool {
	switch f {
	case FilterSession:
		return IsSessionEvent(t)
	case FilterArchive:
		return IsArchiveEvent(t)
	default:
		return true
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first,
// and whether more matching events exist.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal(lines[i], &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// IsSessionEvent returns true if the event type is a session event.
func IsSessionEvent(t EventType) bool {
	return t == SessionStarted || t == SessionStopped || t == SessionError
}

// IsArchiveEvent returns true if the event type is an upload or cleanup event.
func IsArchiveEvent(t EventType) bool {
	return t == UploadQueued || t == UploadCompleted || t == UploadFailed ||
		t == UploadRetry || t == UploadAbandoned || t == CleanupCompleted
}
