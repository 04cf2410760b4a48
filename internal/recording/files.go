package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultFilePrefix is the file name prefix for recordings created by a session.
const DefaultFilePrefix = "recording"

// FileTimeFormat is the timestamp layout embedded in recording file names.
const FileTimeFormat = "2006-01-02-15-04-05"

// generateFilename creates a file name for a session started at t.
func generateFilename(prefix, sessionID string, t time.Time) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s-%s.wav", SanitizeFilename(prefix), t.Format(FileTimeFormat), short)
}

// createOutputFile creates a new recording file in dir.
func createOutputFile(dir, prefix, sessionID string, t time.Time) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // Recordings directory needs to be readable
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, generateFilename(prefix, sessionID, t))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // Recordings are shared with upload tooling
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

// sinkPath returns the path of a caller-supplied sink if it is a regular file.
func sinkPath(sink any) string {
	f, ok := sink.(*os.File)
	if !ok {
		return ""
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return f.Name()
}

// SanitizeFilename removes or replaces characters that are invalid in filenames.
func SanitizeFilename(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			result = append(result, c)
		} else if c == ' ' {
			result = append(result, '-')
		}
	}
	if len(result) == 0 {
		return DefaultFilePrefix
	}
	return string(result)
}
