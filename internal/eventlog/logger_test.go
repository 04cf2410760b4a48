package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoggerWritesSessionAndArchiveEvents(t *testing.T) {
	l := newTestLogger(t)
	fixed := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.LogSession(SessionStarted, "abc", "recording started", &SessionDetails{Path: "/tmp/a.wav"}))
	require.NoError(t, l.LogSession(SessionStopped, "abc", "", &SessionDetails{
		Path:          "/tmp/a.wav",
		Reason:        "silence_timeout",
		AudioDetected: true,
		BytesWritten:  88200,
		DurationMs:    1000,
	}))
	require.NoError(t, l.LogArchive(UploadCompleted, "", &ArchiveDetails{Filename: "a.wav", S3Key: "recordings/a.wav"}))

	events, more, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 3)

	assert.Equal(t, UploadCompleted, events[0].Type)
	assert.Equal(t, SessionStopped, events[1].Type)
	assert.Equal(t, SessionStarted, events[2].Type)
	assert.True(t, events[2].Timestamp.Equal(fixed))

	session, err := events[1].SessionDetails()
	require.NoError(t, err)
	assert.Equal(t, "silence_timeout", session.Reason)
	assert.True(t, session.AudioDetected)
	assert.Equal(t, int64(88200), session.BytesWritten)

	archive, err := events[0].ArchiveDetails()
	require.NoError(t, err)
	assert.Equal(t, "recordings/a.wav", archive.S3Key)

	_, err = events[0].SessionDetails()
	assert.Error(t, err)
}

func TestReadLastPaginationAndFilter(t *testing.T) {
	l := newTestLogger(t)

	for i := range 5 {
		require.NoError(t, l.LogSession(SessionStopped, fmt.Sprintf("s%d", i), "", &SessionDetails{}))
		require.NoError(t, l.LogArchive(UploadQueued, "", &ArchiveDetails{Filename: fmt.Sprintf("f%d", i)}))
	}

	events, more, err := ReadLast(l.Path(), 2, 0, FilterSession)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, events, 2)
	assert.Equal(t, "s4", events[0].SessionID)
	assert.Equal(t, "s3", events[1].SessionID)

	events, more, err = ReadLast(l.Path(), 2, 4, FilterSession)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, events, 1)
	assert.Equal(t, "s0", events[0].SessionID)

	events, _, err = ReadLast(l.Path(), 100, 0, FilterArchive)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestReadLastSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"ts":"2025-01-15T14:00:00Z","type":"session_started","session_id":"a"}
not json
{"ts":"2025-01-15T14:00:01Z","type":"session_stopped","session_id":"a"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	events, _, err := ReadLast(path, 10, 0, FilterAll)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, SessionStopped, events[0].Type)
}

func TestReadLastMissingFile(t *testing.T) {
	events, more, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, events)
}

func TestLogAfterClose(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.LogSession(SessionError, "x", "", nil), os.ErrClosed)
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    TypeFilter
		wantErr bool
	}{
		{"", FilterAll, false},
		{"all", FilterAll, false},
		{"Session", FilterSession, false},
		{" archive ", FilterArchive, false},
		{"stream", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
