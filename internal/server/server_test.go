package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/event"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource delivers buffers synchronously on the calling goroutine.
type fakeSource struct {
	format audio.Format
	active atomic.Bool

	buffers event.Registry[[]byte]
	actives event.Registry[bool]
	errs    event.Registry[error]
}

func (f *fakeSource) SampleRate() int    { return f.format.SampleRate }
func (f *fakeSource) ChannelCount() int  { return f.format.Channels }
func (f *fakeSource) BitsPerSample() int { return f.format.BitsPerSample }
func (f *fakeSource) Active() bool       { return f.active.Load() }
func (f *fakeSource) Flush()             {}

func (f *fakeSource) Start() error {
	if f.active.CompareAndSwap(false, true) {
		f.actives.Emit(true)
	}
	return nil
}

func (f *fakeSource) Stop() error {
	if f.active.CompareAndSwap(true, false) {
		f.actives.Emit(false)
	}
	return nil
}

func (f *fakeSource) OnBuffer(fn func([]byte)) func()      { return f.buffers.Add(fn) }
func (f *fakeSource) OnActiveChanged(fn func(bool)) func() { return f.actives.Add(fn) }
func (f *fakeSource) OnError(fn func(error)) func()        { return f.errs.Add(fn) }

// levelBuffer returns 100ms of mono 16-bit audio at the given normalized level.
func levelBuffer(level float64) []byte {
	const samples = 4410
	v := int16(level * 32767)
	buf := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

type harness struct {
	source  *fakeSource
	session *recording.Session
	server  *Server
	http    *httptest.Server
	dir     string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()
	src := &fakeSource{}
	session, err := recording.NewSession(recording.DefaultConfig(), func(f audio.Format) (audio.Source, error) {
		src.format = f
		return src, nil
	}, recording.WithOutputDir(dir))
	require.NoError(t, err)

	srv := New(session, opts...)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		_ = session.Cancel()
	})
	return &harness{source: src, session: session, server: srv, http: ts, dir: dir}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, h.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAPIStatusIdle(t *testing.T) {
	h := newHarness(t, WithVersion(func() types.VersionInfo { return types.VersionInfo{Current: "v1.2.3"} }))

	code, body := h.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, types.MessageStatus, body["type"])
	assert.Equal(t, "idle", body["session"].(map[string]any)["state"])
	assert.Equal(t, "v1.2.3", body["version"].(map[string]any)["current"])
	assert.InDelta(t, recording.DefaultSilenceThreshold, body["settings"].(map[string]any)["silence_threshold"], 1e-9)
	assert.NotContains(t, body, "archive")
}

func TestAPISessionLifecycle(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, code)
	id := body["session_id"].(string)
	path := body["path"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, h.dir, filepath.Dir(path))

	h.source.buffers.Emit(levelBuffer(0.5))

	code, body = h.do(t, http.MethodGet, "/api/levels", "")
	require.Equal(t, http.StatusOK, code)
	levels := body["levels"].(map[string]any)
	assert.InDelta(t, 0.5, levels["peak"], 0.01)
	assert.Equal(t, true, levels["audio_detected"])

	code, body = h.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	session := body["session"].(map[string]any)
	assert.Equal(t, "recording", session["state"])
	assert.Equal(t, path, session["path"])
	assert.Greater(t, session["bytes_written"], float64(0))

	code, _ = h.do(t, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = h.do(t, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, code)
	result := body["result"].(map[string]any)
	assert.Equal(t, id, result["session_id"])
	assert.Equal(t, path, result["path"])
	assert.Equal(t, "manual", result["reason"])
	assert.FileExists(t, path)
}

func TestAPIStopWithoutSession(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, recording.ErrNotRecording.Error(), body["error"])
}

func TestAPICancelRemovesSilentRecording(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, code)
	path := body["path"].(string)

	code, _ = h.do(t, http.MethodPost, "/api/session/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.NoFileExists(t, path)
	assert.Nil(t, h.server.monitor.Last(), "cancel does not publish a result")
}

func TestAPIUpdateSettings(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPut, "/api/settings", `{"silence_threshold": 0.4, "total_timeout_ms": 60000}`)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0.4, body["silence_threshold"], 1e-9)
	assert.Equal(t, time.Minute, h.session.Config().TotalTimeout)
	assert.Equal(t, recording.DefaultSilenceTimeout, h.session.Config().SilenceTimeout)

	code, body = h.do(t, http.MethodPut, "/api/settings", `{"channels": 3}`)
	require.Equal(t, http.StatusBadRequest, code)
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "channels", errs[0].(map[string]any)["field"])

	code, _ = h.do(t, http.MethodPut, "/api/settings", `{"channels":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPIUpdateSettingsWhileRecording(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(t, http.MethodPut, "/api/settings", `{"silence_threshold": 0.4}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, recording.ErrAlreadyRecording.Error(), body["error"])
}

func TestAPIEvents(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t)
		code, _ := h.do(t, http.MethodGet, "/api/events", "")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("filtered page", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "events.jsonl")
		logger, err := eventlog.NewLogger(logPath)
		require.NoError(t, err)
		require.NoError(t, logger.LogSession(eventlog.SessionStarted, "s1", "started", nil))
		require.NoError(t, logger.LogArchive(eventlog.UploadQueued, "queued", &eventlog.ArchiveDetails{Filename: "a.wav"}))
		require.NoError(t, logger.LogSession(eventlog.SessionStopped, "s1", "stopped", &eventlog.SessionDetails{Reason: "manual"}))
		require.NoError(t, logger.Close())

		h := newHarness(t, WithEventLog(logPath))

		code, body := h.do(t, http.MethodGet, "/api/events?filter=session&limit=1", "")
		require.Equal(t, http.StatusOK, code)
		events := body["events"].([]any)
		require.Len(t, events, 1)
		assert.Equal(t, string(eventlog.SessionStopped), events[0].(map[string]any)["type"])
		assert.Equal(t, true, body["has_more"])

		code, _ = h.do(t, http.MethodGet, "/api/events?filter=bogus", "")
		assert.Equal(t, http.StatusBadRequest, code)

		code, _ = h.do(t, http.MethodGet, "/api/events?limit=x", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/api/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "recorder.example.com", true},
		{"localhost", "http://localhost:3000", "recorder.example.com", true},
		{"loopback ip", "http://127.0.0.1:8080", "recorder.example.com", true},
		{"same host", "https://recorder.example.com", "recorder.example.com:8080", true},
		{"private network", "http://192.168.1.20", "recorder.example.com", true},
		{"foreign host", "https://evil.example.net", "recorder.example.com", false},
		{"public ip", "http://8.8.8.8", "recorder.example.com", false},
		{"invalid", "::not a url", "recorder.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r))
		})
	}
}
