package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookSink struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	status   int
}

func newWebhookServer(t *testing.T, status int) (*httptest.Server, *webhookSink) {
	t.Helper()
	sink := &webhookSink{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sink.mu.Lock()
		sink.payloads = append(sink.payloads, p)
		sink.mu.Unlock()
		w.WriteHeader(sink.status)
	}))
	t.Cleanup(srv.Close)
	return srv, sink
}

func (s *webhookSink) received() []WebhookPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WebhookPayload(nil), s.payloads...)
}

func TestSessionFinishedWebhook(t *testing.T) {
	srv, sink := newWebhookServer(t, http.StatusNoContent)
	n := NewNotifier(srv.URL)
	n.now = func() time.Time { return time.Date(2025, 1, 15, 14, 0, 0, 0, time.FixedZone("CET", 3600)) }

	n.SessionFinished(recording.Result{
		SessionID:     "abc",
		Path:          "/tmp/recording.wav",
		AudioDetected: true,
		Reason:        recording.ReasonSilenceTimeout,
		BytesWritten:  88200,
		Duration:      1500 * time.Millisecond,
	})
	n.Wait()

	got := sink.received()
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, EventSessionFinished, p.Event)
	assert.Equal(t, AppName, p.App)
	assert.Equal(t, "abc", p.SessionID)
	assert.Equal(t, "/tmp/recording.wav", p.Path)
	assert.Equal(t, "silence_timeout", p.Reason)
	assert.True(t, p.AudioDetected)
	assert.Equal(t, int64(88200), p.BytesWritten)
	assert.Equal(t, int64(1500), p.DurationMs)
	assert.Equal(t, "2025-01-15T13:00:00Z", p.Timestamp)
}

func TestSessionErrorWebhook(t *testing.T) {
	srv, sink := newWebhookServer(t, http.StatusOK)
	n := NewNotifier(srv.URL)

	n.SessionError("abc", errors.New("disk full"))
	n.Wait()

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, EventSessionError, got[0].Event)
	assert.Equal(t, "disk full", got[0].Error)
}

func TestSendTestReportsStatus(t *testing.T) {
	srv, _ := newWebhookServer(t, http.StatusInternalServerError)
	n := NewNotifier(srv.URL)

	err := n.SendTest(context.Background())
	assert.ErrorContains(t, err, "webhook returned status 500")
}

func TestDisabledNotifier(t *testing.T) {
	n := NewNotifier("")
	assert.False(t, n.Enabled())
	assert.ErrorIs(t, n.SendTest(context.Background()), ErrNotConfigured)

	n.SessionFinished(recording.Result{SessionID: "abc"})
	n.Wait()
}
