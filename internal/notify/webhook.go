// Package notify delivers session notifications to a webhook endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("webhook URL not configured")

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event         string `json:"event"`
	App           string `json:"app"`
	SessionID     string `json:"session_id,omitempty"`
	Path          string `json:"path,omitempty"`
	Reason        string `json:"reason,omitempty"`
	AudioDetected bool   `json:"audio_detected,omitzero"`
	BytesWritten  int64  `json:"bytes_written,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Notifier posts session events to a webhook. Deliveries run in the
// background so session callbacks never block on the network.
type Notifier struct {
	url    string
	client *http.Client
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewNotifier returns a notifier for webhookURL. An empty URL disables delivery.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: webhookTimeout},
		now:    time.Now,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return util.IsConfigured(n.url)
}

// SessionFinished notifies the webhook of a finished session.
func (n *Notifier) SessionFinished(r recording.Result) {
	n.dispatch(&WebhookPayload{
		Event:         EventSessionFinished,
		SessionID:     r.SessionID,
		Path:          r.Path,
		Reason:        string(r.Reason),
		AudioDetected: r.AudioDetected,
		BytesWritten:  r.BytesWritten,
		DurationMs:    r.Duration.Milliseconds(),
	})
}

// SessionError notifies the webhook of an error reported by a session.
func (n *Notifier) SessionError(sessionID string, err error) {
	n.dispatch(&WebhookPayload{
		Event:     EventSessionError,
		SessionID: sessionID,
		Error:     err.Error(),
	})
}

// SendTest sends a test notification and waits for the response.
func (n *Notifier) SendTest(ctx context.Context) error {
	if !n.Enabled() {
		return ErrNotConfigured
	}
	return n.send(ctx, &WebhookPayload{
		Event:   EventTest,
		Message: "This is a test notification from " + AppName + " sent at " + util.HumanTime(),
	})
}

// Wait blocks until all background deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(payload *WebhookPayload) {
	if !n.Enabled() {
		return
	}
	n.wg.Go(func() {
		logNotifyResult(func() error {
			return n.send(context.Background(), payload)
		}, "webhook:"+payload.Event)
	})
}

// send delivers a notification to the configured webhook endpoint.
func (n *Notifier) send(ctx context.Context, payload *WebhookPayload) error {
	payload.App = AppName
	payload.Timestamp = n.now().UTC().Format(time.RFC3339)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("failed to close webhook response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
