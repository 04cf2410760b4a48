package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads messages until one of type msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg["type"] == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, cmd string, data string) {
	t.Helper()
	msg := WSCommand{Type: cmd, ID: "req-1"}
	if data != "" {
		msg.Data = json.RawMessage(data)
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebSocketSendsInitialStatus(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	var msg map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, types.MessageStatus, msg["type"])
	assert.Equal(t, "idle", msg["session"].(map[string]any)["state"])

	levels := readUntil(t, conn, types.MessageLevels)["levels"].(map[string]any)
	assert.InDelta(t, -60.0, levels["peak_db"], 1e-9)
}

func TestWebSocketSessionCommands(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	readUntil(t, conn, types.MessageStatus)

	send(t, conn, "session/start", "")
	result := readUntil(t, conn, "session/start_result")
	require.Equal(t, true, result["success"], result)
	assert.Equal(t, "req-1", result["id"])
	data := result["data"].(map[string]any)
	id := data["session_id"].(string)

	status := readUntil(t, conn, types.MessageStatus)
	assert.Equal(t, "recording", status["session"].(map[string]any)["state"])

	h.source.buffers.Emit(levelBuffer(0.8))
	detected := false
	for range 10 {
		levels := readUntil(t, conn, types.MessageLevels)["levels"].(map[string]any)
		if levels["audio_detected"] == true {
			detected = true
			break
		}
	}
	assert.True(t, detected, "levels report detected audio")

	send(t, conn, "session/stop", "")
	finished := readUntil(t, conn, types.MessageFinished)
	res := finished["result"].(map[string]any)
	assert.Equal(t, id, res["session_id"])
	assert.Equal(t, "manual", res["reason"])
	assert.Equal(t, true, res["audio_detected"])

	stopResult := readUntil(t, conn, "session/stop_result")
	assert.Equal(t, true, stopResult["success"])

	send(t, conn, "session/stop", "")
	stopResult = readUntil(t, conn, "session/stop_result")
	assert.Equal(t, true, stopResult["success"], "stop after completion returns the stored result")
}

func TestWebSocketSettingsValidation(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	readUntil(t, conn, types.MessageStatus)

	send(t, conn, "settings/update", `{"bits_per_sample": 24}`)
	result := readUntil(t, conn, "settings/update_result")
	assert.Equal(t, false, result["success"])
	errs := result["error"].(map[string]any)["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "bits_per_sample", errs[0].(map[string]any)["field"])

	send(t, conn, "settings/update", `{"bits_per_sample": 8}`)
	result = readUntil(t, conn, "settings/update_result")
	require.Equal(t, true, result["success"], result)
	assert.Equal(t, 8, h.session.Config().BitsPerSample)

	send(t, conn, "settings/get", "")
	result = readUntil(t, conn, "settings/get_result")
	assert.InDelta(t, 8, result["data"].(map[string]any)["bits_per_sample"], 0)
}

func TestWebSocketConnectionTests(t *testing.T) {
	h := newHarness(t,
		WithWebhookTest(func(context.Context) error { return nil }),
		WithArchiveTest(func(context.Context) error { return errors.New("access denied") }))
	conn := dial(t, h)
	readUntil(t, conn, types.MessageStatus)

	send(t, conn, "notifications/webhook/test", "")
	result := readUntil(t, conn, "notifications/webhook/test_result")
	assert.Equal(t, true, result["success"])

	send(t, conn, "archive/test", "")
	result = readUntil(t, conn, "archive/test_result")
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "access denied", result["message"])
}

func TestWebSocketUnknownCommand(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)
	readUntil(t, conn, types.MessageStatus)

	send(t, conn, "outputs/add", "")
	result := readUntil(t, conn, "outputs/add_result")
	assert.Equal(t, false, result["success"])
	assert.Equal(t, ErrUnknownCommand.Error(), result["message"])

	send(t, conn, "archive/test", "")
	result = readUntil(t, conn, "archive/test_result")
	assert.Equal(t, ErrNotConfigured.Error(), result["message"])
}
