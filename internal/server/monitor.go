package server

import (
	"sync"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Monitor follows a session and keeps the state shown to clients: the latest
// level with peak hold, and the most recent result. Finished and error
// notifications are fanned out to subscribed clients.
type Monitor struct {
	session Recorder
	holder  *audio.PeakHolder

	mu      sync.Mutex
	sample  recording.LevelSample
	held    float64
	last    *types.SessionResult
	clients map[chan<- any]struct{}

	cancels []func()
}

// NewMonitor subscribes to session and returns the monitor. Call Close to unsubscribe.
func NewMonitor(session Recorder) *Monitor {
	m := &Monitor{
		session: session,
		holder:  audio.NewPeakHolder(),
		clients: make(map[chan<- any]struct{}),
	}
	m.cancels = []func(){
		session.OnLevel(m.handleLevel),
		session.OnFinished(m.handleFinished),
		session.OnError(m.handleError),
	}
	return m
}

// Close removes the session subscriptions.
func (m *Monitor) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
}

// Subscribe registers send for finished and error messages.
func (m *Monitor) Subscribe(send chan<- any) (cancel func()) {
	m.mu.Lock()
	m.clients[send] = struct{}{}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.clients, send)
		m.mu.Unlock()
	}
}

// Levels returns the current audio levels. Levels read zero while the session is idle.
func (m *Monitor) Levels() types.AudioLevels {
	if m.session.State() != recording.StateRecording {
		return types.AudioLevels{PeakDB: audio.MinDB, HeldDB: audio.MinDB}
	}

	m.mu.Lock()
	sample, held := m.sample, m.held
	m.mu.Unlock()

	if sample.SessionID != m.session.SessionID() {
		return types.AudioLevels{PeakDB: audio.MinDB, HeldDB: audio.MinDB}
	}

	return types.AudioLevels{
		Peak:              sample.Level,
		PeakDB:            sample.DB,
		HeldDB:            audio.LevelToDB(held),
		Silence:           !sample.Discarded && sample.Level <= m.session.Config().SilenceThreshold,
		SilenceDurationMs: sample.SilenceDuration.Milliseconds(),
		AudioDetected:     sample.AudioDetected,
	}
}

// Last returns the most recent finished session, or nil.
func (m *Monitor) Last() *types.SessionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	last := *m.last
	return &last
}

func (m *Monitor) handleLevel(s recording.LevelSample) {
	m.mu.Lock()
	if s.SessionID != m.sample.SessionID {
		m.holder.Reset()
	}
	m.sample = s
	m.held = m.holder.Update(s.Level, s.At)
	m.mu.Unlock()
}

func (m *Monitor) handleFinished(r recording.Result) {
	result := sessionResult(r)

	m.mu.Lock()
	m.last = &result
	m.mu.Unlock()

	m.broadcast(types.WSFinishedResponse{Type: types.MessageFinished, Result: result})
}

func (m *Monitor) handleError(err error) {
	m.broadcast(types.WSErrorResponse{
		Type:      types.MessageError,
		SessionID: m.session.SessionID(),
		Error:     err.Error(),
	})
}

// broadcast queues msg for every client without blocking the session.
func (m *Monitor) broadcast(msg any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for send := range m.clients {
		trySend(send, "broadcast", msg)
	}
}

// sessionResult converts a session result for clients.
func sessionResult(r recording.Result) types.SessionResult {
	return types.SessionResult{
		SessionID:     r.SessionID,
		Path:          r.Path,
		Reason:        string(r.Reason),
		AudioDetected: r.AudioDetected,
		BytesWritten:  r.BytesWritten,
		DurationMs:    r.Duration.Milliseconds(),
	}
}
