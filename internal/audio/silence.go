package audio

import (
	"sync"
	"time"
)

// DefaultStartupGuard is how long digital-silence buffers are ignored at session start.
const DefaultStartupGuard = 500 * time.Millisecond

// Trigger identifies why the tracker asks for a stop.
type Trigger string

const (
	// TriggerNone means recording continues.
	TriggerNone Trigger = ""
	// TriggerSilence means the silence timeout elapsed.
	TriggerSilence Trigger = "silence_timeout"
	// TriggerTotal means the total recording budget elapsed.
	TriggerTotal Trigger = "total_timeout"
)

// SilenceConfig holds the thresholds for the stop decision.
type SilenceConfig struct {
	Threshold          float64       // normalized level a buffer must exceed to count as audio
	Timeout            time.Duration // silence after audio before stopping
	TotalTimeout       time.Duration // overall session budget
	StopOnSilence      bool
	StopOnTotalTimeout bool
	StartupGuard       time.Duration // window in which digital silence is discarded
}

// SilenceEvent is the result of feeding one buffer level to the tracker.
type SilenceEvent struct {
	Level           float64
	Discarded       bool          // buffer ignored for detection (startup digital silence)
	AudioDetected   bool          // audio has exceeded the threshold this session
	SilenceDuration time.Duration // current silence run, 0 while audio is present
	Trigger         Trigger
}

// Stop reports whether the event asks the session to stop.
func (e SilenceEvent) Stop() bool {
	return e.Trigger != TriggerNone
}

// SilenceTracker decides when a recording session should stop.
// It is safe for concurrent use.
type SilenceTracker struct {
	mu           sync.Mutex
	cfg          SilenceConfig
	audioFound   bool
	silenceStart time.Time // zero while audio is above threshold
	sessionStart time.Time // zero until the session is marked started
}

// NewSilenceTracker creates a tracker with the given configuration.
func NewSilenceTracker(cfg SilenceConfig) *SilenceTracker {
	return &SilenceTracker{cfg: cfg}
}

// MarkStarted records the session start time used by the total timeout and startup guard.
func (t *SilenceTracker) MarkStarted(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionStart = now
}

// Update feeds the level of one buffer observed at now and returns the decision.
func (t *SilenceTracker) Update(level float64, now time.Time) SilenceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := SilenceEvent{Level: level}

	switch {
	case level < NearSilenceLevel && !t.audioFound && t.inStartupGuard(now):
		event.Discarded = true

	case level > t.cfg.Threshold:
		t.audioFound = true
		t.silenceStart = time.Time{}

	default:
		if t.silenceStart.IsZero() {
			t.silenceStart = now
		} else if t.cfg.StopOnSilence && now.Sub(t.silenceStart) > t.cfg.Timeout {
			event.AudioDetected = t.audioFound
			event.SilenceDuration = now.Sub(t.silenceStart)
			event.Trigger = TriggerSilence
			return event
		}
	}

	event.AudioDetected = t.audioFound
	if !t.silenceStart.IsZero() {
		event.SilenceDuration = now.Sub(t.silenceStart)
	}

	if t.cfg.StopOnTotalTimeout && !t.sessionStart.IsZero() && now.Sub(t.sessionStart) > t.cfg.TotalTimeout {
		event.Trigger = TriggerTotal
	}

	return event
}

// inStartupGuard reports whether now falls inside the startup window. Must be called with lock held.
func (t *SilenceTracker) inStartupGuard(now time.Time) bool {
	if t.sessionStart.IsZero() {
		return true
	}
	return now.Sub(t.sessionStart) < t.cfg.StartupGuard
}

// AudioDetected reports whether any buffer exceeded the threshold since the last reset.
func (t *SilenceTracker) AudioDetected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioFound
}

// Reset clears all tracking state.
func (t *SilenceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audioFound = false
	t.silenceStart = time.Time{}
	t.sessionStart = time.Time{}
}
