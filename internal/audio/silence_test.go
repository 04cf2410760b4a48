package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackerEpoch = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

func defaultTrackerConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:          0.2,
		Timeout:            2 * time.Second,
		TotalTimeout:       30 * time.Second,
		StopOnSilence:      true,
		StopOnTotalTimeout: true,
		StartupGuard:       DefaultStartupGuard,
	}
}

// feed sends level every step from start until the tracker triggers or until end.
func feed(tr *SilenceTracker, level float64, start, end time.Time, step time.Duration) (SilenceEvent, time.Time) {
	for now := start; !now.After(end); now = now.Add(step) {
		if ev := tr.Update(level, now); ev.Stop() {
			return ev, now
		}
	}
	return SilenceEvent{}, end
}

func TestSilenceTrackerSilenceTimeout(t *testing.T) {
	tr := NewSilenceTracker(defaultTrackerConfig())
	tr.MarkStarted(trackerEpoch)
	step := 100 * time.Millisecond

	ev, _ := feed(tr, 0.5, trackerEpoch, trackerEpoch.Add(900*time.Millisecond), step)
	require.False(t, ev.Stop())
	assert.True(t, tr.AudioDetected())

	lastLoud := trackerEpoch.Add(900 * time.Millisecond)
	ev, at := feed(tr, 0.05, trackerEpoch.Add(time.Second), trackerEpoch.Add(10*time.Second), step)

	require.True(t, ev.Stop())
	assert.Equal(t, TriggerSilence, ev.Trigger)
	assert.True(t, ev.AudioDetected)
	assert.InDelta(t, (2 * time.Second).Seconds(), at.Sub(lastLoud).Seconds(), 0.3)
}

func TestSilenceTrackerAudioResetsSilenceClock(t *testing.T) {
	tr := NewSilenceTracker(defaultTrackerConfig())
	tr.MarkStarted(trackerEpoch)

	assert.False(t, tr.Update(0.05, trackerEpoch.Add(time.Second)).Stop())
	assert.False(t, tr.Update(0.05, trackerEpoch.Add(2500*time.Millisecond)).Stop())
	assert.False(t, tr.Update(0.9, trackerEpoch.Add(2900*time.Millisecond)).Stop())

	ev := tr.Update(0.05, trackerEpoch.Add(3500*time.Millisecond))
	assert.False(t, ev.Stop())
	assert.Zero(t, ev.SilenceDuration)

	ev = tr.Update(0.05, trackerEpoch.Add(5600*time.Millisecond))
	assert.True(t, ev.Stop())
	assert.Equal(t, TriggerSilence, ev.Trigger)
}

func TestSilenceTrackerTotalTimeout(t *testing.T) {
	cfg := defaultTrackerConfig()
	cfg.TotalTimeout = 5 * time.Second
	cfg.StopOnSilence = false
	tr := NewSilenceTracker(cfg)
	tr.MarkStarted(trackerEpoch)

	ev, at := feed(tr, 0.5, trackerEpoch, trackerEpoch.Add(20*time.Second), 100*time.Millisecond)

	require.True(t, ev.Stop())
	assert.Equal(t, TriggerTotal, ev.Trigger)
	assert.InDelta(t, 5.0, at.Sub(trackerEpoch).Seconds(), 0.2)
}

func TestSilenceTrackerNoAudio(t *testing.T) {
	cfg := defaultTrackerConfig()
	cfg.Timeout = time.Second
	tr := NewSilenceTracker(cfg)
	tr.MarkStarted(trackerEpoch)
	step := 100 * time.Millisecond

	var firstCounted time.Time
	var stopAt time.Time
	for now := trackerEpoch; now.Before(trackerEpoch.Add(10 * time.Second)); now = now.Add(step) {
		ev := tr.Update(0, now)
		if !ev.Discarded && firstCounted.IsZero() {
			firstCounted = now
		}
		if ev.Stop() {
			assert.Equal(t, TriggerSilence, ev.Trigger)
			assert.False(t, ev.AudioDetected)
			stopAt = now
			break
		}
	}

	require.False(t, stopAt.IsZero())
	assert.Equal(t, trackerEpoch.Add(DefaultStartupGuard), firstCounted)
	assert.InDelta(t, 1.0, stopAt.Sub(firstCounted).Seconds(), 0.2)
	assert.False(t, tr.AudioDetected())
}

func TestSilenceTrackerDiscardsBeforeStart(t *testing.T) {
	tr := NewSilenceTracker(defaultTrackerConfig())

	ev := tr.Update(0, trackerEpoch)
	assert.True(t, ev.Discarded)
	assert.False(t, ev.Stop())
}

func TestSilenceTrackerNoDiscardAfterAudio(t *testing.T) {
	tr := NewSilenceTracker(defaultTrackerConfig())
	tr.MarkStarted(trackerEpoch)

	tr.Update(0.8, trackerEpoch.Add(10*time.Millisecond))
	ev := tr.Update(0, trackerEpoch.Add(20*time.Millisecond))

	assert.False(t, ev.Discarded)
	assert.True(t, ev.AudioDetected)
}

func TestSilenceTrackerStopOnSilenceDisabled(t *testing.T) {
	cfg := defaultTrackerConfig()
	cfg.StopOnSilence = false
	cfg.StopOnTotalTimeout = false
	tr := NewSilenceTracker(cfg)
	tr.MarkStarted(trackerEpoch)

	ev, _ := feed(tr, 0.05, trackerEpoch, trackerEpoch.Add(time.Minute), time.Second)
	assert.False(t, ev.Stop())
}

func TestSilenceTrackerReset(t *testing.T) {
	tr := NewSilenceTracker(defaultTrackerConfig())
	tr.MarkStarted(trackerEpoch)
	tr.Update(0.9, trackerEpoch.Add(time.Second))
	require.True(t, tr.AudioDetected())

	tr.Reset()
	assert.False(t, tr.AudioDetected())
	assert.True(t, tr.Update(0, trackerEpoch.Add(time.Hour)).Discarded)
}

func TestPeakHolder(t *testing.T) {
	p := NewPeakHolder()
	p.SetHoldDuration(time.Second)

	assert.Equal(t, 0.8, p.Update(0.8, trackerEpoch))
	assert.Equal(t, 0.8, p.Update(0.2, trackerEpoch.Add(500*time.Millisecond)))
	assert.Equal(t, 0.3, p.Update(0.3, trackerEpoch.Add(1500*time.Millisecond)))

	p.Reset()
	assert.Equal(t, 0.1, p.Update(0.1, trackerEpoch))
}
