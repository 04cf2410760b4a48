// Package recording provides voice recording sessions that stop on silence or a total timeout.
package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Sentinel errors for recording operations.
var (
	// ErrInvalidArgument is returned when a required source or sink is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStartFailed is returned when the capture source could not be started.
	ErrStartFailed = errors.New("capture source failed to start")

	// ErrWriteFailed is reported when the sink rejects audio data.
	ErrWriteFailed = errors.New("write to sink failed")

	// ErrFinalizeFailed is returned when the wav header could not be finalized.
	ErrFinalizeFailed = errors.New("finalize recording failed")

	// ErrSinkNotSeekable is returned when the header cannot be rewritten because the sink cannot seek.
	ErrSinkNotSeekable = errors.New("sink is not seekable")

	// ErrAlreadyRecording is returned when trying to start or reconfigure a session that is not idle.
	ErrAlreadyRecording = errors.New("session is already recording")

	// ErrNotRecording is returned when trying to stop a session that was never started.
	ErrNotRecording = errors.New("session is not recording")
)

// State tracks the state of a recording session.
type State string

const (
	// StateIdle indicates no active recording.
	StateIdle State = "idle"
	// StateRecording indicates recording is in progress.
	StateRecording State = "recording"
	// StateFinalizing indicates the file is being closed.
	StateFinalizing State = "finalizing"
)

// StopReason describes why a session ended.
type StopReason string

// Stop reasons.
const (
	ReasonManual         StopReason = "manual"
	ReasonCancelled      StopReason = "cancelled"
	ReasonSilenceTimeout StopReason = "silence_timeout"
	ReasonTotalTimeout   StopReason = "total_timeout"
	ReasonSourceStopped  StopReason = "source_stopped"
	ReasonSourceError    StopReason = "source_error"
	ReasonWriteFailed    StopReason = "write_failed"
)

// reasonFor maps a tracker trigger to a stop reason.
func reasonFor(t audio.Trigger) StopReason {
	switch t {
	case audio.TriggerSilence:
		return ReasonSilenceTimeout
	case audio.TriggerTotal:
		return ReasonTotalTimeout
	default:
		return ReasonManual
	}
}

// Default configuration values.
const (
	DefaultSilenceThreshold = 0.2
	DefaultSilenceTimeout   = 2000 * time.Millisecond
	DefaultTotalTimeout     = 30000 * time.Millisecond
	DefaultSampleRate       = 44100
	DefaultChannels         = 1
	DefaultBitsPerSample    = 16
)

// Config holds the recording session configuration.
type Config struct {
	SilenceThreshold   float64       `json:"silence_threshold" validate:"gt=0,lt=1"` // Normalized level a buffer must exceed to count as audio
	SilenceTimeout     time.Duration `json:"silence_timeout" validate:"gt=0"`        // Silence before stopping
	TotalTimeout       time.Duration `json:"total_timeout" validate:"gt=0"`          // Maximum session length
	StopOnSilence      bool          `json:"stop_on_silence"`
	StopOnTotalTimeout bool          `json:"stop_on_total_timeout"`
	SampleRate         int           `json:"sample_rate" validate:"min=8000,max=192000"`
	Channels           int           `json:"channels" validate:"min=1,max=2"`
	BitsPerSample      int           `json:"bits_per_sample" validate:"oneof=8 16"`
}

// DefaultConfig returns the default recording configuration.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:   DefaultSilenceThreshold,
		SilenceTimeout:     DefaultSilenceTimeout,
		TotalTimeout:       DefaultTotalTimeout,
		StopOnSilence:      true,
		StopOnTotalTimeout: true,
		SampleRate:         DefaultSampleRate,
		Channels:           DefaultChannels,
		BitsPerSample:      DefaultBitsPerSample,
	}
}

// Validate checks the configuration. It returns a *types.ValidationError on failure.
func (c Config) Validate() error {
	return types.Validate(c)
}

// Format returns the capture format requested by the configuration.
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels, BitsPerSample: c.BitsPerSample}
}

// silenceConfig converts the configuration for the silence tracker.
func (c Config) silenceConfig() audio.SilenceConfig {
	return audio.SilenceConfig{
		Threshold:          c.SilenceThreshold,
		Timeout:            c.SilenceTimeout,
		TotalTimeout:       c.TotalTimeout,
		StopOnSilence:      c.StopOnSilence,
		StopOnTotalTimeout: c.StopOnTotalTimeout,
		StartupGuard:       audio.DefaultStartupGuard,
	}
}

// StreamDetails describes the format of the stream being recorded.
type StreamDetails struct {
	SampleRate            int `json:"sample_rate"`
	ChannelCount          int `json:"channel_count"`
	BitsPerSample         int `json:"bits_per_sample"`
	BlockAlign            int `json:"block_align"`
	AverageBytesPerSecond int `json:"average_bytes_per_second"`
}

// detailsOf captures the stream details of an active source.
func detailsOf(src audio.Source) StreamDetails {
	f := audio.Format{SampleRate: src.SampleRate(), Channels: src.ChannelCount(), BitsPerSample: src.BitsPerSample()}
	return StreamDetails{
		SampleRate:            f.SampleRate,
		ChannelCount:          f.Channels,
		BitsPerSample:         f.BitsPerSample,
		BlockAlign:            f.BlockAlign(),
		AverageBytesPerSecond: f.AverageBytesPerSecond(),
	}
}

// Result is the outcome of a finished session.
type Result struct {
	SessionID string `json:"session_id"`
	// Path is the recorded file, empty when no audio was detected or the sink has no path.
	Path          string        `json:"path,omitempty"`
	AudioDetected bool          `json:"audio_detected"`
	Reason        StopReason    `json:"reason"`
	BytesWritten  int64         `json:"bytes_written"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Details       StreamDetails `json:"details"`
}

// HasPath reports whether the session produced a usable recording.
func (r Result) HasPath() bool {
	return r.Path != ""
}

// String returns a short human-readable summary.
func (r Result) String() string {
	if !r.HasPath() {
		return fmt.Sprintf("session %s ended (%s) without audio", r.SessionID, r.Reason)
	}
	return fmt.Sprintf("session %s ended (%s): %s", r.SessionID, r.Reason, r.Path)
}

// LevelSample is the level measurement of one delivered buffer.
type LevelSample struct {
	SessionID       string        `json:"session_id"`
	Level           float64       `json:"level"`
	DB              float64       `json:"db"`
	Discarded       bool          `json:"discarded,omitzero"`
	AudioDetected   bool          `json:"audio_detected"`
	SilenceDuration time.Duration `json:"silence_duration"`
	At              time.Time     `json:"at"`
}
