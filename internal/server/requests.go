package server

import (
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
)

// Request types for WebSocket commands and API endpoints with validation tags.

// SettingsUpdateRequest is the request body for settings/update.
// Omitted fields keep their current value.
type SettingsUpdateRequest struct {
	SilenceThreshold   *float64 `json:"silence_threshold" validate:"omitempty,gt=0,lt=1"`
	SilenceTimeoutMs   *int64   `json:"silence_timeout_ms" validate:"omitempty,gte=100,lte=3600000"`
	TotalTimeoutMs     *int64   `json:"total_timeout_ms" validate:"omitempty,gte=100,lte=86400000"`
	StopOnSilence      *bool    `json:"stop_on_silence"`
	StopOnTotalTimeout *bool    `json:"stop_on_total_timeout"`
	SampleRate         *int     `json:"sample_rate" validate:"omitempty,min=8000,max=192000"`
	Channels           *int     `json:"channels" validate:"omitempty,min=1,max=2"`
	BitsPerSample      *int     `json:"bits_per_sample" validate:"omitempty,oneof=8 16"`
}

// Apply returns cfg with the fields set in the request replaced.
func (r *SettingsUpdateRequest) Apply(cfg recording.Config) recording.Config {
	if r.SilenceThreshold != nil {
		cfg.SilenceThreshold = *r.SilenceThreshold
	}
	if r.SilenceTimeoutMs != nil {
		cfg.SilenceTimeout = time.Duration(*r.SilenceTimeoutMs) * time.Millisecond
	}
	if r.TotalTimeoutMs != nil {
		cfg.TotalTimeout = time.Duration(*r.TotalTimeoutMs) * time.Millisecond
	}
	if r.StopOnSilence != nil {
		cfg.StopOnSilence = *r.StopOnSilence
	}
	if r.StopOnTotalTimeout != nil {
		cfg.StopOnTotalTimeout = *r.StopOnTotalTimeout
	}
	if r.SampleRate != nil {
		cfg.SampleRate = *r.SampleRate
	}
	if r.Channels != nil {
		cfg.Channels = *r.Channels
	}
	if r.BitsPerSample != nil {
		cfg.BitsPerSample = *r.BitsPerSample
	}
	return cfg
}

// EventsRequest is the request body for events/list.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=500"`
	Offset int    `json:"offset" validate:"omitempty,min=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=all session archive"`
}

// defaultEventsLimit is the number of events returned when no limit is given.
const defaultEventsLimit = 50
