package audio

// Format describes a linear PCM stream.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// BlockAlign returns the bytes per multi-channel frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// AverageBytesPerSecond returns the byte rate of the stream.
func (f Format) AverageBytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// SampleFormat returns how samples of this stream are assembled for metering.
func (f Format) SampleFormat() SampleFormat {
	return FormatFor(f.BitsPerSample)
}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
