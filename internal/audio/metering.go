// Package audio provides PCM level metering, silence tracking and capture sources.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0

	// NearSilenceLevel is the level below which a buffer is treated as digital silence.
	NearSilenceLevel = 1e-4
)

// Normalization maxima per sample width and signedness.
const (
	maxSigned16   = 32767.0
	maxUnsigned16 = 65535.0
	maxSigned8    = 127.0
	maxUnsigned8  = 255.0
)

// SampleFormat describes how raw PCM bytes are assembled into samples.
type SampleFormat struct {
	Use16Bit  bool
	Signed    bool
	BigEndian bool
}

// PCM16LE is signed 16-bit little-endian PCM, the format WAV files carry.
var PCM16LE = SampleFormat{Use16Bit: true, Signed: true}

// PCM8 is unsigned 8-bit PCM.
var PCM8 = SampleFormat{}

// FormatFor returns the WAV convention for the given bit depth:
// 8-bit samples are unsigned, 16-bit samples are signed little-endian.
func FormatFor(bitsPerSample int) SampleFormat {
	if bitsPerSample == 8 {
		return PCM8
	}
	return PCM16LE
}

// width returns the sample width in bytes.
func (f SampleFormat) width() int {
	if f.Use16Bit {
		return 2
	}
	return 1
}

// fullScale returns the value a full-scale sample normalizes against.
func (f SampleFormat) fullScale() float64 {
	switch {
	case f.Use16Bit && f.Signed:
		return maxSigned16
	case f.Use16Bit:
		return maxUnsigned16
	case f.Signed:
		return maxSigned8
	default:
		return maxUnsigned8
	}
}

// sample assembles the sample starting at buf[i] and returns its magnitude.
func (f SampleFormat) sample(buf []byte, i int) float64 {
	if !f.Use16Bit {
		if f.Signed {
			return math.Abs(float64(int8(buf[i])))
		}
		return float64(buf[i])
	}

	var u uint16
	if f.BigEndian {
		u = binary.BigEndian.Uint16(buf[i:])
	} else {
		u = binary.LittleEndian.Uint16(buf[i:])
	}
	if f.Signed {
		return math.Abs(float64(int16(u)))
	}
	return float64(u)
}

// CalculateLevel returns the peak level of buf in [0,1].
func CalculateLevel(buf []byte, f SampleFormat) float64 {
	return CalculateLevelWindow(buf, 0, 0, f)
}

// CalculateLevelWindow returns the peak level of buf[readPoint:len(buf)-leftOver]
// in [0,1]. Bytes outside the window are never read. A window shorter than one
// sample yields 0.
func CalculateLevelWindow(buf []byte, readPoint, leftOver int, f SampleFormat) float64 {
	readPoint = max(readPoint, 0)
	leftOver = max(leftOver, 0)
	end := len(buf) - leftOver

	w := f.width()
	var peak float64
	for i := readPoint; i+w <= end; i += w {
		if s := f.sample(buf, i); s > peak {
			peak = s
		}
	}

	return min(peak/f.fullScale(), 1.0)
}

// CalculateAmplitude returns the peak deviation of buf from digital silence
// in [0,1]. Unsigned samples are measured from their midpoint, so 8-bit
// silence (0x80) reads as 0. Signed formats give the same result as CalculateLevel.
func CalculateAmplitude(buf []byte, f SampleFormat) float64 {
	if f.Signed {
		return CalculateLevel(buf, f)
	}

	w := f.width()
	mid := (f.fullScale() + 1) / 2
	var peak float64
	for i := 0; i+w <= len(buf); i += w {
		if d := math.Abs(f.sample(buf, i) - mid); d > peak {
			peak = d
		}
	}
	return min(peak/mid, 1.0)
}

// LevelToDB converts a normalized level to dBFS, floored at MinDB.
func LevelToDB(level float64) float64 {
	if level <= 0 {
		return MinDB
	}
	return max(20*math.Log10(level), MinDB)
}
