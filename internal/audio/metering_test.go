package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func TestCalculateLevelZeroBuffer(t *testing.T) {
	formats := map[string]SampleFormat{
		"signed16le": PCM16LE,
		"signed16be": {Use16Bit: true, Signed: true, BigEndian: true},
		"unsigned16": {Use16Bit: true},
		"signed8":    {Signed: true},
		"unsigned8":  PCM8,
	}
	for name, f := range formats {
		t.Run(name, func(t *testing.T) {
			for _, size := range []int{0, 1, 2, 64, 4096} {
				assert.Zero(t, CalculateLevel(make([]byte, size), f))
			}
		})
	}
}

func TestCalculateLevelFullScale(t *testing.T) {
	buf := pcm16(32767, 32767, 32767, 32767)
	assert.InDelta(t, 1.0, CalculateLevel(buf, PCM16LE), 1e-9)

	// -32768 has a larger magnitude than the normalization maximum and is clamped.
	assert.InDelta(t, 1.0, CalculateLevel(pcm16(-32768), PCM16LE), 1e-9)
}

func TestCalculateLevelPeakIsAbsolute(t *testing.T) {
	buf := pcm16(100, -16384, 200)
	assert.InDelta(t, 16384.0/32767.0, CalculateLevel(buf, PCM16LE), 1e-9)
}

func TestCalculateLevelBigEndian(t *testing.T) {
	buf := []byte{0x40, 0x00} // 16384 big-endian, 64 little-endian
	be := SampleFormat{Use16Bit: true, Signed: true, BigEndian: true}

	assert.InDelta(t, 16384.0/32767.0, CalculateLevel(buf, be), 1e-9)
	assert.InDelta(t, 64.0/32767.0, CalculateLevel(buf, PCM16LE), 1e-9)
}

func TestCalculateLevelEightBit(t *testing.T) {
	assert.InDelta(t, 1.0, CalculateLevel([]byte{0, 255, 10}, PCM8), 1e-9)
	assert.InDelta(t, 1.0, CalculateLevel([]byte{0x80}, SampleFormat{Signed: true}), 1e-9)
	assert.InDelta(t, 64.0/127.0, CalculateLevel([]byte{0xC0}, SampleFormat{Signed: true}), 1e-9)
}

func TestCalculateAmplitudeUnsigned(t *testing.T) {
	assert.Zero(t, CalculateAmplitude([]byte{0x80, 0x80, 0x80}, PCM8))
	assert.InDelta(t, 1.0, CalculateAmplitude([]byte{0x80, 0x00}, PCM8), 1e-9)
	assert.InDelta(t, 64.0/128.0, CalculateAmplitude([]byte{0x80, 0xC0, 0x60}, PCM8), 1e-9)

	unsigned16 := SampleFormat{Use16Bit: true}
	assert.Zero(t, CalculateAmplitude([]byte{0x00, 0x80}, unsigned16))
	assert.InDelta(t, 0.5, CalculateAmplitude([]byte{0x00, 0xC0}, unsigned16), 1e-9)

	// The raw peak of 8-bit silence sits at half scale.
	assert.InDelta(t, 128.0/255.0, CalculateLevel([]byte{0x80}, PCM8), 1e-9)
}

func TestCalculateAmplitudeSigned(t *testing.T) {
	buf := pcm16(100, -16384, 200)
	assert.InDelta(t, CalculateLevel(buf, PCM16LE), CalculateAmplitude(buf, PCM16LE), 1e-12)
	assert.Zero(t, CalculateAmplitude(make([]byte, 64), PCM16LE))
}

func TestCalculateLevelShortBuffer(t *testing.T) {
	assert.Zero(t, CalculateLevel([]byte{0xFF}, PCM16LE))
	assert.Zero(t, CalculateLevel(nil, PCM16LE))
}

func TestCalculateLevelWindowIgnoresOutsideBytes(t *testing.T) {
	inner := pcm16(1000, -2000, 3000)
	want := CalculateLevel(inner, PCM16LE)

	loud := pcm16(32767, -32768)
	buf := append(append(append([]byte{}, loud...), inner...), loud...)

	got := CalculateLevelWindow(buf, len(loud), len(loud), PCM16LE)
	assert.InDelta(t, want, got, 1e-12)
}

func TestCalculateLevelWindowOutOfRange(t *testing.T) {
	buf := pcm16(32767, 32767)
	assert.Zero(t, CalculateLevelWindow(buf, 4, 0, PCM16LE))
	assert.Zero(t, CalculateLevelWindow(buf, 0, 4, PCM16LE))
	assert.Zero(t, CalculateLevelWindow(buf, 3, 0, PCM16LE))
	assert.Zero(t, CalculateLevelWindow(buf, 10, 10, PCM16LE))
}

func TestLevelToDB(t *testing.T) {
	assert.Equal(t, MinDB, LevelToDB(0))
	assert.InDelta(t, 0.0, LevelToDB(1), 1e-9)
	assert.InDelta(t, -6.02, LevelToDB(0.5), 0.01)
	assert.Equal(t, MinDB, LevelToDB(1e-9))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, PCM8, FormatFor(8))
	assert.Equal(t, PCM16LE, FormatFor(16))
}

func TestFormatDerivedFields(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}
	assert.Equal(t, 2, f.BlockAlign())
	assert.Equal(t, 88200, f.AverageBytesPerSecond())

	stereo := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	assert.Equal(t, 4, stereo.BlockAlign())
	assert.Equal(t, 192000, stereo.AverageBytesPerSecond())
}
