package wav

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monoHeader(dataLength int64) Header {
	return Header{Channels: 1, SampleRate: 44100, BitsPerSample: 16, DataLength: dataLength}
}

func TestHeaderLayout(t *testing.T) {
	data, err := monoHeader(1000).MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, HeaderSize)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(1036), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(88200), binary.LittleEndian.Uint32(data[28:32]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(1000), binary.LittleEndian.Uint32(data[40:44]))
}

func TestHeaderRoundTripDerivedFields(t *testing.T) {
	for _, d := range []int64{0, 1, 2, 88200, 1 << 20, maxDataLength} {
		var buf bytes.Buffer
		require.NoError(t, WriteHeader(&buf, monoHeader(d)))

		raw, err := RawFields(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint16(2), raw.BlockAlign, "data length %d", d)
		assert.Equal(t, uint32(88200), raw.ByteRate, "data length %d", d)

		h, err := ReadHeader(&buf)
		require.NoError(t, err)
		assert.Equal(t, monoHeader(d), h)
	}
}

func TestHeaderUnknownLength(t *testing.T) {
	data, err := monoHeader(UnknownLength).MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(data[40:44]))

	var h Header
	require.NoError(t, h.UnmarshalBinary(data))
	assert.False(t, h.Known())
	assert.Equal(t, UnknownLength, h.DataLength)
}

func TestHeaderValidate(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		target error
	}{
		{"no channels", Header{Channels: 0, SampleRate: 44100, BitsPerSample: 16}, ErrInvalidFormat},
		{"no sample rate", Header{Channels: 1, SampleRate: 0, BitsPerSample: 16}, ErrInvalidFormat},
		{"odd bit depth", Header{Channels: 1, SampleRate: 44100, BitsPerSample: 12}, ErrInvalidFormat},
		{"too large", Header{Channels: 1, SampleRate: 44100, BitsPerSample: 16, DataLength: maxDataLength + 1}, ErrDataTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.header.MarshalBinary()
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader(bytes.Repeat([]byte{'x'}, HeaderSize)))
	assert.ErrorIs(t, err, ErrNotCanonical)

	_, err = ReadHeader(bytes.NewReader([]byte("RIFF")))
	assert.Error(t, err)
}

func TestWriteHeaderRewritesSeekableSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewrite.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	require.NoError(t, WriteHeader(f, monoHeader(0)))
	payload := bytes.Repeat([]byte{0x10, 0x20}, 500)
	_, err = f.Write(payload)
	require.NoError(t, err)

	require.NoError(t, WriteHeader(f, monoHeader(int64(len(payload)))))
	require.NoError(t, f.Close())

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize+len(payload)), stat.Size())

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, 88200, info.ByteRate)
	assert.Equal(t, int64(len(payload)), info.DataLength)
	assert.True(t, info.Consistent)
	assert.InDelta(t, float64(len(payload))/88200, info.Duration.Seconds(), 1e-6)

	samples, err := DecodeSamples(path)
	require.NoError(t, err)
	require.Len(t, samples.Data, len(payload)/2)
	assert.Equal(t, 0x2010, samples.Data[0])
}

func TestInspectDetectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.wav")
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, monoHeader(44100)))
	buf.Write(make([]byte, 1000))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.False(t, info.Consistent)
	assert.Equal(t, time.Duration(0.5*float64(time.Second)), info.Duration.Round(time.Millisecond))
}

func TestInspectRejectsNonWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not audio at all, just text bytes"), 0o600))

	_, err := Inspect(path)
	assert.Error(t, err)
}
