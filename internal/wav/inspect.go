package wav

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// ErrInvalidFile is returned when a file is not a decodable PCM WAVE file.
var ErrInvalidFile = errors.New("invalid wav file")

// Info describes a WAVE file on disk.
type Info struct {
	Path          string        `json:"path"`
	Channels      int           `json:"channels"`
	SampleRate    int           `json:"sample_rate"`
	BitsPerSample int           `json:"bits_per_sample"`
	ByteRate      int           `json:"byte_rate"`
	DataLength    int64         `json:"data_length"`
	FileSize      int64         `json:"file_size"`
	Duration      time.Duration `json:"duration"`
	// Consistent reports whether the declared data length matches the file size.
	Consistent bool `json:"consistent"`
}

// Inspect decodes the header of the file at path and checks it against the file size.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close() //nolint:errcheck // Read-only operation, close error not critical

	stat, err := f.Stat()
	if err != nil {
		return Info{}, err
	}

	d := gowav.NewDecoder(f)
	if !d.IsValidFile() {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	info := Info{
		Path:          path,
		Channels:      int(d.NumChans),
		SampleRate:    int(d.SampleRate),
		BitsPerSample: int(d.BitDepth),
		ByteRate:      int(d.AvgBytesPerSec),
		DataLength:    d.PCMLen(),
		FileSize:      stat.Size(),
	}
	if info.ByteRate > 0 {
		info.Duration = time.Duration(float64(info.DataLength) / float64(info.ByteRate) * float64(time.Second))
	}
	info.Consistent = info.DataLength+HeaderSize == info.FileSize

	return info, nil
}

// DecodeSamples reads all PCM samples of the file at path.
func DecodeSamples(path string) (*audio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // Read-only operation, close error not critical

	d := gowav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	return buf, nil
}
