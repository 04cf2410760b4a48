// Package wav reads and writes the canonical 44-byte PCM WAVE header.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the size of the canonical PCM WAVE header.
const HeaderSize = 44

// UnknownLength marks a data length that is not known yet.
const UnknownLength int64 = -1

// unknownSize is written to both size fields when the length is unknown.
const unknownSize uint32 = math.MaxUint32

// maxDataLength is the largest data length whose chunk size still fits in 32 bits.
const maxDataLength = math.MaxUint32 - 36

const formatPCM = 1

// Errors returned by header encoding and decoding.
var (
	ErrInvalidFormat = errors.New("invalid wav format")
	ErrDataTooLarge  = errors.New("wav data length exceeds 4 GiB limit")
	ErrNotCanonical  = errors.New("not a canonical PCM wav header")
)

// Header describes a PCM WAVE stream.
type Header struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	// DataLength is the byte length of the data chunk, or UnknownLength.
	DataLength int64
}

// BlockAlign returns the bytes per multi-channel frame.
func (h Header) BlockAlign() int {
	return h.Channels * h.BitsPerSample / 8
}

// ByteRate returns the bytes per second of audio.
func (h Header) ByteRate() int {
	return h.SampleRate * h.BlockAlign()
}

// Known reports whether the data length is known.
func (h Header) Known() bool {
	return h.DataLength >= 0
}

// Validate checks that the header can be encoded.
func (h Header) Validate() error {
	switch {
	case h.Channels < 1 || h.Channels > math.MaxUint16:
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, h.Channels)
	case h.SampleRate < 1 || int64(h.SampleRate) > math.MaxUint32:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, h.SampleRate)
	case h.BitsPerSample < 8 || h.BitsPerSample%8 != 0 || h.BitsPerSample > 32:
		return fmt.Errorf("%w: bits per sample %d", ErrInvalidFormat, h.BitsPerSample)
	case h.DataLength > maxDataLength:
		return fmt.Errorf("%w: %d bytes", ErrDataTooLarge, h.DataLength)
	}
	return nil
}

// canonical is the on-disk layout of the header.
type canonical struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// MarshalBinary encodes the 44-byte header.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	chunkSize, dataSize := unknownSize, unknownSize
	if h.Known() {
		dataSize = uint32(h.DataLength)
		chunkSize = dataSize + 36
	}

	c := canonical{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     chunkSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(h.Channels),      //nolint:gosec // bounded by Validate
		SampleRate:    uint32(h.SampleRate),    //nolint:gosec // bounded by Validate
		ByteRate:      uint32(h.ByteRate()),    //nolint:gosec // bounded by Validate
		BlockAlign:    uint16(h.BlockAlign()),  //nolint:gosec // bounded by Validate
		BitsPerSample: uint16(h.BitsPerSample), //nolint:gosec // bounded by Validate
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, binary.LittleEndian, &c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a canonical 44-byte header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrNotCanonical, len(data))
	}

	var c canonical
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &c); err != nil {
		return err
	}

	if string(c.ChunkID[:]) != "RIFF" || string(c.Format[:]) != "WAVE" ||
		string(c.Subchunk1ID[:]) != "fmt " || string(c.Subchunk2ID[:]) != "data" {
		return fmt.Errorf("%w: unexpected chunk ids", ErrNotCanonical)
	}
	if c.Subchunk1Size != 16 || c.AudioFormat != formatPCM {
		return fmt.Errorf("%w: format chunk size %d tag %d", ErrNotCanonical, c.Subchunk1Size, c.AudioFormat)
	}

	*h = Header{
		Channels:      int(c.NumChannels),
		SampleRate:    int(c.SampleRate),
		BitsPerSample: int(c.BitsPerSample),
		DataLength:    int64(c.Subchunk2Size),
	}
	if c.Subchunk2Size == unknownSize {
		h.DataLength = UnknownLength
	}
	return nil
}

// WriteHeader writes h to w. If w implements io.Seeker it seeks to the start first.
func WriteHeader(w io.Writer, h Header) error {
	data, err := h.MarshalBinary()
	if err != nil {
		return err
	}

	if s, ok := w.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek to header: %w", err)
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// ReadHeader reads a canonical header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}

	var h Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Fields holds the raw numeric header fields, for diagnostics.
type Fields struct {
	ChunkSize     uint32 `json:"chunk_size"`
	ByteRate      uint32 `json:"byte_rate"`
	BlockAlign    uint16 `json:"block_align"`
	Subchunk2Size uint32 `json:"data_size"`
}

// RawFields decodes the size and rate fields of a header without validating chunk ids.
func RawFields(data []byte) (Fields, error) {
	if len(data) < HeaderSize {
		return Fields{}, fmt.Errorf("%w: %d bytes", ErrNotCanonical, len(data))
	}
	return Fields{
		ChunkSize:     binary.LittleEndian.Uint32(data[4:8]),
		ByteRate:      binary.LittleEndian.Uint32(data[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(data[32:34]),
		Subchunk2Size: binary.LittleEndian.Uint32(data[40:44]),
	}, nil
}
