package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/event"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/wav"
)

// writeBufferSize is the size of the buffered writer in front of the sink.
const writeBufferSize = 64 * 1024

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithoutStreamingHeader disables the unknown-length header for sinks that cannot seek.
// Such sinks then receive raw PCM only.
func WithoutStreamingHeader() RecorderOption {
	return func(r *Recorder) {
		r.streamingHeader = false
	}
}

// WithRecorderLogger sets the logger used by the recorder.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// Recorder writes the buffers of a capture source to a sink as a wav stream.
type Recorder struct {
	mu sync.Mutex

	streamingHeader bool
	log             *slog.Logger

	gen     uint64 // incremented on every Start
	src     audio.Source
	w       *bufio.Writer
	seeker  io.Seeker // nil when the sink cannot seek
	base    int64     // sink offset of the header
	header  wav.Header
	cancels []func()

	stopped bool
	stopErr error

	bytesWritten atomic.Int64

	errs event.Registry[error]
}

// NewRecorder creates a new idle recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		streamingHeader: true,
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnError registers fn for write failures. Handlers run on the source's delivery goroutine.
func (r *Recorder) OnError(fn func(error)) (cancel func()) {
	return r.errs.Add(fn)
}

// Start attaches the recorder to src and writes a header to sink. A source
// attached by a previous Start is finalized and stopped first.
func (r *Recorder) Start(src audio.Source, sink io.Writer) error {
	if src == nil || sink == nil {
		return fmt.Errorf("%w: source and sink are required", ErrInvalidArgument)
	}

	r.mu.Lock()
	prev, attached := r.src, r.src != nil && !r.stopped
	r.mu.Unlock()

	if attached {
		if err := r.Stop(); err != nil {
			r.log.Warn("failed to finalize previous recording", "error", err)
		}
		if err := prev.Stop(); err != nil {
			r.log.Warn("failed to stop previous capture source", "error", err)
		}
	}

	header := wav.Header{
		Channels:      src.ChannelCount(),
		SampleRate:    src.SampleRate(),
		BitsPerSample: src.BitsPerSample(),
	}
	if err := header.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	seeker, base := probeSeeker(sink)
	w := bufio.NewWriterSize(sink, writeBufferSize)

	if seeker != nil {
		// Placeholder, rewritten with the real length on Stop.
		header.DataLength = 0
	} else {
		header.DataLength = wav.UnknownLength
	}
	if seeker != nil || r.streamingHeader {
		if err := wav.WriteHeader(w, header); err != nil {
			return fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.src = src
	r.w = w
	r.seeker = seeker
	r.base = base
	r.header = header
	r.stopped = false
	r.stopErr = nil
	r.bytesWritten.Store(0)
	r.cancels = []func(){
		src.OnBuffer(func(buf []byte) { r.handleBuffer(gen, buf) }),
		src.OnActiveChanged(func(active bool) { r.handleActiveChanged(gen, active) }),
	}
	r.mu.Unlock()

	if !src.Active() {
		if err := src.Start(); err != nil {
			r.detach(gen)
			return fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
	}

	r.log.Debug("recorder started",
		"sample_rate", header.SampleRate,
		"channels", header.Channels,
		"bits_per_sample", header.BitsPerSample,
		"seekable", seeker != nil)
	return nil
}

// probeSeeker returns the sink as a seeker with its current offset, or nil when it cannot seek.
func probeSeeker(sink io.Writer) (io.Seeker, int64) {
	s, ok := sink.(io.Seeker)
	if !ok {
		return nil, 0
	}
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0
	}
	return s, pos
}

// handleBuffer writes one delivered buffer to the sink.
func (r *Recorder) handleBuffer(gen uint64, buf []byte) {
	r.mu.Lock()
	if gen != r.gen || r.stopped || r.w == nil {
		r.mu.Unlock()
		return
	}
	n, err := r.w.Write(buf)
	r.bytesWritten.Add(int64(n))
	r.mu.Unlock()

	if err == nil {
		return
	}

	werr := fmt.Errorf("%w: %w", ErrWriteFailed, err)
	r.log.Error("failed to write audio", "error", err)
	r.errs.Emit(werr)
	if err := r.stop(gen); err != nil {
		r.log.Warn("failed to finalize after write failure", "error", err)
	}
}

// handleActiveChanged finalizes the recording when the source deactivates.
func (r *Recorder) handleActiveChanged(gen uint64, active bool) {
	if active {
		return
	}
	if err := r.stop(gen); err != nil {
		r.log.Warn("failed to finalize after source stopped", "error", err)
	}
}

// Stop unsubscribes from the source, flushes buffered audio and rewrites the
// header with the final length. Repeated calls return the first result.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	return r.stop(gen)
}

func (r *Recorder) stop(gen uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen || r.stopped {
		return r.stopErr
	}
	if r.src == nil {
		return nil
	}

	r.stopped = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil

	r.stopErr = r.finalizeLocked()
	r.src = nil
	r.w = nil
	r.seeker = nil

	r.log.Debug("recorder stopped", "bytes_written", r.bytesWritten.Load(), "error", r.stopErr)
	return r.stopErr
}

// finalizeLocked flushes and rewrites the header. Must be called with lock held.
func (r *Recorder) finalizeLocked() error {
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrFinalizeFailed, err)
	}

	if r.seeker == nil {
		return fmt.Errorf("%w: %w", ErrFinalizeFailed, ErrSinkNotSeekable)
	}

	h := r.header
	h.DataLength = r.bytesWritten.Load()
	data, err := h.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFinalizeFailed, err)
	}

	sink, ok := r.seeker.(io.Writer)
	if !ok {
		return fmt.Errorf("%w: %w", ErrFinalizeFailed, ErrSinkNotSeekable)
	}

	var errs []error
	if _, err := r.seeker.Seek(r.base, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to header: %w", ErrFinalizeFailed, err)
	}
	if _, err := sink.Write(data); err != nil {
		errs = append(errs, fmt.Errorf("rewrite header: %w", err))
	}
	// Leave the write position at the end of the data.
	if _, err := r.seeker.Seek(0, io.SeekEnd); err != nil {
		errs = append(errs, fmt.Errorf("seek to end: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrFinalizeFailed, err)
	}
	return nil
}

// detach drops the source without finalizing. Used when the source fails to start.
func (r *Recorder) detach(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		return
	}
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	r.src = nil
	r.w = nil
	r.seeker = nil
	r.stopped = true
}

// BytesWritten returns the number of audio bytes written since the last Start.
func (r *Recorder) BytesWritten() int64 {
	return r.bytesWritten.Load()
}

// IsRecording reports whether the recorder is attached to a source.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src != nil && !r.stopped
}
