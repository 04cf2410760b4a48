package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/event"
)

// StopTimeout is how long Stop waits for the reader loop to drain.
const StopTimeout = 3000 * time.Millisecond

// maxReadFailures is the number of consecutive read errors tolerated before the source deactivates.
const maxReadFailures = 1

// ErrStopTimeout is returned when a source did not finish within StopTimeout.
var ErrStopTimeout = errors.New("capture source did not stop in time")

// Source is a capture source delivering raw PCM buffers.
//
// Handlers are invoked on the source's delivery goroutine. Handlers may cancel
// registrations but must not call Stop synchronously.
type Source interface {
	SampleRate() int
	ChannelCount() int
	BitsPerSample() int
	Active() bool

	// Start begins capture. It is a no-op when already active.
	Start() error
	// Stop ends capture. It is a no-op when not active.
	Stop() error
	// Flush delivers any buffered bytes that have not been delivered yet.
	Flush()

	OnBuffer(fn func([]byte)) (cancel func())
	OnActiveChanged(fn func(bool)) (cancel func())
	OnError(fn func(error)) (cancel func())
}

// stream is one opened capture stream.
type stream struct {
	r    io.Reader
	stop func() error // interrupts r; may be nil
	wait func() error // reaps the producer after r is drained; may be nil
}

// StreamSource is a Source backed by a byte stream. Buffers are delivered on
// block-align boundaries; a trailing partial frame is held until the next
// read or Flush.
type StreamSource struct {
	format Format
	open   func() (*stream, error)
	chunk  int

	mu  sync.Mutex
	run *streamRun

	deliverMu sync.Mutex
	pending   []byte

	buffers event.Registry[[]byte]
	actives event.Registry[bool]
	errs    event.Registry[error]
}

// streamRun is the state of one Start..Stop cycle.
type streamRun struct {
	s        *stream
	done     chan struct{}
	stopping atomic.Bool
}

func newStreamSource(f Format, open func() (*stream, error)) *StreamSource {
	// ~100ms of audio per read.
	chunk := f.AverageBytesPerSecond() / 10
	if align := f.BlockAlign(); align > 0 {
		chunk -= chunk % align
	}
	return &StreamSource{
		format: f,
		open:   open,
		chunk:  max(chunk, 1024),
	}
}

// NewReaderSource returns a Source that reads PCM in format f from r.
// If r implements io.Closer it is closed by Stop.
func NewReaderSource(r io.Reader, f Format) *StreamSource {
	return newStreamSource(f, func() (*stream, error) {
		if r == nil {
			return nil, errors.New("reader is nil")
		}
		st := &stream{r: r}
		if c, ok := r.(io.Closer); ok {
			st.stop = c.Close
		}
		return st, nil
	})
}

// SampleRate returns the stream sample rate.
func (s *StreamSource) SampleRate() int { return s.format.SampleRate }

// ChannelCount returns the stream channel count.
func (s *StreamSource) ChannelCount() int { return s.format.Channels }

// BitsPerSample returns the stream bit depth.
func (s *StreamSource) BitsPerSample() int { return s.format.BitsPerSample }

// Format returns the stream format.
func (s *StreamSource) Format() Format { return s.format }

// Active reports whether the source is capturing.
func (s *StreamSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// OnBuffer registers a buffer handler.
func (s *StreamSource) OnBuffer(fn func([]byte)) func() { return s.buffers.Add(fn) }

// OnActiveChanged registers an activity handler.
func (s *StreamSource) OnActiveChanged(fn func(bool)) func() { return s.actives.Add(fn) }

// OnError registers an error handler.
func (s *StreamSource) OnError(fn func(error)) func() { return s.errs.Add(fn) }

// Start opens the stream and starts the reader loop.
func (s *StreamSource) Start() error {
	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return nil
	}

	st, err := s.open()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("open capture stream: %w", err)
	}

	run := &streamRun{s: st, done: make(chan struct{})}
	s.run = run
	s.mu.Unlock()

	s.deliverMu.Lock()
	s.pending = nil
	s.deliverMu.Unlock()

	s.actives.Emit(true)
	go s.readLoop(run)
	return nil
}

// Stop interrupts the stream and waits for the reader loop to finish.
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	if run == nil {
		return nil
	}

	run.stopping.Store(true)

	var errs []error
	if run.s.stop != nil {
		if err := run.s.stop(); err != nil {
			errs = append(errs, fmt.Errorf("interrupt capture stream: %w", err))
		}
	}

	select {
	case <-run.done:
	case <-time.After(StopTimeout):
		errs = append(errs, ErrStopTimeout)
	}

	s.deactivate(run)
	return errors.Join(errs...)
}

// Flush delivers the held partial frame, if any.
func (s *StreamSource) Flush() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if len(s.pending) == 0 {
		return
	}
	out := s.pending
	s.pending = nil
	s.buffers.Emit(out)
}

// readLoop reads from the stream until EOF, Stop, or repeated failures.
func (s *StreamSource) readLoop(run *streamRun) {
	defer close(run.done)

	buf := make([]byte, s.chunk)
	failures := 0

	for {
		n, err := run.s.r.Read(buf)
		if n > 0 {
			failures = 0
			s.deliver(buf[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || run.stopping.Load() {
			break
		}

		failures++
		s.errs.Emit(fmt.Errorf("read capture stream: %w", err))
		if failures > maxReadFailures {
			break
		}
	}

	if run.s.wait != nil {
		if err := run.s.wait(); err != nil && !run.stopping.Load() {
			s.errs.Emit(err)
		}
	}

	s.deactivate(run)
}

// deliver emits the whole frames of pending+p and keeps the remainder.
func (s *StreamSource) deliver(p []byte) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	data := make([]byte, 0, len(s.pending)+len(p))
	data = append(data, s.pending...)
	data = append(data, p...)

	align := max(s.format.BlockAlign(), 1)
	whole := len(data) - len(data)%align
	s.pending = data[whole:]

	if whole > 0 {
		s.buffers.Emit(data[:whole:whole])
	}
}

// deactivate clears run if it is still current and notifies listeners once.
func (s *StreamSource) deactivate(run *streamRun) {
	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.mu.Unlock()

	s.actives.Emit(false)
}
