package recording

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/event"
	"github.com/stretchr/testify/require"
)

var monoFormat = audio.Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}

// fakeSource delivers buffers synchronously on the calling goroutine.
type fakeSource struct {
	format   audio.Format
	startErr error
	stopErr  error

	active  atomic.Bool
	starts  atomic.Int32
	stops   atomic.Int32
	flushes atomic.Int32

	buffers event.Registry[[]byte]
	actives event.Registry[bool]
	errs    event.Registry[error]
}

func newFakeSource(f audio.Format) *fakeSource {
	return &fakeSource{format: f}
}

func (f *fakeSource) SampleRate() int    { return f.format.SampleRate }
func (f *fakeSource) ChannelCount() int  { return f.format.Channels }
func (f *fakeSource) BitsPerSample() int { return f.format.BitsPerSample }
func (f *fakeSource) Active() bool       { return f.active.Load() }
func (f *fakeSource) Flush()             { f.flushes.Add(1) }

func (f *fakeSource) Start() error {
	f.starts.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	if f.active.CompareAndSwap(false, true) {
		f.actives.Emit(true)
	}
	return nil
}

func (f *fakeSource) Stop() error {
	f.stops.Add(1)
	if f.active.CompareAndSwap(true, false) {
		f.actives.Emit(false)
	}
	return f.stopErr
}

func (f *fakeSource) OnBuffer(fn func([]byte)) func()      { return f.buffers.Add(fn) }
func (f *fakeSource) OnActiveChanged(fn func(bool)) func() { return f.actives.Add(fn) }
func (f *fakeSource) OnError(fn func(error)) func()        { return f.errs.Add(fn) }

// emit delivers buf and reports whether a subscriber cancelled itself during delivery.
func (f *fakeSource) emit(buf []byte) (unsubscribed bool) {
	before := f.buffers.Len()
	f.buffers.Emit(buf)
	return f.buffers.Len() < before
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// levelBuffer returns 100ms of mono 16-bit audio at the given normalized level.
func levelBuffer(level float64) []byte {
	const samples = 4410
	v := int16(level * 32767)
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// waitResult waits for c to resolve.
func waitResult(t *testing.T, c *Completion) Result {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "completion did not resolve")
	}
	result, ok := c.Result()
	require.True(t, ok)
	return result
}

// errorLog records errors emitted by a session.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) has(target error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range l.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
