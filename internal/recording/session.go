package recording

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/event"
)

// SourceFactory creates a capture source for the requested format.
type SourceFactory func(f audio.Format) (audio.Source, error)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the time source used for timeouts and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOutputDir sets the directory for recordings created when Start gets no sink.
func WithOutputDir(dir string) Option {
	return func(s *Session) {
		s.outputDir = dir
	}
}

// WithFilePrefix sets the file name prefix for created recordings.
func WithFilePrefix(prefix string) Option {
	return func(s *Session) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger. Each session run adds its session_id.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithStreamingHeader controls whether sinks that cannot seek receive an
// unknown-length header. It is enabled by default.
func WithStreamingHeader(enabled bool) Option {
	return func(s *Session) {
		s.streamingHeader = enabled
	}
}

// WithKeepSilent keeps created files in which no audio was detected. The
// result path stays empty either way.
func WithKeepSilent(keep bool) Option {
	return func(s *Session) {
		s.keepSilent = keep
	}
}

// Session records one capture at a time and decides when to stop.
type Session struct {
	mu sync.Mutex

	cfg             Config
	sources         SourceFactory
	now             func() time.Time
	outputDir       string
	prefix          string
	log             *slog.Logger
	streamingHeader bool
	keepSilent      bool

	state State
	run   *run // current or most recent run

	finished event.Registry[Result]
	errs     event.Registry[error]
	levels   event.Registry[LevelSample]
}

// run is the state of one Start..Stop cycle.
type run struct {
	id  string
	log *slog.Logger

	source   audio.Source
	format   audio.SampleFormat
	recorder *Recorder
	tracker  *audio.SilenceTracker

	sink io.Writer
	file *os.File // owned sink, nil when caller-supplied
	path string

	details   StreamDetails
	launched  chan struct{} // closed when Start has returned
	started   atomic.Bool
	startedAt time.Time

	decision func() // cancels the buffer subscription of the stop decision
	cancels  []func()

	stopping   atomic.Bool
	done       chan struct{} // closed when teardown has finished
	stopErr    error
	completion *Completion
}

// NewSession creates an idle session.
func NewSession(cfg Config, sources SourceFactory, opts ...Option) (*Session, error) {
	if sources == nil {
		return nil, fmt.Errorf("%w: source factory is required", ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:             cfg,
		sources:         sources,
		now:             time.Now,
		prefix:          DefaultFilePrefix,
		log:             slog.Default(),
		streamingHeader: true,
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OnFinished registers fn for finished sessions. It is not called for Cancel.
func (s *Session) OnFinished(fn func(Result)) (cancel func()) {
	return s.finished.Add(fn)
}

// OnError registers fn for errors that occur while recording.
func (s *Session) OnError(fn func(error)) (cancel func()) {
	return s.errs.Add(fn)
}

// OnLevel registers fn for per-buffer level samples. Handlers run on the
// capture goroutine and must not call Stop or Cancel synchronously.
func (s *Session) OnLevel(fn func(LevelSample)) (cancel func()) {
	return s.levels.Add(fn)
}

// Start begins a recording into sink. When sink is nil a new file is created
// in the output directory. The returned Completion resolves when the session
// is idle again.
func (s *Session) Start(sink io.Writer) (*Completion, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	cfg := s.cfg
	prev := s.run
	r := s.newRun(cfg)
	s.run = r
	s.state = StateRecording
	s.mu.Unlock()

	err := s.launch(r, cfg, sink)
	close(r.launched)
	if err != nil {
		s.mu.Lock()
		if s.run == r {
			s.run = prev
			s.state = StateIdle
		}
		s.mu.Unlock()
		r.log.Error("failed to start recording", "error", err)
		return nil, err
	}

	return r.completion, nil
}

func (s *Session) newRun(cfg Config) *run {
	id := uuid.NewString()
	log := s.log.With("session_id", id)
	return &run{
		id:         id,
		log:        log,
		recorder:   NewRecorder(s.recorderOptions(log)...),
		tracker:    audio.NewSilenceTracker(cfg.silenceConfig()),
		decision:   func() {},
		launched:   make(chan struct{}),
		done:       make(chan struct{}),
		completion: newCompletion(),
	}
}

func (s *Session) recorderOptions(log *slog.Logger) []RecorderOption {
	opts := []RecorderOption{WithRecorderLogger(log)}
	if !s.streamingHeader {
		opts = append(opts, WithoutStreamingHeader())
	}
	return opts
}

// launch resolves the destination, creates the source and starts recording.
func (s *Session) launch(r *run, cfg Config, sink io.Writer) error {
	r.tracker.Reset()

	if sink == nil {
		f, err := createOutputFile(s.outputDir, s.prefix, r.id, s.now())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStartFailed, err)
		}
		r.file = f
		r.sink = f
		r.path = f.Name()
	} else {
		r.sink = sink
		r.path = sinkPath(sink)
	}

	src, err := s.sources(cfg.Format())
	if err != nil {
		s.discardOutput(r)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if src == nil {
		s.discardOutput(r)
		return fmt.Errorf("%w: source factory returned no source", ErrInvalidArgument)
	}
	r.source = src
	r.format = audio.FormatFor(src.BitsPerSample())

	r.decision = src.OnBuffer(func(buf []byte) { s.handleBuffer(r, buf) })
	r.cancels = []func(){
		src.OnActiveChanged(func(active bool) {
			if !active {
				s.trigger(r, ReasonSourceStopped)
			}
		}),
		src.OnError(func(err error) {
			r.log.Warn("capture source error", "error", err)
			s.errs.Emit(err)
			s.trigger(r, ReasonSourceError)
		}),
		r.recorder.OnError(func(err error) {
			s.errs.Emit(err)
			s.trigger(r, ReasonWriteFailed)
		}),
	}

	if err := r.recorder.Start(src, r.sink); err != nil {
		r.decision()
		for _, cancel := range r.cancels {
			cancel()
		}
		s.discardOutput(r)
		return err
	}

	r.details = detailsOf(src)
	r.startedAt = s.now()
	r.tracker.MarkStarted(r.startedAt)
	r.started.Store(true)

	r.log.Info("recording started",
		"path", r.path,
		"sample_rate", r.details.SampleRate,
		"channels", r.details.ChannelCount,
		"bits_per_sample", r.details.BitsPerSample)
	return nil
}

// discardOutput closes and removes a file created for a run that never started.
func (s *Session) discardOutput(r *run) {
	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		r.log.Warn("failed to close output file", "error", err)
	}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("failed to remove output file", "path", r.path, "error", err)
	}
}

// handleBuffer runs the stop decision for one delivered buffer.
func (s *Session) handleBuffer(r *run, buf []byte) {
	if r.stopping.Load() {
		return
	}

	now := s.now()
	level := audio.CalculateAmplitude(buf, r.format)
	ev := r.tracker.Update(level, now)

	s.levels.Emit(LevelSample{
		SessionID:       r.id,
		Level:           level,
		DB:              audio.LevelToDB(level),
		Discarded:       ev.Discarded,
		AudioDetected:   ev.AudioDetected,
		SilenceDuration: ev.SilenceDuration,
		At:              now,
	})

	if ev.Stop() {
		r.log.Info("stop triggered", "reason", ev.Trigger, "silence_duration", ev.SilenceDuration)
		s.trigger(r, reasonFor(ev.Trigger))
	}
}

// trigger stops r from a notification handler. The buffer subscription is
// cancelled before returning; teardown runs on its own goroutine.
func (s *Session) trigger(r *run, reason StopReason) {
	if !r.stopping.CompareAndSwap(false, true) {
		return
	}
	r.decision()
	go s.finish(r, reason, true)
}

// Stop ends the current recording and notifies finished listeners.
func (s *Session) Stop() error {
	return s.stop(ReasonManual, true)
}

// Cancel ends the current recording without notifying finished listeners.
// The completion still resolves.
func (s *Session) Cancel() error {
	return s.stop(ReasonCancelled, false)
}

func (s *Session) stop(reason StopReason, continueProcessing bool) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		return ErrNotRecording
	}
	<-r.launched
	if !r.started.Load() {
		return ErrNotRecording
	}

	if !r.stopping.CompareAndSwap(false, true) {
		// Another stop is in flight or done.
		<-r.done
		return r.stopErr
	}
	r.decision()
	s.finish(r, reason, continueProcessing)
	return r.stopErr
}

// finish tears down r and resolves its completion. It runs at most once per run.
func (s *Session) finish(r *run, reason StopReason, continueProcessing bool) {
	<-r.launched
	if !r.started.Load() {
		// Start failed and already released everything.
		close(r.done)
		return
	}

	s.mu.Lock()
	if s.run == r {
		s.state = StateFinalizing
	}
	s.mu.Unlock()

	r.source.Flush()
	for _, cancel := range r.cancels {
		cancel()
	}
	if err := r.source.Stop(); err != nil {
		r.log.Warn("failed to stop capture source", "error", err)
	}

	var errs []error
	if err := r.recorder.Stop(); err != nil {
		errs = append(errs, err)
	}

	audioDetected := r.tracker.AudioDetected()
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close output file: %w", ErrFinalizeFailed, err))
		}
		if !audioDetected && !s.keepSilent {
			if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.log.Warn("failed to remove silent recording", "path", r.path, "error", err)
			}
		}
	}

	result := Result{
		SessionID:     r.id,
		AudioDetected: audioDetected,
		Reason:        reason,
		BytesWritten:  r.recorder.BytesWritten(),
		StartedAt:     r.startedAt,
		Duration:      s.now().Sub(r.startedAt),
		Details:       r.details,
	}
	if audioDetected {
		result.Path = r.path
	}

	r.stopErr = errors.Join(errs...)
	for _, err := range errs {
		if errors.Is(err, ErrSinkNotSeekable) {
			r.log.Warn("wav header left with unknown length", "error", err)
		} else {
			r.log.Error("failed to finalize recording", "error", err)
		}
		s.errs.Emit(err)
	}

	s.mu.Lock()
	if s.run == r {
		s.state = StateIdle
	}
	s.mu.Unlock()

	r.completion.resolve(result)
	close(r.done)

	r.log.Info("recording stopped",
		"reason", reason,
		"audio_detected", audioDetected,
		"path", result.Path,
		"bytes_written", result.BytesWritten,
		"duration", result.Duration)

	if continueProcessing {
		s.finished.Emit(result)
	}
}

// IsRecording reports whether the session is not idle.
func (s *Session) IsRecording() bool {
	return s.State() != StateIdle
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ResultPath returns the recording path of the last finished session, if it detected audio.
func (s *Session) ResultPath() (string, bool) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		return "", false
	}
	result, ok := r.completion.Result()
	if !ok || !result.HasPath() {
		return "", false
	}
	return result.Path, true
}

// ActivePath returns the path of the file being recorded, if any.
func (s *Session) ActivePath() (string, bool) {
	s.mu.Lock()
	r, state := s.run, s.state
	s.mu.Unlock()

	if r == nil || state == StateIdle || !r.started.Load() || r.path == "" {
		return "", false
	}
	return r.path, true
}

// StreamDetails returns the format of the current or last recording.
func (s *Session) StreamDetails() (StreamDetails, bool) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil || !r.started.Load() {
		return StreamDetails{}, false
	}
	return r.details, true
}

// SessionID returns the ID of the current or last run.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.id
}

// StartedAt returns the start time of the current or last run.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil || !r.started.Load() {
		return time.Time{}
	}
	return r.startedAt
}

// BytesWritten returns the audio bytes written by the current or last run.
func (s *Session) BytesWritten() int64 {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.recorder.BytesWritten()
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the configuration. It takes effect on the next Start.
func (s *Session) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrAlreadyRecording
	}
	s.cfg = cfg
	return nil
}
