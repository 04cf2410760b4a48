package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Recorder is the recording session controlled by the server.
type Recorder interface {
	Start(sink io.Writer) (*recording.Completion, error)
	Stop() error
	Cancel() error
	State() recording.State
	SessionID() string
	StartedAt() time.Time
	BytesWritten() int64
	ActivePath() (string, bool)
	Config() recording.Config
	SetConfig(cfg recording.Config) error
	OnLevel(fn func(recording.LevelSample)) (cancel func())
	OnFinished(fn func(recording.Result)) (cancel func())
	OnError(fn func(error)) (cancel func())
}

// ArchiveStatusProvider reports the state of the upload queue.
type ArchiveStatusProvider interface {
	Status() types.ArchiveStatus
}

// Option configures a Server.
type Option func(*Server)

// WithArchive includes the upload queue in status messages.
func WithArchive(a ArchiveStatusProvider) Option {
	return func(s *Server) {
		s.archive = a
	}
}

// WithEventLog enables event log queries from the given file.
func WithEventLog(path string) Option {
	return func(s *Server) {
		s.commands.eventLogPath = path
	}
}

// WithWebhookTest enables the webhook test command.
func WithWebhookTest(fn func(context.Context) error) Option {
	return func(s *Server) {
		s.commands.testWebhook = fn
	}
}

// WithArchiveTest enables the archive connection test command.
func WithArchiveTest(fn func(context.Context) error) Option {
	return func(s *Server) {
		s.commands.testArchive = fn
	}
}

// WithVersion sets the version information reported in status messages.
func WithVersion(fn func() types.VersionInfo) Option {
	return func(s *Server) {
		if fn != nil {
			s.version = fn
		}
	}
}

// WithRequestLogging logs every HTTP request.
func WithRequestLogging(enabled bool) Option {
	return func(s *Server) {
		s.requestLogging = enabled
	}
}

// Server serves the live monitor and control API for one recording session.
type Server struct {
	session        Recorder
	monitor        *Monitor
	commands       *CommandHandler
	archive        ArchiveStatusProvider
	version        func() types.VersionInfo
	now            func() time.Time
	requestLogging bool
}

// New returns a Server for session. Call Close to release the session subscriptions.
func New(session Recorder, opts ...Option) *Server {
	s := &Server{
		session:  session,
		monitor:  NewMonitor(session),
		commands: &CommandHandler{session: session},
		version:  func() types.VersionInfo { return types.VersionInfo{} },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close removes the session subscriptions.
func (s *Server) Close() {
	s.monitor.Close()
}

// Routes returns an [http.Handler] configured with all monitor routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	if s.requestLogging {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleAPIStatus)
		r.Get("/levels", s.handleAPILevels)

		r.Route("/session", func(r chi.Router) {
			r.Post("/start", s.handleAPIStart)
			r.Post("/stop", s.handleAPIStop)
			r.Post("/cancel", s.handleAPICancel)
		})

		r.Get("/settings", s.handleAPIGetSettings)
		r.Put("/settings", s.handleAPIUpdateSettings)
		r.Get("/events", s.handleAPIEvents)
	})

	return r
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins serving on addr.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start(addr string) *http.Server {
	slog.Info("starting monitor server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}

// handleWebSocket handles bidirectional WebSocket communication for live updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, sendBuffer)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	unsubscribe := s.monitor.Subscribe(send)
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.runWebSocketWriter(conn, send, done)
	}()

	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
	<-writerDone
}

// runWebSocketWriter writes queued messages to the connection until done is closed.
func (s *Server) runWebSocketWriter(conn WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn WebSocketConn, send chan<- any, done chan<- struct{}, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop sends periodic status and level updates until done is closed.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(types.LevelsInterval)
	statusTicker := time.NewTicker(types.StatusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	// push queues msg, returning false once the connection is done
	push := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !push(s.buildStatus()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildStatus()
		case <-statusTicker.C:
			msg = s.buildStatus()
		case <-levelsTicker.C:
			msg = types.WSLevelsResponse{Type: types.MessageLevels, Levels: s.monitor.Levels()}
		}
		if !push(msg) {
			return
		}
	}
}

// buildStatus returns the current status message.
func (s *Server) buildStatus() types.WSStatusResponse {
	status := types.WSStatusResponse{
		Type:     types.MessageStatus,
		Session:  s.sessionStatus(),
		Last:     s.monitor.Last(),
		Settings: recordingSettings(s.session.Config()),
		Platform: runtime.GOOS,
		Version:  s.version(),
	}
	if s.archive != nil {
		a := s.archive.Status()
		status.Archive = &a
	}
	return status
}

// sessionStatus describes the current session.
func (s *Server) sessionStatus() types.SessionStatus {
	state := s.session.State()
	status := types.SessionStatus{
		State:     string(state),
		SessionID: s.session.SessionID(),
	}
	if state == recording.StateIdle {
		return status
	}

	status.BytesWritten = s.session.BytesWritten()
	if path, ok := s.session.ActivePath(); ok {
		status.Path = path
	}
	if started := s.session.StartedAt(); !started.IsZero() {
		status.StartedAt = started
		status.ElapsedMs = s.now().Sub(started).Milliseconds()
	}
	return status
}
