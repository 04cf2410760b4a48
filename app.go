package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/archive"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/config"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/notify"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// app wires a recording session to the event log, the archive and notifications.
type app struct {
	cfg      *config.Config
	session  *recording.Session
	events   *eventlog.Logger // nil when the event log could not be opened
	uploader *archive.Uploader
	notifier *notify.Notifier
	cancels  []func()
}

// newApp builds the session and its collaborators from cfg.
func newApp(cfg *config.Config, sources recording.SourceFactory) (*app, error) {
	if dir := cfg.Recording.OutputDir; dir != "" {
		if err := util.CheckPathWritable(dir); err != nil {
			return nil, fmt.Errorf("output directory %s: %w", dir, err)
		}
	}

	if sources == nil {
		sources = captureSources(cfg)
	}

	opts := append(cfg.SessionOptions(), recording.WithLogger(slog.Default()))
	session, err := recording.NewSession(cfg.SessionConfig(), sources, opts...)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		session:  session,
		notifier: notify.NewNotifier(cfg.Notifications.Webhook.URL),
	}

	if events, err := eventlog.NewLogger(cfg.EventLogPath()); err != nil {
		slog.Warn("event log disabled", "path", cfg.EventLogPath(), "error", err)
	} else {
		a.events = events
	}

	var uploadOpts []archive.UploaderOption
	if a.events != nil {
		uploadOpts = append(uploadOpts, archive.WithEventLogger(a.events))
	}
	a.uploader, err = archive.NewUploader(cfg.ArchiveConfig(), uploadOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	a.cancels = append(a.cancels,
		session.OnFinished(a.handleFinished),
		session.OnError(a.handleError),
	)
	return a, nil
}

// captureSources returns the factory for the platform capture command.
func captureSources(cfg *config.Config) recording.SourceFactory {
	ffmpegPath := util.ResolveFFmpegPath(cfg.System.FFmpegPath)
	command := audio.CaptureCommand(ffmpegPath)
	if path := util.ResolveExecutable("", command); path == "" {
		slog.Warn("capture command not found, recordings will fail to start",
			"command", command, "configured_ffmpeg_path", cfg.System.FFmpegPath)
	} else {
		slog.Debug("capture command found", "path", path)
	}

	return func(f audio.Format) (audio.Source, error) {
		return audio.NewCommandSource(cfg.System.Device, ffmpegPath, f), nil
	}
}

// start starts the background upload worker.
func (a *app) start() {
	a.uploader.Start()
}

// close cancels the session subscriptions and drains pending work.
func (a *app) close() {
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil

	if a.uploader != nil {
		a.uploader.Stop()
	}
	a.notifier.Wait()
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			slog.Warn("failed to close event log", "error", err)
		}
	}
}

// recorder returns the session with starts recorded in the event log.
func (a *app) recorder() *loggedSession {
	return &loggedSession{Session: a.session, app: a}
}

// busy reports whether path is the file currently being recorded.
func (a *app) busy(path string) bool {
	active, ok := a.session.ActivePath()
	return ok && active == path
}

func (a *app) handleFinished(r recording.Result) {
	a.logSession(eventlog.SessionStopped, r.SessionID, r.String(), &eventlog.SessionDetails{
		Path:          r.Path,
		Reason:        string(r.Reason),
		AudioDetected: r.AudioDetected,
		BytesWritten:  r.BytesWritten,
		DurationMs:    r.Duration.Milliseconds(),
	})
	a.uploader.HandleFinished(r)
	a.notifier.SessionFinished(r)
}

func (a *app) handleError(err error) {
	id := a.session.SessionID()
	a.logSession(eventlog.SessionError, id, "session error", &eventlog.SessionDetails{Error: err.Error()})
	a.notifier.SessionError(id, err)
}

func (a *app) logSession(t eventlog.EventType, sessionID, msg string, details *eventlog.SessionDetails) {
	if a.events == nil {
		return
	}
	if err := a.events.LogSession(t, sessionID, msg, details); err != nil {
		slog.Warn("failed to write event log", "type", t, "error", err)
	}
}

// loggedSession is a session whose starts are recorded in the event log.
type loggedSession struct {
	*recording.Session
	app *app
}

// Start starts a recording and logs the start.
func (s *loggedSession) Start(sink io.Writer) (*recording.Completion, error) {
	completion, err := s.Session.Start(sink)
	if err != nil {
		return nil, err
	}

	path, _ := s.ActivePath()
	s.app.logSession(eventlog.SessionStarted, s.SessionID(), "recording started", &eventlog.SessionDetails{Path: path})
	return completion, nil
}
