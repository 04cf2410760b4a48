package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/archive"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	listen         string
	noVersionCheck bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live monitor and control server",
	Long: `Serve a JSON API and a WebSocket feed for starting, stopping and
monitoring recordings. Old recordings are removed on the configured
cleanup schedule when a retention period is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.Server.Listen = serveFlags.listen
		}
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.noVersionCheck, "no-version-check", false, "do not check GitHub for new releases")
}

// serverOptions returns the monitor options for the configured collaborators.
func serverOptions(a *app, vc *VersionChecker, requestLogging bool) []server.Option {
	opts := []server.Option{
		server.WithVersion(vc.Info),
		server.WithRequestLogging(requestLogging),
	}
	if a.events != nil {
		opts = append(opts, server.WithEventLog(a.events.Path()))
	}
	if a.notifier.Enabled() {
		opts = append(opts, server.WithWebhookTest(a.notifier.SendTest))
	}

	archiveCfg := a.cfg.ArchiveConfig()
	if archiveCfg.UsesS3() {
		opts = append(opts,
			server.WithArchive(a.uploader),
			server.WithArchiveTest(func(ctx context.Context) error {
				return archive.TestConnection(ctx, &archiveCfg.S3)
			}),
		)
	}
	return opts
}

func runServer(ctx context.Context) error {
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	a.start()
	defer a.close()

	vc := NewVersionChecker()
	if !serveFlags.noVersionCheck {
		vc.Start()
	}
	defer vc.Stop()

	srv := server.New(a.recorder(), serverOptions(a, vc, verbose > 0)...)
	defer srv.Close()

	var scheduler *archive.Scheduler
	if cfg.Archive.RetentionDays > 0 {
		cleanOpts := []archive.CleanerOption{archive.WithBusyCheck(a.busy)}
		if a.events != nil {
			cleanOpts = append(cleanOpts, archive.WithCleanupEvents(a.events))
		}
		cleaner := archive.NewCleaner(cfg.ArchiveConfig(), cleanOpts...)
		scheduler, err = archive.NewScheduler(cleaner, cfg.Archive.CleanupSchedule)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	httpServer := srv.Start(cfg.Server.Listen)

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, util.ShutdownSignals()...)
	defer stop()
	<-sigCtx.Done()

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// A recording in progress is kept.
	if err := a.session.Stop(); err != nil && !errors.Is(err, recording.ErrNotRecording) {
		slog.Error("error stopping recording", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
