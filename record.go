package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/recording"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
	"github.com/spf13/cobra"
)

var recordFlags struct {
	output         string
	threshold      float64
	silenceTimeout time.Duration
	totalTimeout   time.Duration
	noSilenceStop  bool
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one voice message",
	Long: `Record from the configured input device until silence is detected,
the total timeout is reached, or Ctrl+C is pressed.

Without --output the recording is written to the configured output
directory. A recording without any detected audio is discarded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		applyRecordFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		a.start()
		defer a.close()

		out := cmd.OutOrStdout()
		if recordFlags.output == "-" {
			out = cmd.ErrOrStderr()
		}
		return runRecording(cmd.Context(), a, out)
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordFlags.output, "output", "o", "", "write the recording to this file (use - for stdout)")
	recordCmd.Flags().Float64Var(&recordFlags.threshold, "threshold", 0, "silence threshold between 0 and 1 (overrides config)")
	recordCmd.Flags().DurationVar(&recordFlags.silenceTimeout, "silence-timeout", 0, "silence before stopping (overrides config)")
	recordCmd.Flags().DurationVar(&recordFlags.totalTimeout, "total-timeout", 0, "maximum recording length (overrides config)")
	recordCmd.Flags().BoolVar(&recordFlags.noSilenceStop, "no-silence-stop", false, "do not stop on silence")
}

// applyRecordFlags copies explicitly set flags into the loaded configuration.
func applyRecordFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.Recording.SilenceThreshold = recordFlags.threshold
	}
	if flags.Changed("silence-timeout") {
		cfg.Recording.SilenceTimeoutMs = recordFlags.silenceTimeout.Milliseconds()
	}
	if flags.Changed("total-timeout") {
		cfg.Recording.TotalTimeoutMs = recordFlags.totalTimeout.Milliseconds()
	}
	if recordFlags.noSilenceStop {
		cfg.Recording.StopOnSilence = false
	}
}

// runRecording records one session and reports the result on out.
func runRecording(ctx context.Context, a *app, out io.Writer) error {
	sink, closeSink, err := openSink(recordFlags.output)
	if err != nil {
		return err
	}

	completion, err := a.recorder().Start(sink)
	if err != nil {
		closeSink(false)
		return fmt.Errorf("failed to start recording: %w", err)
	}
	slog.Info("recording, press Ctrl+C to stop",
		"session_id", a.session.SessionID(),
		"silence_timeout", a.session.Config().SilenceTimeout,
		"total_timeout", a.session.Config().TotalTimeout)

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, util.ShutdownSignals()...)
	defer stop()

	var stopErr error
	select {
	case <-completion.Done():
	case <-sigCtx.Done():
		slog.Info("stopping recording")
		stopErr = a.session.Stop()
	}

	result, err := completion.Wait(context.Background())
	if err != nil {
		closeSink(false)
		return err
	}
	closeSink(result.AudioDetected)

	printResult(out, result)

	if stopErr != nil && !errors.Is(stopErr, recording.ErrSinkNotSeekable) {
		return stopErr
	}
	return nil
}

// openSink opens the requested output. An empty path lets the session create
// its own file. The returned close function removes a created file when keep is false.
func openSink(path string) (io.Writer, func(keep bool), error) {
	switch path {
	case "":
		return nil, func(bool) {}, nil
	case "-":
		return os.Stdout, func(bool) {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, util.WrapError("create output file", err)
	}
	return f, func(keep bool) {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close output file", "path", path, "error", err)
		}
		if !keep {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to remove output file", "path", path, "error", err)
			}
		}
	}, nil
}

func printResult(out io.Writer, r recording.Result) {
	if !r.AudioDetected {
		fmt.Fprintf(out, "No audio detected (%s), recording discarded\n", r.Reason)
		return
	}
	fmt.Fprintf(out, "Recorded %s (%s, %d bytes)", util.FormatDuration(r.Duration.Milliseconds()), r.Reason, r.BytesWritten)
	if r.Path != "" {
		fmt.Fprintf(out, ": %s", r.Path)
	}
	fmt.Fprintln(out)
}
