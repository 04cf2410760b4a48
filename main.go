// Package main provides a voice recorder that captures audio from an input
// device and stops on silence or after a total timeout.
//
// Usage:
//
//	voicerecorder record [-o file.wav]
//	voicerecorder serve
//
// The configuration is read from $HOME/.config/voicerecorder.yaml unless
// --config is given. VOICEREC_* environment variables override file values.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg       *config.Config
	cfgFile   string
	verbose   int
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "voicerecorder",
	Short: "Record voice messages that stop on silence",
	Long: `voicerecorder captures audio from an input device into WAV files.
A recording stops after a configurable period of silence or when the
total timeout is reached. Finished recordings can be archived to S3
and announced to a webhook.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := setupLogging(verbose, logFormat); err != nil {
			return err
		}

		// These commands work without a readable config file.
		switch cmd.Name() {
		case "version", "init", "inspect", "devices":
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if path := cfg.Path(); path != "" {
			slog.Debug("using config file", "path", path)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/"+config.DefaultConfigName+")")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "verbose output (-v debug)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogging configures slog on stderr for the verbose level and format.
func setupLogging(level int, format string) error {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if level > 0 {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
