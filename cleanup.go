package main

import (
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/archive"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove recordings older than the retention period",
	Long: `Delete local and archived recordings older than archive.retention_days.
Nothing is removed when the retention period is 0.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var opts []archive.CleanerOption
		if events, err := eventlog.NewLogger(cfg.EventLogPath()); err != nil {
			slog.Warn("event log disabled", "path", cfg.EventLogPath(), "error", err)
		} else {
			defer events.Close() //nolint:errcheck // Best-effort close after a one-shot run
			opts = append(opts, archive.WithCleanupEvents(events))
		}

		result, err := archive.NewCleaner(cfg.ArchiveConfig(), opts...).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d local and %d archived recordings\n", result.LocalDeleted, result.S3Deleted)
		return nil
	},
}
