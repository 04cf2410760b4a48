package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/eventlog"
	"github.com/spf13/cobra"
)

var eventsFlags struct {
	limit  int
	offset int
	filter string
	json   bool
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent session and archive events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter, err := eventlog.ParseFilter(eventsFlags.filter)
		if err != nil {
			return err
		}

		events, hasMore, err := eventlog.ReadLast(cfg.EventLogPath(), eventsFlags.limit, eventsFlags.offset, filter)
		if err != nil {
			return fmt.Errorf("failed to read event log: %w", err)
		}

		out := cmd.OutOrStdout()
		if eventsFlags.json {
			return writeJSON(out, events)
		}
		printEvents(out, events)
		if hasMore {
			fmt.Fprintf(out, "(more events, use --offset %d)\n", eventsFlags.offset+len(events))
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsFlags.limit, "limit", "n", 20, "number of events to show")
	eventsCmd.Flags().IntVar(&eventsFlags.offset, "offset", 0, "number of newest events to skip")
	eventsCmd.Flags().StringVar(&eventsFlags.filter, "filter", "all", "event kind: all, session or archive")
	eventsCmd.Flags().BoolVar(&eventsFlags.json, "json", false, "print as JSON")
}

func printEvents(out io.Writer, events []eventlog.Event) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tSESSION\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Type, e.SessionID, e.Message)
	}
	_ = w.Flush()
}
