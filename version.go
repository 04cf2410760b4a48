package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var versionFlags struct {
	check bool
	json  bool
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versionInfo("")
		if versionFlags.check {
			vc := NewVersionChecker()
			ctx, cancel := context.WithTimeout(cmd.Context(), versionCheckTimeout)
			defer cancel()
			if err := vc.Check(ctx); err != nil {
				return fmt.Errorf("failed to check for updates: %w", err)
			}
			info = vc.Info()
		}

		out := cmd.OutOrStdout()
		if versionFlags.json {
			return writeJSON(out, info)
		}

		fmt.Fprintf(out, "voicerecorder %s (commit %s, built %s)\n", info.Current, info.Commit, info.BuildTime)
		switch {
		case info.UpdateAvail:
			fmt.Fprintf(out, "Update available: %s\n", info.Latest)
		case versionFlags.check && info.Latest != "":
			fmt.Fprintln(out, "Up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionFlags.check, "check", false, "check GitHub for a newer release")
	versionCmd.Flags().BoolVar(&versionFlags.json, "json", false, "print as JSON")
}
