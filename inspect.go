package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/audio"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/wav"
	"github.com/spf13/cobra"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.wav>...",
	Short: "Show the format of recorded WAV files",
	Long: `Decode the header of each file and check the declared data length
against the file size. A file whose header still carries the streaming
placeholder length is reported as inconsistent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := make([]wav.Info, 0, len(args))
		for _, path := range args {
			info, err := wav.Inspect(path)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}

		if inspectJSON {
			return writeJSON(cmd.OutOrStdout(), infos)
		}
		printInfos(cmd.OutOrStdout(), infos)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		devices := audio.Devices()
		if inspectJSON {
			return writeJSON(cmd.OutOrStdout(), devices)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Name)
		}
		return w.Flush()
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print as JSON")
	devicesCmd.Flags().BoolVar(&inspectJSON, "json", false, "print as JSON")
}

func printInfos(out io.Writer, infos []wav.Info) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tFORMAT\tDURATION\tDATA\tSTATUS")
	for _, info := range infos {
		status := "ok"
		if !info.Consistent {
			status = "length mismatch"
		}
		fmt.Fprintf(w, "%s\t%d Hz %d-bit %dch\t%s\t%d bytes\t%s\n",
			info.Path, info.SampleRate, info.BitsPerSample, info.Channels,
			info.Duration.Round(10*time.Millisecond), info.DataLength, status)
	}
	_ = w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
