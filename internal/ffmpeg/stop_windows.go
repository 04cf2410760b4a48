//go:build windows

package ffmpeg

import "github.com/oszuidwest/zwfm-voicerecorder/internal/util"

// interrupt asks FFmpeg to quit through stdin; Windows has no SIGINT for child processes.
func interrupt(p *Process) error {
	return util.StopFFmpegViaStdin(p.Stdin)
}
