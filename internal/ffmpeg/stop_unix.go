//go:build !windows

package ffmpeg

import "github.com/oszuidwest/zwfm-voicerecorder/internal/util"

// interrupt sends the graceful termination signal.
func interrupt(p *Process) error {
	return util.GracefulSignal(p.Cmd.Process)
}
