// Package ffmpeg manages the capture subprocesses that deliver raw PCM on
// stdout (FFmpeg, or arecord on Linux).
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// Process represents a running capture subprocess.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr *bytes.Buffer

	killDelay time.Duration
}

// StartProcess launches name with args. Stop interrupts the process gracefully
// and kills it when it has not exited within killDelay.
func StartProcess(name string, args []string, killDelay time.Duration) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)
	p := &Process{Cmd: cmd, Cancel: cancel, killDelay: killDelay}

	cmd.Cancel = func() error {
		return interrupt(p)
	}
	cmd.WaitDelay = killDelay

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	p.Stdin = stdinPipe

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	p.Stdout = stdoutPipe

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	p.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		if closeErr := stdinPipe.Close(); closeErr != nil {
			slog.Warn("failed to close stdin pipe", "error", closeErr)
		}
		return nil, util.WrapError("start "+name, err)
	}

	return p, nil
}

// Stop asks the process to exit and kills it after the kill delay.
// It does not wait; call Wait to reap it.
func (p *Process) Stop() {
	p.Cancel()
	time.AfterFunc(p.killDelay, func() {
		if err := p.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Debug("failed to kill capture process", "error", err)
		}
	})
}

// Wait waits for the process to exit. A failed exit carries the last line of stderr.
func (p *Process) Wait() error {
	defer p.Cancel()
	if err := p.Cmd.Wait(); err != nil {
		if msg := util.ExtractLastError(p.Stderr.String()); msg != "" {
			return fmt.Errorf("capture process exited: %w: %s", err, msg)
		}
		return fmt.Errorf("capture process exited: %w", err)
	}
	return nil
}
