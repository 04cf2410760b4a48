package audio

import (
	"errors"
	"log/slog"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/ffmpeg"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for capturing device in format f.
	BuildArgs func(device string, f Format) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it attempts to use the default or auto-detect.
// The ffmpegPath parameter is used on platforms that use FFmpeg for capture.
func BuildCaptureCommand(device, ffmpegPath string, f Format) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device, f), nil
}

// CaptureCommand returns the executable used for capture on this platform.
func CaptureCommand(ffmpegPath string) string {
	cfg := getPlatformConfig()
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		return ffmpegPath
	}
	return cfg.Command
}

// NewCommandSource returns a Source reading raw PCM from the platform capture
// command (arecord on Linux, FFmpeg elsewhere).
func NewCommandSource(device, ffmpegPath string, f Format) *StreamSource {
	return newStreamSource(f, func() (*stream, error) {
		name, args, err := BuildCaptureCommand(device, ffmpegPath, f)
		if err != nil {
			return nil, err
		}

		slog.Info("starting audio capture", "command", name, "input", device,
			"sample_rate", f.SampleRate, "channels", f.Channels, "bits", f.BitsPerSample)

		proc, err := ffmpeg.StartProcess(name, args, StopTimeout/2)
		if err != nil {
			return nil, err
		}

		return &stream{
			r: proc.Stdout,
			stop: func() error {
				proc.Stop()
				return nil
			},
			wait: proc.Wait,
		}, nil
	})
}
