//go:build !linux

package audio

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for raw PCM capture to stdout.
func buildFFmpegCaptureArgs(inputFormat, device string, f Format) []string {
	args := []string{
		"-f", inputFormat,
		"-i", device,
	}
	if nostdin {
		args = append(args, "-nostdin")
	}
	return append(args,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", ffmpegSampleFormat(f.BitsPerSample),
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"pipe:1",
	)
}

// ffmpegSampleFormat maps a bit depth to the FFmpeg raw muxer name.
func ffmpegSampleFormat(bits int) string {
	if bits == 8 {
		return "u8"
	}
	return "s16le"
}
