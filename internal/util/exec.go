package util

import "os/exec"

// ResolveExecutable returns the path of an executable.
// A non-empty customPath is used as is when it can be executed; otherwise name
// is looked up in the system PATH. Returns an empty string if nothing is found.
func ResolveExecutable(customPath, name string) string {
	if customPath != "" {
		if _, err := exec.LookPath(customPath); err == nil {
			return customPath
		}
		return ""
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

// ResolveFFmpegPath returns the path to the FFmpeg binary, or "" if it is not found.
func ResolveFFmpegPath(customPath string) string {
	return ResolveExecutable(customPath, "ffmpeg")
}
