//go:build windows

package audio

// -nostdin is not used on Windows so FFmpeg can still be stopped with 'q' on stdin.
const nostdin = false
