//go:build !linux && !windows

package audio

const nostdin = true
