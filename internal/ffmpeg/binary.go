// Package ffmpeg wraps the external FFmpeg/FFprobe tooling: binary resolution,
// source probing, encoder capability probing, and subprocess supervision.
package ffmpeg

import (
	"fmt"
	"os/exec"
)

// Binaries holds resolved paths to the ffmpeg and ffprobe executables.
type Binaries struct {
	FFmpeg  string `json:"ffmpeg"`
	FFprobe string `json:"ffprobe"`
}

// FindBinaries resolves the ffmpeg and ffprobe binaries. Explicit paths take
// precedence; empty paths fall back to a PATH lookup.
func FindBinaries(ffmpegPath, ffprobePath string) (*Binaries, error) {
	ffmpeg, err := resolve(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolve(ffprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &Binaries{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

func resolve(configured, name string) (string, error) {
	if configured != "" {
		if _, err := exec.LookPath(configured); err != nil {
			return "", fmt.Errorf("resolving %s at %q: %w", name, configured, err)
		}
		return configured, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locating %s on PATH: %w", name, err)
	}
	return path, nil
}
