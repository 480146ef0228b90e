package transcode

import "github.com/watchroom/watchroom/internal/ffmpeg"

// Target is the normalized output profile derived from the source video track.
type Target struct {
	// FrameRate is either 30 or 60; sources above 30fps are normalized to 60,
	// everything else to 30, so segment boundaries land on whole frames.
	FrameRate int
	// Width is the output width in pixels, capped so 4K sources are
	// downscaled. Height follows the source aspect ratio.
	Width int
	// SegmentSeconds is the HLS segment duration.
	SegmentSeconds int
}

// DeriveTarget computes the output profile for a source video track.
func DeriveTarget(video ffmpeg.StreamDescriptor, maxWidth, segmentSeconds int) Target {
	t := Target{
		FrameRate:      30,
		Width:          video.Width,
		SegmentSeconds: segmentSeconds,
	}
	if video.FrameRate > 30 {
		t.FrameRate = 60
	}
	if maxWidth > 0 && (t.Width <= 0 || t.Width > maxWidth) {
		t.Width = maxWidth
	}
	return t
}

// KeyframeInterval is the GOP length in frames, aligned to segment boundaries.
func (t Target) KeyframeInterval() int {
	return t.FrameRate * t.SegmentSeconds
}

// NeedsScale reports whether the source must be scaled to reach the target.
func (t Target) NeedsScale(video ffmpeg.StreamDescriptor) bool {
	return video.Width != t.Width
}
