package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// StreamKind identifies the media kind of a source track.
type StreamKind string

const (
	StreamVideo      StreamKind = "video"
	StreamAudio      StreamKind = "audio"
	StreamSubtitle   StreamKind = "subtitle"
	StreamAttachment StreamKind = "attachment"
)

// StreamDescriptor describes one source track. It is derived once per source
// file by probing and never mutated afterwards.
type StreamDescriptor struct {
	Index    int        `json:"index"`
	Kind     StreamKind `json:"kind"`
	Codec    string     `json:"codec"`
	Language string     `json:"language,omitempty"`
	Title    string     `json:"title,omitempty"`
	Duration float64    `json:"duration,omitempty"`

	// Video-specific.
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`

	// Audio-specific.
	Channels int `json:"channels,omitempty"`
}

// textSubtitleCodecs are subtitle formats rendered client-side; their presence
// in a source disables server-side subtitle burn-in entirely.
var textSubtitleCodecs = map[string]bool{
	"subrip":   true,
	"srt":      true,
	"ass":      true,
	"ssa":      true,
	"webvtt":   true,
	"mov_text": true,
}

// imageSubtitleCodecs are bitmap subtitle formats that can only be delivered
// by burning them into the video.
var imageSubtitleCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true,
	"dvd_subtitle":      true,
	"dvb_subtitle":      true,
	"xsub":              true,
}

// IsTextSubtitle reports whether the track is a text-based subtitle.
func (s StreamDescriptor) IsTextSubtitle() bool {
	return s.Kind == StreamSubtitle && textSubtitleCodecs[s.Codec]
}

// IsImageSubtitle reports whether the track is an image-based subtitle.
func (s StreamDescriptor) IsImageSubtitle() bool {
	return s.Kind == StreamSubtitle && imageSubtitleCodecs[s.Codec]
}

// MediaInfo contains the probed description of a source file.
type MediaInfo struct {
	Path     string             `json:"path"`
	Format   string             `json:"format"`
	Duration float64            `json:"duration"`
	Streams  []StreamDescriptor `json:"streams"`
}

// probeResult mirrors the ffprobe JSON output.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type probeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	Channels     int               `json:"channels,omitempty"`
	Duration     string            `json:"duration,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	RFrameRate   string            `json:"r_frame_rate,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new source prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a source file and returns its track list and container metadata.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return buildMediaInfo(path, &result), nil
}

// buildMediaInfo converts raw ffprobe output into a MediaInfo.
func buildMediaInfo(path string, result *probeResult) *MediaInfo {
	info := &MediaInfo{
		Path:   path,
		Format: result.Format.FormatName,
	}

	if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	for _, stream := range result.Streams {
		desc := StreamDescriptor{
			Index: stream.Index,
			Codec: stream.CodecName,
		}

		switch stream.CodecType {
		case "video":
			desc.Kind = StreamVideo
			desc.Width = stream.Width
			desc.Height = stream.Height
			if stream.AvgFrameRate != "" {
				desc.FrameRate = parseFrameRate(stream.AvgFrameRate)
			}
			if desc.FrameRate == 0 && stream.RFrameRate != "" {
				desc.FrameRate = parseFrameRate(stream.RFrameRate)
			}
		case "audio":
			desc.Kind = StreamAudio
			desc.Channels = stream.Channels
		case "subtitle":
			desc.Kind = StreamSubtitle
		case "attachment":
			desc.Kind = StreamAttachment
		default:
			continue
		}

		if lang, ok := stream.Tags["language"]; ok {
			desc.Language = lang
		}
		if title, ok := stream.Tags["title"]; ok {
			desc.Title = title
		}
		if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
			desc.Duration = d
		} else {
			desc.Duration = info.Duration
		}

		info.Streams = append(info.Streams, desc)
	}

	return info
}

// parseFrameRate parses a frame rate string like "30000/1001" or "25/1".
func parseFrameRate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
