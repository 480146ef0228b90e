package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/watchroom/watchroom/internal/ffmpeg"
)

// Encoder identifies an H.264 encoder backend, in the form ffmpeg expects
// after -c:v.
type Encoder string

const (
	EncoderNVENC Encoder = "h264_nvenc"
	EncoderVAAPI Encoder = "h264_vaapi"
	EncoderX264  Encoder = "libx264"
)

const defaultVAAPIDevice = "/dev/dri/renderD128"

// AudioRendition describes one audio variant of the produced HLS output,
// in output order. OutputIndex matches the ffmpeg variant index minus one
// (variant zero is always video).
type AudioRendition struct {
	OutputIndex int    `json:"output_index"`
	SourceIndex int    `json:"source_index"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Default     bool   `json:"default"`
}

// Assembly is a fully assembled ffmpeg invocation plus the metadata clients
// need to label the output renditions.
type Assembly struct {
	Args   []string
	Audio  []AudioRendition
	BurnIn bool
}

// Assembler builds ffmpeg argument lists for live HLS transcodes.
type Assembler struct {
	Encoder      Encoder
	AudioBitrate string
	VAAPIDevice  string
}

// NewAssembler returns an Assembler for the given encoder backend.
func NewAssembler(encoder Encoder, audioBitrate string) *Assembler {
	if audioBitrate == "" {
		audioBitrate = "192k"
	}
	return &Assembler{
		Encoder:      encoder,
		AudioBitrate: audioBitrate,
		VAAPIDevice:  defaultVAAPIDevice,
	}
}

// Build assembles the complete argument list for transcoding input into a
// multi-variant HLS stream under outDir, starting at startOffset seconds.
//
// Variant zero is the video stream; audio variants follow in selection order
// so rendition metadata maps one-to-one onto variant indices.
func (a *Assembler) Build(input string, startOffset float64, sel Selection, target Target, outDir string) Assembly {
	args := []string{"-hide_banner", "-loglevel", "info", "-stats", "-y"}

	switch a.Encoder {
	case EncoderVAAPI:
		args = append(args,
			"-init_hw_device", "vaapi=va:"+a.device(),
			"-filter_hw_device", "va",
		)
	default:
		args = append(args, "-hwaccel", "auto")
	}

	if startOffset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startOffset, 'f', 3, 64))
	}
	args = append(args, "-i", input)

	graph, outLabel := a.videoFilter(sel, target)
	if graph != "" {
		args = append(args, "-filter_complex", graph, "-map", outLabel)
	} else {
		args = append(args, "-map", "0:"+strconv.Itoa(sel.Video.Index))
	}
	args = append(args, a.videoArgs(target)...)

	renditions := audioRenditions(sel.Audio)
	for _, r := range renditions {
		i := strconv.Itoa(r.OutputIndex)
		args = append(args, "-map", "0:"+strconv.Itoa(r.SourceIndex))
		args = append(args, "-c:a:"+i, "aac", "-b:a:"+i, a.AudioBitrate)
		if sel.Audio[r.OutputIndex].Channels > 2 {
			args = append(args, "-ac:a:"+i, "2", "-ar:a:"+i, "48000")
		} else {
			args = append(args, "-ar:a:"+i, "44100")
		}
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(target.SegmentSeconds),
		"-hls_playlist_type", "event",
		"-hls_flags", "independent_segments+temp_file",
		"-hls_segment_type", "mpegts",
		"-master_pl_name", "master.m3u8",
		"-hls_segment_filename", filepath.Join(outDir, "%v", "segment%05d.ts"),
		"-var_stream_map", varStreamMap(renditions),
		filepath.Join(outDir, "%v", "stream.m3u8"),
	)

	return Assembly{Args: args, Audio: renditions, BurnIn: len(sel.Subtitles) > 0}
}

func (a *Assembler) device() string {
	if a.VAAPIDevice != "" {
		return a.VAAPIDevice
	}
	return defaultVAAPIDevice
}

// videoFilter builds the filter_complex graph: optional downscale, then one
// overlay per burned-in subtitle, then the encoder-specific upload stage.
// Returns ("", "") when no filtering is needed and the source video can be
// mapped directly.
func (a *Assembler) videoFilter(sel Selection, target Target) (graph, outLabel string) {
	var stages []string
	cur := "[0:" + strconv.Itoa(sel.Video.Index) + "]"
	label := 0

	next := func() string {
		label++
		return "[v" + strconv.Itoa(label) + "]"
	}

	if target.NeedsScale(sel.Video) {
		out := next()
		stages = append(stages, fmt.Sprintf("%sscale=%d:-2%s", cur, target.Width, out))
		cur = out
	}

	for _, sub := range sel.Subtitles {
		out := next()
		stages = append(stages, fmt.Sprintf("%s[0:%d]overlay%s", cur, sub.Index, out))
		cur = out
	}

	if a.Encoder == EncoderVAAPI {
		out := next()
		stages = append(stages, cur+"format=nv12,hwupload"+out)
		cur = out
	}

	if len(stages) == 0 {
		return "", ""
	}
	return strings.Join(stages, ";"), cur
}

// videoArgs returns the encoder-specific codec profile. All backends share
// the same keyframe cadence so segment boundaries stay aligned.
func (a *Assembler) videoArgs(target Target) []string {
	gop := strconv.Itoa(target.KeyframeInterval())
	keyExpr := fmt.Sprintf("expr:gte(t,n_forced*%d)", target.SegmentSeconds)

	common := []string{
		"-r", strconv.Itoa(target.FrameRate),
		"-g", gop,
		"-keyint_min", gop,
		"-force_key_frames", keyExpr,
	}

	switch a.Encoder {
	case EncoderNVENC:
		return append(common,
			"-c:v", "h264_nvenc",
			"-preset", "p5",
			"-rc", "vbr",
			"-cq", "23",
			"-maxrate", "12M",
			"-bufsize", "24M",
			"-pix_fmt", "yuv420p",
			"-profile:v", "high",
		)
	case EncoderVAAPI:
		return append(common,
			"-c:v", "h264_vaapi",
			"-qp", "23",
			"-profile:v", "high",
		)
	default:
		return append(common,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "21",
			"-maxrate", "12M",
			"-bufsize", "24M",
			"-pix_fmt", "yuv420p",
			"-profile:v", "high",
			"-sc_threshold", "0",
		)
	}
}

// audioRenditions derives rendition metadata from the selected audio tracks,
// preserving their order. The first track is the default rendition.
func audioRenditions(audio []ffmpeg.StreamDescriptor) []AudioRendition {
	renditions := make([]AudioRendition, 0, len(audio))
	for i, track := range audio {
		renditions = append(renditions, AudioRendition{
			OutputIndex: i,
			SourceIndex: track.Index,
			Name:        renditionName(track, i),
			Language:    track.Language,
			Default:     i == 0,
		})
	}
	return renditions
}

func renditionName(track ffmpeg.StreamDescriptor, index int) string {
	if track.Title != "" {
		return track.Title
	}
	if !undetermined(track.Language) {
		if tag, err := language.Parse(track.Language); err == nil {
			if name := display.English.Languages().Name(tag); name != "" {
				return name
			}
		}
	}
	return "Audio " + strconv.Itoa(index+1)
}

// varStreamMap renders the -var_stream_map value: the video variant first,
// then one audio variant per rendition, all sharing one audio group.
func varStreamMap(renditions []AudioRendition) string {
	entries := make([]string, 0, len(renditions)+1)
	entries = append(entries, "v:0,agroup:aud")
	for _, r := range renditions {
		entry := "a:" + strconv.Itoa(r.OutputIndex) + ",agroup:aud"
		if !undetermined(r.Language) {
			entry += ",language:" + r.Language
		}
		if r.Default {
			entry += ",default:yes"
		}
		entries = append(entries, entry)
	}
	return strings.Join(entries, " ")
}
