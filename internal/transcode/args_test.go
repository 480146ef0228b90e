package transcode

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/watchroom/internal/ffmpeg"
)

// argValue returns the argument following the first occurrence of flag.
func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func twoAudioSelection() Selection {
	return Selection{
		Video: ffmpeg.StreamDescriptor{Index: 0, Kind: ffmpeg.StreamVideo, Width: 1920, FrameRate: 23.976},
		Audio: []ffmpeg.StreamDescriptor{
			{Index: 1, Kind: ffmpeg.StreamAudio, Language: "jpn", Channels: 6, Title: "Surround"},
			{Index: 2, Kind: ffmpeg.StreamAudio, Language: "eng", Channels: 2},
		},
	}
}

func TestDeriveTarget(t *testing.T) {
	tests := []struct {
		name      string
		frameRate float64
		width     int
		wantFPS   int
		wantWidth int
	}{
		{"ntsc film", 23.976, 1920, 30, 1920},
		{"ntsc", 29.97, 1280, 30, 1280},
		{"pal double", 50, 1920, 60, 1920},
		{"high fps 4k", 60, 3840, 60, 1920},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := ffmpeg.StreamDescriptor{Kind: ffmpeg.StreamVideo, Width: tt.width, FrameRate: tt.frameRate}
			target := DeriveTarget(video, 1920, 2)
			assert.Equal(t, tt.wantFPS, target.FrameRate)
			assert.Equal(t, tt.wantWidth, target.Width)
			assert.Equal(t, tt.wantFPS*2, target.KeyframeInterval())
		})
	}
}

func TestAssembler_VarStreamMapMatchesRenditions(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	asm := NewAssembler(EncoderX264, "192k")
	out := asm.Build("/media/show.mkv", 0, sel, target, "/tmp/out")

	assert.Equal(t,
		"v:0,agroup:aud a:0,agroup:aud,language:jpn,default:yes a:1,agroup:aud,language:eng",
		argValue(out.Args, "-var_stream_map"))

	require.Len(t, out.Audio, 2)
	assert.Equal(t, "Surround", out.Audio[0].Name)
	assert.True(t, out.Audio[0].Default)
	assert.Equal(t, 1, out.Audio[0].SourceIndex)
	assert.Equal(t, "English", out.Audio[1].Name)
	assert.False(t, out.Audio[1].Default)
	assert.Equal(t, 2, out.Audio[1].SourceIndex)
}

func TestAssembler_AudioDownmixAndSampleRates(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	out := NewAssembler(EncoderX264, "192k").Build("/media/show.mkv", 0, sel, target, "/tmp/out")

	// 5.1 source is downmixed to stereo at 48kHz.
	assert.Equal(t, "2", argValue(out.Args, "-ac:a:0"))
	assert.Equal(t, "48000", argValue(out.Args, "-ar:a:0"))

	// Stereo source keeps its channel count at 44.1kHz.
	assert.Equal(t, "", argValue(out.Args, "-ac:a:1"))
	assert.Equal(t, "44100", argValue(out.Args, "-ar:a:1"))

	assert.Equal(t, "aac", argValue(out.Args, "-c:a:0"))
	assert.Equal(t, "192k", argValue(out.Args, "-b:a:1"))
}

func TestAssembler_DirectMapWhenNoFiltering(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	out := NewAssembler(EncoderX264, "192k").Build("/media/show.mkv", 0, sel, target, "/tmp/out")

	assert.False(t, contains(out.Args, "-filter_complex"))
	assert.Equal(t, "0:0", argValue(out.Args, "-map"))
	assert.False(t, out.BurnIn)
}

func TestAssembler_ScaleAndOverlayChained(t *testing.T) {
	sel := twoAudioSelection()
	sel.Video.Width = 3840
	sel.Subtitles = []ffmpeg.StreamDescriptor{
		{Index: 3, Kind: ffmpeg.StreamSubtitle, Codec: "hdmv_pgs_subtitle", Language: "eng"},
	}
	target := DeriveTarget(sel.Video, 1920, 2)

	out := NewAssembler(EncoderX264, "192k").Build("/media/show.mkv", 0, sel, target, "/tmp/out")

	assert.Equal(t, "[0:0]scale=1920:-2[v1];[v1][0:3]overlay[v2]", argValue(out.Args, "-filter_complex"))
	assert.Equal(t, "[v2]", argValue(out.Args, "-map"))
	assert.True(t, out.BurnIn)
}

func TestAssembler_VAAPIUploadStage(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	out := NewAssembler(EncoderVAAPI, "192k").Build("/media/show.mkv", 0, sel, target, "/tmp/out")

	// VAAPI always routes through the upload stage, even with no scaling.
	assert.Equal(t, "[0:0]format=nv12,hwupload[v1]", argValue(out.Args, "-filter_complex"))
	assert.Equal(t, "h264_vaapi", argValue(out.Args, "-c:v"))
	assert.Equal(t, "vaapi=va:"+defaultVAAPIDevice, argValue(out.Args, "-init_hw_device"))
	assert.False(t, contains(out.Args, "-hwaccel"))
}

func TestAssembler_EncoderProfiles(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	for _, enc := range []Encoder{EncoderNVENC, EncoderVAAPI, EncoderX264} {
		t.Run(string(enc), func(t *testing.T) {
			out := NewAssembler(enc, "192k").Build("/media/show.mkv", 0, sel, target, "/tmp/out")

			assert.Equal(t, string(enc), argValue(out.Args, "-c:v"))
			assert.Equal(t, strconv.Itoa(target.KeyframeInterval()), argValue(out.Args, "-g"))
			assert.Equal(t, "expr:gte(t,n_forced*2)", argValue(out.Args, "-force_key_frames"))
			assert.Equal(t, "2", argValue(out.Args, "-hls_time"))
			assert.Equal(t, "event", argValue(out.Args, "-hls_playlist_type"))
			assert.Equal(t, "master.m3u8", argValue(out.Args, "-master_pl_name"))
		})
	}
}

func TestAssembler_StartOffsetBeforeInput(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	out := NewAssembler(EncoderX264, "192k").Build("/media/show.mkv", 754, sel, target, "/tmp/out")

	assert.Equal(t, "754.000", argValue(out.Args, "-ss"))
	var ssIdx, inputIdx int
	for i, a := range out.Args {
		switch a {
		case "-ss":
			ssIdx = i
		case "-i":
			inputIdx = i
		}
	}
	assert.Less(t, ssIdx, inputIdx, "seek must come before the input for fast input seeking")
}

func TestAssembler_NoSeekArgAtZeroOffset(t *testing.T) {
	sel := twoAudioSelection()
	target := DeriveTarget(sel.Video, 1920, 2)

	out := NewAssembler(EncoderX264, "192k").Build("/media/show.mkv", 0, sel, target, "/tmp/out")
	assert.False(t, contains(out.Args, "-ss"))
}
