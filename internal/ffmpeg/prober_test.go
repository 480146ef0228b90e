package ffmpeg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeOutput = `{
  "format": {"format_name": "matroska,webm", "duration": "5400.123000"},
  "streams": [
    {"index": 0, "codec_name": "hevc", "codec_type": "video", "width": 3840, "height": 2160,
     "avg_frame_rate": "24000/1001", "tags": {"language": "und"}},
    {"index": 1, "codec_name": "flac", "codec_type": "audio", "channels": 6,
     "tags": {"language": "jpn", "title": "Surround"}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio", "channels": 2,
     "tags": {"language": "eng"}},
    {"index": 3, "codec_name": "hdmv_pgs_subtitle", "codec_type": "subtitle",
     "tags": {"language": "eng"}},
    {"index": 4, "codec_name": "ttf", "codec_type": "attachment"}
  ]
}`

func TestBuildMediaInfo(t *testing.T) {
	var result probeResult
	require.NoError(t, json.Unmarshal([]byte(sampleProbeOutput), &result))

	info := buildMediaInfo("/media/movie.mkv", &result)

	assert.Equal(t, "/media/movie.mkv", info.Path)
	assert.Equal(t, "matroska,webm", info.Format)
	assert.InDelta(t, 5400.123, info.Duration, 0.001)
	require.Len(t, info.Streams, 5)

	video := info.Streams[0]
	assert.Equal(t, StreamVideo, video.Kind)
	assert.Equal(t, "hevc", video.Codec)
	assert.Equal(t, 3840, video.Width)
	assert.InDelta(t, 23.976, video.FrameRate, 0.001)
	assert.InDelta(t, 5400.123, video.Duration, 0.001, "streams without own duration inherit the container duration")

	audio := info.Streams[1]
	assert.Equal(t, StreamAudio, audio.Kind)
	assert.Equal(t, 6, audio.Channels)
	assert.Equal(t, "jpn", audio.Language)
	assert.Equal(t, "Surround", audio.Title)

	assert.Equal(t, StreamSubtitle, info.Streams[3].Kind)
	assert.Equal(t, StreamAttachment, info.Streams[4].Kind)
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{"ntsc film", "24000/1001", 23.976},
		{"pal", "25/1", 25},
		{"plain", "29.97", 29.97},
		{"zero denominator", "30/0", 0},
		{"garbage", "abc", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFrameRate(tt.input), 0.001)
		})
	}
}

func TestStreamDescriptor_SubtitleKinds(t *testing.T) {
	pgs := StreamDescriptor{Kind: StreamSubtitle, Codec: "hdmv_pgs_subtitle"}
	assert.True(t, pgs.IsImageSubtitle())
	assert.False(t, pgs.IsTextSubtitle())

	srt := StreamDescriptor{Kind: StreamSubtitle, Codec: "subrip"}
	assert.True(t, srt.IsTextSubtitle())
	assert.False(t, srt.IsImageSubtitle())

	// A video track is never a subtitle of either kind.
	video := StreamDescriptor{Kind: StreamVideo, Codec: "h264"}
	assert.False(t, video.IsTextSubtitle())
	assert.False(t, video.IsImageSubtitle())
}
