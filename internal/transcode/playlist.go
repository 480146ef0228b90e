package transcode

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// videoPlaylistPath is the media playlist of the video variant, relative to
// the session output directory. Variant zero is always video.
const videoPlaylistPath = "0/stream.m3u8"

// unmarshalMediaPlaylist parses bytes into a Media playlist using gohlslib.
func unmarshalMediaPlaylist(data []byte) (*playlist.Media, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("expected media playlist, got multivariant")
	}

	return media, nil
}

// materializedSeconds reads the video variant playlist under outDir and
// returns the summed duration of all segments written so far. A missing or
// not-yet-valid playlist counts as zero: the transcoder simply has not
// produced output yet.
func materializedSeconds(outDir string) float64 {
	data, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(videoPlaylistPath)))
	if err != nil {
		return 0
	}

	media, err := unmarshalMediaPlaylist(data)
	if err != nil {
		return 0
	}

	total := 0.0
	for _, seg := range media.Segments {
		if seg != nil {
			total += seg.Duration.Seconds()
		}
	}
	return total
}
