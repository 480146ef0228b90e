// Package transcode turns a probed source file into a running adaptive-bitrate
// transcode: track selection, ladder derivation, ffmpeg argument assembly, and
// the seekable-window session over the produced HLS output.
package transcode

import (
	"errors"
	"sort"

	"golang.org/x/text/language"

	"github.com/watchroom/watchroom/internal/ffmpeg"
)

// ErrNoVideoStream is returned when a source has no video track to transcode.
var ErrNoVideoStream = errors.New("source has no video stream")

// Selection is the ordered subset of source tracks included in a transcode.
type Selection struct {
	Video     ffmpeg.StreamDescriptor
	Audio     []ffmpeg.StreamDescriptor
	Subtitles []ffmpeg.StreamDescriptor
}

// Preferences orders track languages for selection, most preferred first.
type Preferences struct {
	Audio     []language.Tag
	Subtitles []language.Tag
}

// ParsePreferences builds Preferences from configured language codes,
// silently skipping codes that do not parse.
func ParsePreferences(audio, subtitles []string) Preferences {
	return Preferences{
		Audio:     parseTags(audio),
		Subtitles: parseTags(subtitles),
	}
}

func parseTags(codes []string) []language.Tag {
	tags := make([]language.Tag, 0, len(codes))
	for _, c := range codes {
		if tag, err := language.Parse(c); err == nil {
			tags = append(tags, tag)
		}
	}
	return tags
}

// SelectStreams chooses which source tracks to include in the transcode.
//
// The first video track is always included. All audio tracks are included,
// sorted so preferred languages come first; tracks with no language match keep
// their source order after the matched ones. At most one image-based subtitle
// is included for burn-in, and only when the source carries no text-based
// subtitles (those render client-side) and the winning audio track is Japanese
// or of undetermined language.
func SelectStreams(streams []ffmpeg.StreamDescriptor, prefs Preferences) (Selection, error) {
	var sel Selection

	video := firstVideo(streams)
	if video == nil {
		return Selection{}, ErrNoVideoStream
	}
	sel.Video = *video

	for _, s := range streams {
		if s.Kind == ffmpeg.StreamAudio {
			sel.Audio = append(sel.Audio, s)
		}
	}
	sort.SliceStable(sel.Audio, func(i, j int) bool {
		return languageRank(sel.Audio[i].Language, prefs.Audio) < languageRank(sel.Audio[j].Language, prefs.Audio)
	})

	if sub := chooseBurnInSubtitle(streams, sel.Audio, prefs.Subtitles); sub != nil {
		sel.Subtitles = append(sel.Subtitles, *sub)
	}

	return sel, nil
}

func firstVideo(streams []ffmpeg.StreamDescriptor) *ffmpeg.StreamDescriptor {
	for i := range streams {
		if streams[i].Kind == ffmpeg.StreamVideo {
			return &streams[i]
		}
	}
	return nil
}

// chooseBurnInSubtitle applies the subtitle burn-in rules and returns the
// single image-based subtitle track to include, or nil.
func chooseBurnInSubtitle(streams, audio []ffmpeg.StreamDescriptor, prefs []language.Tag) *ffmpeg.StreamDescriptor {
	var images []ffmpeg.StreamDescriptor
	hasSubtitle := false
	for _, s := range streams {
		if s.Kind != ffmpeg.StreamSubtitle {
			continue
		}
		hasSubtitle = true
		if s.IsTextSubtitle() {
			// Text subtitles are rendered client-side; never burn in.
			return nil
		}
		if s.IsImageSubtitle() {
			images = append(images, s)
		}
	}
	if !hasSubtitle || len(images) == 0 {
		return nil
	}

	if !needsBurnIn(audio) {
		return nil
	}

	best := images[0]
	bestRank := languageRank(best.Language, prefs)
	for _, s := range images[1:] {
		if r := languageRank(s.Language, prefs); r < bestRank {
			best, bestRank = s, r
		}
	}
	return &best
}

// needsBurnIn reports whether the winning audio track calls for subtitles:
// Japanese audio or audio of undetermined language.
func needsBurnIn(audio []ffmpeg.StreamDescriptor) bool {
	if len(audio) == 0 {
		return false
	}
	lang := audio[0].Language
	if undetermined(lang) {
		return true
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return true
	}
	base, _ := tag.Base()
	jpn, _ := language.Japanese.Base()
	return base == jpn
}

func undetermined(lang string) bool {
	return lang == "" || lang == "und"
}

// languageRank returns the position of lang in prefs, or len(prefs) when it
// does not match any preference (sorting unmatched tracks last, stably).
func languageRank(lang string, prefs []language.Tag) int {
	if undetermined(lang) {
		return len(prefs)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return len(prefs)
	}
	base, confident := tag.Base()
	if confident == language.No {
		return len(prefs)
	}
	for i, p := range prefs {
		if pb, _ := p.Base(); pb == base {
			return i
		}
	}
	return len(prefs)
}
