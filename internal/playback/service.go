// Package playback manages per-viewer playback sessions: which media a
// viewer is watching, the live transcode backing it, and the serialization of
// media changes so only one replacement transcode runs at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/watchroom/watchroom/internal/config"
	"github.com/watchroom/watchroom/internal/ffmpeg"
	"github.com/watchroom/watchroom/internal/storage"
	"github.com/watchroom/watchroom/internal/transcode"
	"github.com/watchroom/watchroom/internal/vfs"
)

// ErrTranscodeBusy is returned when a media change or restart is requested
// while another one is still being set up for the same playback session.
var ErrTranscodeBusy = errors.New("transcode change already in progress")

// ErrNoActiveTranscode is returned when an operation needs a running
// transcode but the playback session has none.
var ErrNoActiveTranscode = errors.New("no active transcode")

// Service carries the shared collaborators playback sessions need to start
// and replace transcodes.
type Service struct {
	resolver  vfs.Resolver
	prober    *ffmpeg.Prober
	binaries  ffmpeg.Binaries
	store     *storage.SessionStore
	assembler *transcode.Assembler
	prefs     transcode.Preferences
	cfg       config.TranscodeConfig
	logger    *slog.Logger
}

// NewService creates a playback Service. The encoder must already have been
// probed for usability.
func NewService(
	resolver vfs.Resolver,
	prober *ffmpeg.Prober,
	binaries ffmpeg.Binaries,
	store *storage.SessionStore,
	encoder transcode.Encoder,
	cfg config.TranscodeConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		resolver:  resolver,
		prober:    prober,
		binaries:  binaries,
		store:     store,
		assembler: transcode.NewAssembler(encoder, cfg.AudioBitrate),
		prefs:     transcode.ParsePreferences(cfg.AudioLanguages, cfg.SubtitleLanguages),
		cfg:       cfg,
		logger:    logger,
	}
}

// resolvedMedia is a probed source file ready to transcode.
type resolvedMedia struct {
	logical string
	path    string
	info    *ffmpeg.MediaInfo
}

func (s *Service) resolveAndProbe(ctx context.Context, logicalPath string) (resolvedMedia, error) {
	path, err := s.resolver.Resolve(ctx, logicalPath)
	if err != nil {
		return resolvedMedia{}, err
	}

	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return resolvedMedia{}, fmt.Errorf("probing %s: %w", logicalPath, err)
	}

	return resolvedMedia{logical: logicalPath, path: path, info: info}, nil
}

// startTranscode selects tracks, derives the output profile, and launches a
// transcode session for the given media at the given offset.
func (s *Service) startTranscode(ctx context.Context, media resolvedMedia, startOffset float64) (*transcode.Session, error) {
	sel, err := transcode.SelectStreams(media.info.Streams, s.prefs)
	if err != nil {
		return nil, err
	}

	target := transcode.DeriveTarget(sel.Video, s.cfg.MaxWidth, s.cfg.SegmentSeconds)

	id := ulid.Make().String()
	dirs, err := s.store.Dirs(id)
	if err != nil {
		return nil, err
	}

	return transcode.Start(ctx, transcode.StartOptions{
		ID:            id,
		Binary:        s.binaries.FFmpeg,
		MediaPath:     media.path,
		MediaDuration: media.info.Duration,
		StartOffset:   startOffset,
		Selection:     sel,
		Target:        target,
		Assembler:     s.assembler,
		OutputDir:     dirs.Output,
		WorkDir:       dirs.Work,
		Tolerance:     s.cfg.SeekTolerance.Seconds(),
		Logger:        s.logger,
	})
}
