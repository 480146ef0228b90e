package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/watchroom/watchroom/internal/ffmpeg"
	"github.com/watchroom/watchroom/internal/transcode"
)

// Session is one viewer's playback state: the media they are watching and
// the live transcode serving it.
//
// Media changes and out-of-window seek restarts are serialized by a
// non-blocking lock: a second change arriving while one is in flight fails
// fast with ErrTranscodeBusy instead of queueing, because by the time it
// would run its target state is stale anyway. The current transcode pointer
// swaps atomically, so readers (the HLS handlers) never see a torn state,
// and the replaced transcode is torn down in the background.
type Session struct {
	ID     string
	UserID string

	svc    *Service
	logger *slog.Logger

	changeMu sync.Mutex
	current  atomic.Pointer[transcode.Session]
	media    atomic.Pointer[resolvedMedia]

	// Injection points for the transcode pipeline; tests replace these.
	resolve func(ctx context.Context, logicalPath string) (resolvedMedia, error)
	start   func(ctx context.Context, media resolvedMedia, startOffset float64) (*transcode.Session, error)
}

func newSession(svc *Service, userID string) *Session {
	s := &Session{
		ID:     ulid.Make().String(),
		UserID: userID,
		svc:    svc,
		logger: svc.logger.With(slog.String("playback_id", userID)),
	}
	s.resolve = svc.resolveAndProbe
	s.start = svc.startTranscode
	return s
}

// ChangeMedia switches the session to new media, starting a transcode at the
// given offset. The previous transcode, if any, is destroyed in the
// background once the replacement is live. Returns ErrTranscodeBusy when
// another change is still in flight.
func (s *Session) ChangeMedia(ctx context.Context, logicalPath string, startOffset float64) (*transcode.Session, error) {
	if !s.changeMu.TryLock() {
		return nil, ErrTranscodeBusy
	}
	defer s.changeMu.Unlock()

	media, err := s.resolve(ctx, logicalPath)
	if err != nil {
		return nil, err
	}

	sess, err := s.start(ctx, media, startOffset)
	if err != nil {
		return nil, err
	}

	s.media.Store(&media)
	s.swapIn(sess)
	return sess, nil
}

// Seek resolves a seek target against the current transcode window. Targets
// inside the window adjust the playback position; targets outside it replace
// the transcode with one starting at the floored offset. The returned session
// is the one now serving playback.
func (s *Session) Seek(ctx context.Context, target float64) (transcode.SeekResult, *transcode.Session, error) {
	cur := s.current.Load()
	if cur == nil {
		return transcode.SeekResult{}, nil, ErrNoActiveTranscode
	}

	res := cur.Seek(target)
	if !res.Restart {
		return res, cur, nil
	}

	sess, err := s.restart(ctx, res.RestartOffset)
	if err != nil {
		return res, nil, err
	}
	return res, sess, nil
}

// restart replaces the current transcode with one over the same media at a
// new start offset.
func (s *Session) restart(ctx context.Context, startOffset float64) (*transcode.Session, error) {
	if !s.changeMu.TryLock() {
		return nil, ErrTranscodeBusy
	}
	defer s.changeMu.Unlock()

	media := s.media.Load()
	if media == nil {
		return nil, ErrNoActiveTranscode
	}

	sess, err := s.start(ctx, *media, startOffset)
	if err != nil {
		return nil, err
	}

	s.swapIn(sess)
	return sess, nil
}

// swapIn publishes the new transcode and tears the old one down without
// blocking the caller.
func (s *Session) swapIn(sess *transcode.Session) {
	if old := s.current.Swap(sess); old != nil {
		go old.Destroy()
	}
}

// Current returns the transcode now serving this session, or nil.
func (s *Session) Current() *transcode.Session {
	return s.current.Load()
}

// CurrentMedia returns the logical path and probe result of the media being
// watched, or ok=false when nothing is playing.
func (s *Session) CurrentMedia() (string, *ffmpeg.MediaInfo, bool) {
	media := s.media.Load()
	if media == nil {
		return "", nil, false
	}
	return media.logical, media.info, true
}

// Close destroys the current transcode, if any. The session itself stays
// usable; a later ChangeMedia starts fresh.
func (s *Session) Close() {
	if old := s.current.Swap(nil); old != nil {
		old.Destroy()
	}
	s.media.Store(nil)
}
