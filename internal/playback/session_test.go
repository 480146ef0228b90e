package playback

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/watchroom/internal/ffmpeg"
	"github.com/watchroom/watchroom/internal/transcode"
)

const eventPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:EVENT
#EXTINF:2.000000,
segment00000.ts
#EXTINF:2.000000,
segment00001.ts
`

// fakePipeline stands in for the resolve-probe-start transcode pipeline.
type fakePipeline struct {
	t *testing.T

	mu       sync.Mutex
	resolves int
	starts   []float64

	// startGate, when set, blocks start calls until closed.
	startGate chan struct{}
}

func (f *fakePipeline) resolve(_ context.Context, logicalPath string) (resolvedMedia, error) {
	f.mu.Lock()
	f.resolves++
	f.mu.Unlock()
	return resolvedMedia{
		logical: logicalPath,
		path:    "/media/" + logicalPath,
		info:    &ffmpeg.MediaInfo{Path: "/media/" + logicalPath, Duration: 5400},
	}, nil
}

func (f *fakePipeline) start(_ context.Context, media resolvedMedia, startOffset float64) (*transcode.Session, error) {
	if f.startGate != nil {
		<-f.startGate
	}
	f.mu.Lock()
	f.starts = append(f.starts, startOffset)
	n := len(f.starts)
	f.mu.Unlock()

	// Give the session a real output dir with a materialized playlist so the
	// window math works and Destroy has something to delete.
	outDir := filepath.Join(f.t.TempDir(), "hls")
	require.NoError(f.t, os.MkdirAll(filepath.Join(outDir, "0"), 0o755))
	require.NoError(f.t, os.WriteFile(filepath.Join(outDir, "0", "stream.m3u8"), []byte(eventPlaylist), 0o644))

	return &transcode.Session{
		ID:            "fake-" + string(rune('a'+n-1)),
		MediaPath:     media.path,
		MediaDuration: media.info.Duration,
		StartOffset:   startOffset,
		OutputDir:     outDir,
		WorkDir:       f.t.TempDir(),
	}, nil
}

func (f *fakePipeline) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func newFakeSession(t *testing.T) (*Session, *fakePipeline) {
	t.Helper()
	pipeline := &fakePipeline{t: t}
	svc := &Service{logger: slog.Default()}
	s := newSession(svc, "user-1")
	s.resolve = pipeline.resolve
	s.start = pipeline.start
	return s, pipeline
}

func TestSession_ChangeMedia(t *testing.T) {
	s, pipeline := newFakeSession(t)

	sess, err := s.ChangeMedia(context.Background(), "shows/ep01.mkv", 0)
	require.NoError(t, err)
	assert.Same(t, sess, s.Current())

	logical, info, ok := s.CurrentMedia()
	require.True(t, ok)
	assert.Equal(t, "shows/ep01.mkv", logical)
	assert.InDelta(t, 5400.0, info.Duration, 0.001)
	assert.Equal(t, 1, pipeline.startCount())
}

func TestSession_ChangeMediaDestroysOldInBackground(t *testing.T) {
	s, _ := newFakeSession(t)

	first, err := s.ChangeMedia(context.Background(), "shows/ep01.mkv", 0)
	require.NoError(t, err)
	oldDir := first.OutputDir

	second, err := s.ChangeMedia(context.Background(), "shows/ep02.mkv", 0)
	require.NoError(t, err)
	assert.Same(t, second, s.Current())

	assert.Eventually(t, func() bool {
		_, err := os.Stat(oldDir)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "the replaced transcode's output must be removed")
}

func TestSession_ChangeMediaBusy(t *testing.T) {
	s, pipeline := newFakeSession(t)
	pipeline.startGate = make(chan struct{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.ChangeMedia(context.Background(), "shows/ep01.mkv", 0)
		firstDone <- err
	}()

	// Wait until the first change holds the lock inside start.
	require.Eventually(t, func() bool {
		pipeline.mu.Lock()
		defer pipeline.mu.Unlock()
		return pipeline.resolves == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.ChangeMedia(context.Background(), "shows/ep02.mkv", 0)
	assert.ErrorIs(t, err, ErrTranscodeBusy, "a concurrent change must fail fast, not queue")

	close(pipeline.startGate)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, pipeline.startCount())
}

func TestSession_SeekWithinWindow(t *testing.T) {
	s, pipeline := newFakeSession(t)
	_, err := s.ChangeMedia(context.Background(), "shows/ep01.mkv", 100)
	require.NoError(t, err)

	res, sess, err := s.Seek(context.Background(), 102)
	require.NoError(t, err)
	assert.False(t, res.Restart)
	assert.Same(t, s.Current(), sess)
	assert.Equal(t, 1, pipeline.startCount(), "window seeks never spawn a transcode")
}

func TestSession_SeekOutsideWindowRestarts(t *testing.T) {
	s, pipeline := newFakeSession(t)
	_, err := s.ChangeMedia(context.Background(), "shows/ep01.mkv", 100)
	require.NoError(t, err)

	res, sess, err := s.Seek(context.Background(), 903.7)
	require.NoError(t, err)
	assert.True(t, res.Restart)
	require.NotNil(t, sess)
	assert.InDelta(t, 903.0, sess.StartOffset, 0.001)
	assert.Equal(t, 2, pipeline.startCount())
	assert.Equal(t, 1, pipeline.resolves, "restarts reuse the probed media without re-resolving")
}

func TestSession_SeekWithoutMedia(t *testing.T) {
	s, _ := newFakeSession(t)

	_, _, err := s.Seek(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoActiveTranscode)
}

func TestSession_Close(t *testing.T) {
	s, _ := newFakeSession(t)
	sess, err := s.ChangeMedia(context.Background(), "shows/ep01.mkv", 0)
	require.NoError(t, err)

	s.Close()
	assert.Nil(t, s.Current())
	_, _, ok := s.CurrentMedia()
	assert.False(t, ok)
	assert.NoDirExists(t, sess.OutputDir)
}
