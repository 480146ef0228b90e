package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/watchroom/watchroom/internal/ffmpeg"
	"github.com/watchroom/watchroom/internal/observability"
)

// Range is a half-open interval of media time in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SeekResult is the outcome of a seek request against the session window.
type SeekResult struct {
	// Restart is true when the target lies outside the seekable window and a
	// replacement transcode must be started at RestartOffset.
	Restart bool
	// Position is the media-time position to resume from when the target is
	// inside the window.
	Position float64
	// RestartOffset is the start offset for the replacement transcode,
	// floored to a whole second so it lands on a clean seek point.
	RestartOffset float64
}

// StartOptions configures a new transcode session.
type StartOptions struct {
	ID            string // generated when empty
	Binary        string
	MediaPath     string
	MediaDuration float64
	StartOffset   float64
	Selection     Selection
	Target        Target
	Assembler     *Assembler
	OutputDir     string
	WorkDir       string
	Tolerance     float64 // seconds a seek may overshoot the materialized window
	Logger        *slog.Logger
}

// Session is one running ffmpeg transcode and the seekable window over its
// output. A session covers media time [StartOffset, StartOffset+materialized];
// positions outside that window need a replacement session.
type Session struct {
	ID            string
	MediaPath     string
	MediaDuration float64
	StartOffset   float64
	OutputDir     string
	WorkDir       string
	Selection     Selection
	Target        Target
	Audio         []AudioRendition
	BurnIn        bool

	proc      *ffmpeg.Process
	monitor   *ffmpeg.ProcessMonitor
	logger    *slog.Logger
	tolerance float64

	// materialized reports seconds of output written so far; replaced in tests.
	materialized func() float64

	mu        sync.Mutex
	elapsed   float64
	destroyed bool
}

// Start assembles the ffmpeg invocation, spawns the process, and returns the
// running session. The output and work directories are created, including the
// per-variant subdirectories the HLS muxer writes into.
func Start(ctx context.Context, opts StartOptions) (*Session, error) {
	if opts.ID == "" {
		opts.ID = ulid.Make().String()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := observability.WithComponent(opts.Logger, "transcode").With(
		slog.String("session_id", opts.ID),
	)

	assembly := opts.Assembler.Build(opts.MediaPath, opts.StartOffset, opts.Selection, opts.Target, opts.OutputDir)

	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	// The muxer writes one subdirectory per variant but does not create them.
	for i := 0; i <= len(assembly.Audio); i++ {
		dir := filepath.Join(opts.OutputDir, strconv.Itoa(i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating variant dir: %w", err)
		}
	}

	proc, err := ffmpeg.StartProcess(ctx, opts.Binary, assembly.Args)
	if err != nil {
		return nil, fmt.Errorf("starting transcoder: %w", err)
	}

	monitor := ffmpeg.NewProcessMonitor(proc.PID())
	monitor.Start()

	logger.Info("transcode session started",
		slog.String("media", opts.MediaPath),
		slog.Float64("start_offset", opts.StartOffset),
		slog.String("encoder", string(opts.Assembler.Encoder)),
		slog.Int("pid", proc.PID()),
		slog.Int("audio_renditions", len(assembly.Audio)),
		slog.Bool("burn_in", assembly.BurnIn),
	)

	s := &Session{
		ID:            opts.ID,
		MediaPath:     opts.MediaPath,
		MediaDuration: opts.MediaDuration,
		StartOffset:   opts.StartOffset,
		OutputDir:     opts.OutputDir,
		WorkDir:       opts.WorkDir,
		Selection:     opts.Selection,
		Target:        opts.Target,
		Audio:         assembly.Audio,
		BurnIn:        assembly.BurnIn,
		proc:          proc,
		monitor:       monitor,
		logger:        logger,
		tolerance:     opts.Tolerance,
	}
	s.materialized = func() float64 { return materializedSeconds(opts.OutputDir) }
	return s, nil
}

// CurrentTime returns the playback position in media time: the session start
// offset plus the elapsed position within the window.
func (s *Session) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartOffset + s.elapsed
}

// SetElapsed records the playback position within the window, as reported by
// the consuming player.
func (s *Session) SetElapsed(elapsed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elapsed < 0 {
		elapsed = 0
	}
	s.elapsed = elapsed
}

// Window returns the media-time interval the session has materialized so far.
func (s *Session) Window() Range {
	materialized := s.materialized
	if materialized == nil {
		materialized = func() float64 { return materializedSeconds(s.OutputDir) }
	}
	end := s.StartOffset + materialized()
	if s.MediaDuration > 0 && end > s.MediaDuration {
		end = s.MediaDuration
	}
	return Range{Start: s.StartOffset, End: end}
}

// Seek resolves a media-time seek target against the window. Targets inside
// the window (with a small tolerance past its materialized end) resume in
// place; anything else requires a replacement transcode.
func (s *Session) Seek(target float64) SeekResult {
	if target < 0 {
		target = 0
	}
	if s.MediaDuration > 0 && target > s.MediaDuration {
		target = s.MediaDuration
	}

	w := s.Window()
	if target >= w.Start && target <= w.End+s.tolerance {
		s.SetElapsed(target - w.Start)
		return SeekResult{Position: target}
	}

	return SeekResult{Restart: true, RestartOffset: math.Floor(target)}
}

// TranslateRanges converts player-local buffered ranges into media time.
func (s *Session) TranslateRanges(local []Range) []Range {
	out := make([]Range, len(local))
	for i, r := range local {
		out[i] = Range{Start: r.Start + s.StartOffset, End: r.End + s.StartOffset}
	}
	return out
}

// MasterPlaylist returns the path of the multivariant playlist.
func (s *Session) MasterPlaylist() string {
	return filepath.Join(s.OutputDir, "master.m3u8")
}

// Metrics returns the latest transcoder progress snapshot.
func (s *Session) Metrics() ffmpeg.Metrics {
	return s.proc.Metrics()
}

// Stats returns the latest resource usage sample of the transcoder process.
func (s *Session) Stats() ffmpeg.ProcessStats {
	return s.monitor.Stats()
}

// WaitExit blocks until the transcoder exits or ctx is done.
func (s *Session) WaitExit(ctx context.Context) error {
	return s.proc.WaitExit(ctx)
}

// Destroy tears the session down in order: kill the transcoder, stop the
// monitor, then delete the output and work directories. Cleanup failures are
// logged, never returned; a session is considered gone once Destroy returns.
// Destroy is idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}

	if s.proc != nil {
		s.proc.Terminate()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}

	if err := os.RemoveAll(s.OutputDir); err != nil {
		observability.WithError(logger, err).Warn("removing session output dir")
	}
	if err := os.RemoveAll(s.WorkDir); err != nil {
		observability.WithError(logger, err).Warn("removing session work dir")
	}

	logger.Info("transcode session destroyed")
}
