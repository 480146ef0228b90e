package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/watchroom/watchroom/internal/config"
	"github.com/watchroom/watchroom/internal/database"
	"github.com/watchroom/watchroom/internal/ffmpeg"
	internalhttp "github.com/watchroom/watchroom/internal/http"
	"github.com/watchroom/watchroom/internal/http/handlers"
	"github.com/watchroom/watchroom/internal/observability"
	"github.com/watchroom/watchroom/internal/playback"
	"github.com/watchroom/watchroom/internal/repository"
	"github.com/watchroom/watchroom/internal/storage"
	"github.com/watchroom/watchroom/internal/transcode"
	"github.com/watchroom/watchroom/internal/version"
	"github.com/watchroom/watchroom/internal/vfs"
	"github.com/watchroom/watchroom/internal/wsync"
)

// orphanMaxAge is how old an inactive session directory must be before the
// periodic sweep reclaims it. Fresh directories are spared so a transcode
// that is still starting up is never swept out from under itself.
const orphanMaxAge = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watchroom server",
	Long: `Start the watchroom HTTP server and synchronization hub.

The server provides:
- REST API for playback sessions, seeking, participants, and resume points
- HLS playlist and segment delivery under /stream
- Watch-party synchronization websocket at /ws/sync
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("media-dir", "media", "Media library root directory")
	serveCmd.Flags().String("data-dir", "data", "Data directory for transcode output")

	// Bind flags to viper
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.media_dir", serveCmd.Flags().Lookup("media-dir"))
	mustBindPFlag("storage.data_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger := slog.Default()

	// Database and repositories
	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	participantRepo := repository.NewParticipantRepository(db.DB)
	resumeRepo := repository.NewResumeRepository(db.DB)

	// Media library and FFmpeg tooling
	resolver, err := vfs.NewLocal(cfg.Storage.MediaDir)
	if err != nil {
		return fmt.Errorf("opening media library: %w", err)
	}

	binaries, err := ffmpeg.FindBinaries(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath)
	if err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	logger.Info("resolved ffmpeg binaries",
		slog.String("ffmpeg", binaries.FFmpeg),
		slog.String("ffprobe", binaries.FFprobe),
	)

	prober := ffmpeg.NewProber(binaries.FFprobe).WithTimeout(cfg.FFmpeg.ProbeTimeout)

	encoderProber := ffmpeg.NewEncoderProber(
		binaries.FFmpeg,
		cfg.FFmpeg.EncoderProbeTimeout,
		observability.WithComponent(logger, "encoder-probe"),
	)
	encoder, err := encoderProber.Probe(cmd.Context(), cfg.FFmpeg.EncoderPriority)
	if err != nil {
		return fmt.Errorf("probing encoders: %w", err)
	}

	// Transcode output storage
	sandbox, err := storage.NewSandbox(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	store := storage.NewSessionStore(sandbox, observability.WithComponent(logger, "storage"))

	// Playback sessions
	svc := playback.NewService(
		resolver,
		prober,
		*binaries,
		store,
		transcode.Encoder(encoder),
		cfg.Transcode,
		observability.WithComponent(logger, "playback"),
	)
	registry := playback.NewRegistry(svc)
	defer registry.CloseAll()

	// Reclaim directories left behind by a previous run, then keep sweeping
	// on a schedule for sessions that leak while we run.
	if removed := store.SweepOrphans(0, registry.ActiveTranscode); removed > 0 {
		logger.Info("reclaimed session directories from previous run", slog.Int("removed", removed))
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Storage.SweepSchedule, func() {
		store.SweepOrphans(orphanMaxAge, registry.ActiveTranscode)
	}); err != nil {
		return fmt.Errorf("scheduling orphan sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Synchronization rooms, one hub per watch party
	rooms := wsync.NewRooms(cfg.Sync, participantRepo, observability.WithComponent(logger, "sync"))

	// HTTP server and handlers
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithActiveTranscodes(registry.ActiveCount).
		Register(server.API())

	handlers.NewPlaybackHandler(registry, rooms, observability.WithComponent(logger, "playback")).
		Register(server.API())

	handlers.NewParticipantHandler(participantRepo, resumeRepo).
		Register(server.API())

	handlers.NewStreamHandler(store, observability.WithComponent(logger, "stream")).
		Register(server.Router())

	handlers.NewSyncHandler(rooms, observability.WithComponent(logger, "sync")).
		Register(server.Router())

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting watchroom server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("encoder", encoder),
		slog.String("version", version.Version),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rooms.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	return g.Wait()
}
