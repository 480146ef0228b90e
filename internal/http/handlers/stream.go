package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/watchroom/watchroom/internal/storage"
)

// StreamHandler serves HLS playlists and segments out of the per-session
// output directories. Paths come straight from clients, so every lookup goes
// through the sandbox.
type StreamHandler struct {
	store  *storage.SessionStore
	logger *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(store *storage.SessionStore, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{store: store, logger: logger}
}

// Register mounts the stream routes on the router. These bypass the API layer:
// they serve raw files with range support.
func (h *StreamHandler) Register(router chi.Router) {
	router.Get("/stream/{transcodeID}/*", h.ServeFile)
}

// ServeFile serves one playlist or segment from a transcode session's output.
func (h *StreamHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	transcodeID := chi.URLParam(r, "transcodeID")
	relative := chi.URLParam(r, "*")

	filePath, err := h.store.OutputPath(transcodeID, relative)
	if err != nil {
		h.logger.Warn("rejected stream path",
			slog.String("transcode_id", transcodeID),
			slog.String("path", relative),
			slog.String("error", err.Error()),
		)
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	name := path.Base(relative)
	switch {
	case strings.HasSuffix(name, ".m3u8"):
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		// Playlists grow while the transcode runs; never cache them.
		w.Header().Set("Cache-Control", "no-cache")
	case strings.HasSuffix(name, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
		// Segments are immutable once written.
		w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
	default:
		http.NotFound(w, r)
		return
	}

	http.ServeContent(w, r, name, info.ModTime(), f)
}
