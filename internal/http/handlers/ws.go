package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/watchroom/watchroom/internal/wsync"
)

// SyncHandler upgrades connections into a watch party's synchronization hub.
type SyncHandler struct {
	rooms    *wsync.Rooms
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(rooms *wsync.Rooms, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware on the
			// rest of the API; the sync socket is open to any origin because
			// browser players connect from the media frontend directly.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Register mounts the websocket route on the router.
func (h *SyncHandler) Register(router chi.Router) {
	router.Get("/ws/sync", h.Connect)
}

// Connect upgrades the request and runs the connection's read loop until the
// client disconnects or violates the protocol. The session query parameter
// names the playback session whose watch party the viewer joins.
func (h *SyncHandler) Connect(w http.ResponseWriter, r *http.Request) {
	playbackID := r.URL.Query().Get("session")
	if playbackID == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	hub := h.rooms.Get(playbackID)
	client, err := hub.Join(conn, userID)
	if err != nil {
		h.logger.Warn("joining sync hub",
			slog.String("session", playbackID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}

	hub.Serve(client)
}
