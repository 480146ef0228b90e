package wsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/watchroom/watchroom/internal/config"
	"github.com/watchroom/watchroom/internal/observability"
)

// Rooms maps playback sessions to their hubs. Each watch party has exactly
// one hub, created on first use and reclaimed when the last participant
// leaves, so roster, reference election, and fan-out never cross parties.
type Rooms struct {
	cfg    config.SyncConfig
	roster RosterProvider
	logger *slog.Logger

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRooms creates an empty room registry.
func NewRooms(cfg config.SyncConfig, roster RosterProvider, logger *slog.Logger) *Rooms {
	return &Rooms{
		cfg:    cfg,
		roster: roster,
		logger: observability.WithComponent(logger, "wsync"),
		hubs:   make(map[string]*Hub),
	}
}

// Get returns the hub for a playback session, creating it on first use.
func (r *Rooms) Get(playbackID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[playbackID]; ok {
		return h
	}

	h := NewHub(r.cfg, r.roster, r.logger.With(slog.String("room", playbackID)))
	h.onEmpty = func() { r.remove(playbackID, h) }
	r.hubs[playbackID] = h
	return h
}

// Lookup returns the hub for a playback session, or nil when no party has
// formed around it.
func (r *Rooms) Lookup(playbackID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hubs[playbackID]
}

// remove drops a hub from the registry. The hub pointer is compared so a
// room recreated under the same key is not torn down by a stale callback.
func (r *Rooms) remove(playbackID string, h *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hubs[playbackID] == h {
		delete(r.hubs, playbackID)
	}
}

// Run broadcasts clock sync to every room until ctx is done, then
// disconnects all participants everywhere.
func (r *Rooms) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ClockSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, h := range r.snapshot() {
				h.closeAll(websocket.CloseGoingAway, "server shutting down")
			}
			return
		case <-ticker.C:
			for _, h := range r.snapshot() {
				h.clockTick()
			}
		}
	}
}

func (r *Rooms) snapshot() []*Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	return hubs
}
