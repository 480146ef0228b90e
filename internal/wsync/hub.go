package wsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/watchroom/watchroom/internal/config"
	"github.com/watchroom/watchroom/internal/observability"
)

// RosterProvider resolves user IDs to display names for roster broadcasts.
type RosterProvider interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Hub is one watch room. It tracks participants, elects a reference player
// whose position everyone else follows, and fans messages out.
//
// The first participant to join becomes the reference. When the reference
// leaves, the longest-connected remaining participant takes over and the
// stored player state is discarded, since it described the old reference.
type Hub struct {
	logger        *slog.Logger
	roster        RosterProvider
	writeTimeout  time.Duration
	clockInterval time.Duration

	// onEmpty, when set, is called after the last participant leaves; the
	// room registry uses it to reclaim the hub.
	onEmpty func()

	// now is the wall clock source; tests replace it.
	now func() time.Time

	mu        sync.Mutex
	clients   []*Client // join order; election picks the head
	reference *Client
	lastState *PlayerState
	media     *MediaInfo
}

// NewHub creates a Hub.
func NewHub(cfg config.SyncConfig, roster RosterProvider, logger *slog.Logger) *Hub {
	return &Hub{
		logger:        observability.WithComponent(logger, "wsync"),
		roster:        roster,
		writeTimeout:  cfg.WriteTimeout,
		clockInterval: cfg.ClockSyncInterval,
		now:           time.Now,
	}
}

// Run broadcasts clock sync messages until ctx is done, then disconnects
// everyone.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.clockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll(websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			h.clockTick()
		}
	}
}

// clockTick broadcasts the server wall clock to the room.
func (h *Hub) clockTick() {
	h.broadcast(MessageClockSync, ClockSync{
		ServerTime: float64(h.now().UnixMilli()),
	}, nil)
}

// Join admits a connection to the room. The welcome message is written
// synchronously before the client is registered for fan-out, so it is always
// the first frame the client sees.
func (h *Hub) Join(conn wsConn, userID string) (*Client, error) {
	displayName := userID
	if h.roster != nil {
		if name, err := h.roster.DisplayName(context.Background(), userID); err == nil && name != "" {
			displayName = name
		}
	}

	c := newClient(h, conn, uuid.NewString(), userID, displayName)

	h.mu.Lock()
	welcome := Welcome{
		ClientID:   c.ID,
		UserID:     c.UserID,
		ServerTime: float64(h.now().UnixMilli()),
		Media:      h.media,
		State:      h.lastState,
	}
	if h.reference != nil {
		welcome.ReferenceID = h.reference.ID
	}
	h.mu.Unlock()

	frame, err := marshalEnvelope(MessageWelcome, welcome)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.write(frame, h.writeTimeout); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("writing welcome: %w", err)
	}

	h.mu.Lock()
	h.clients = append(h.clients, c)
	becameReference := h.reference == nil
	if becameReference {
		h.reference = c
	}
	h.mu.Unlock()

	go c.writeLoop(h.writeTimeout)

	if becameReference {
		h.broadcast(MessageReferencePlayerChanged, ReferencePlayerChanged{ClientID: c.ID}, nil)
	}
	h.broadcastRoster()

	h.logger.Info("client joined",
		slog.String("client_id", c.ID),
		slog.String("user_id", userID),
		slog.Bool("reference", becameReference),
	)
	return c, nil
}

// Serve reads frames from the client until the connection drops or the
// client violates the protocol, in which case the connection is closed with
// a protocol-error code.
func (h *Hub) Serve(c *Client) {
	defer h.drop(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := ParseClientMessage(raw)
		if err != nil {
			observability.WithError(c.logger, err).Warn("closing client for protocol violation")
			c.closeWith(websocket.CloseProtocolError, "protocol violation")
			return
		}

		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *Client, msg ClientMessage) {
	switch msg.Type {
	case MessagePlayerStateUpdate:
		h.handleStateUpdate(c, msg.State)

	case MessageRequestStateChangePlaying:
		h.forwardToReference(MessageRequestStateChangePlaying, map[string]bool{"playing": *msg.Playing})

	case MessageRequestStateChangeTime:
		h.forwardToReference(MessageRequestStateChangeTime, map[string]float64{"time": *msg.Time})
	}
}

// handleStateUpdate records the reference player's state and fans it out to
// everyone else. The sender never receives its own update, and updates from
// non-reference players are ignored: only the reference defines the room
// position.
func (h *Hub) handleStateUpdate(c *Client, state *PlayerState) {
	h.mu.Lock()
	if h.reference != c {
		h.mu.Unlock()
		return
	}
	h.lastState = state
	targets := h.othersLocked(c)
	h.mu.Unlock()

	frame, err := marshalEnvelope(MessagePlayerStateUpdate, state)
	if err != nil {
		observability.WithError(h.logger, err).Error("encoding state update")
		return
	}
	for _, t := range targets {
		t.enqueueState(frame)
	}
}

// forwardToReference relays a control request to the reference player, which
// applies it locally and reports the resulting state back.
func (h *Hub) forwardToReference(t MessageType, payload any) {
	h.mu.Lock()
	ref := h.reference
	h.mu.Unlock()
	if ref == nil {
		return
	}

	frame, err := marshalEnvelope(t, payload)
	if err != nil {
		observability.WithError(h.logger, err).Error("encoding control request")
		return
	}
	ref.enqueue(frame)
}

// drop disconnects a client and, if it was the reference, elects a new one.
func (h *Hub) drop(c *Client) {
	c.closeWith(websocket.CloseNormalClosure, "")

	h.mu.Lock()
	idx := -1
	for i, existing := range h.clients {
		if existing == c {
			idx = i
			break
		}
	}
	if idx == -1 {
		h.mu.Unlock()
		return
	}
	h.clients = append(h.clients[:idx], h.clients[idx+1:]...)
	empty := len(h.clients) == 0

	var newReference *Client
	if h.reference == c {
		// The stored state described the departed reference; discard it so a
		// new joiner is not synced to a ghost.
		h.lastState = nil
		h.reference = nil
		if len(h.clients) > 0 {
			h.reference = h.clients[0]
			newReference = h.reference
		}
	}
	h.mu.Unlock()

	if empty && h.onEmpty != nil {
		h.onEmpty()
	}

	if newReference != nil {
		h.broadcast(MessageReferencePlayerChanged, ReferencePlayerChanged{ClientID: newReference.ID}, nil)
	}
	h.broadcastRoster()

	h.logger.Info("client left", slog.String("client_id", c.ID))
}

// SetMedia announces a media change to the room; nil announces that playback
// stopped and is broadcast as a null descriptor. The stored player state is
// discarded either way: positions in the old media are meaningless.
func (h *Hub) SetMedia(media *MediaInfo) {
	h.mu.Lock()
	h.media = media
	h.lastState = nil
	h.mu.Unlock()

	h.broadcast(MessageMediaChanged, media, nil)
}

// Roster returns the current participant list.
func (h *Hub) Roster() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked()
}

func (h *Hub) rosterLocked() []ClientInfo {
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, ClientInfo{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			IsReference: c == h.reference,
		})
	}
	return infos
}

func (h *Hub) broadcastRoster() {
	h.mu.Lock()
	roster := h.rosterLocked()
	h.mu.Unlock()

	h.broadcast(MessageSessionInfo, SessionInfo{Clients: roster}, nil)
}

func (h *Hub) broadcast(t MessageType, payload any, except *Client) {
	frame, err := marshalEnvelope(t, payload)
	if err != nil {
		observability.WithError(h.logger, err).Error("encoding broadcast")
		return
	}

	h.mu.Lock()
	targets := h.othersLocked(except)
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Hub) othersLocked(except *Client) []*Client {
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	return targets
}

func (h *Hub) closeAll(code int, reason string) {
	h.mu.Lock()
	clients := append([]*Client(nil), h.clients...)
	h.clients = nil
	h.reference = nil
	h.lastState = nil
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(code, reason)
	}
}
