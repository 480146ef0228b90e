package wsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn the hub needs; tests substitute a
// fake.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// sendQueueLimit bounds the control-plane queue per connection. State
// updates never queue (only the newest is kept), so a client hitting this
// limit is not consuming at all and gets dropped.
const sendQueueLimit = 32

// Client is one websocket participant.
type Client struct {
	ID          string
	UserID      string
	DisplayName string

	hub    *Hub
	conn   wsConn
	logger *slog.Logger

	mu           sync.Mutex
	queue        [][]byte
	pendingState []byte
	closed       bool

	wake chan struct{}
	done chan struct{}
}

func newClient(hub *Hub, conn wsConn, id, userID, displayName string) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		hub:         hub,
		conn:        conn,
		logger:      hub.logger.With(slog.String("client_id", id)),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// enqueue queues a control-plane frame. Returns false when the client is
// closed or too far behind to keep.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= sendQueueLimit {
		c.mu.Unlock()
		c.logger.Warn("dropping client: send queue full")
		c.closeWith(websocket.CloseGoingAway, "too slow")
		return false
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	c.signal()
	return true
}

// enqueueState stores a state frame, replacing any state frame not yet
// written. A client that falls behind receives only the most recent state,
// never a backlog of stale positions.
func (c *Client) enqueueState(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pendingState = frame
	c.mu.Unlock()

	c.signal()
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// writeLoop drains the queue and the pending state slot until the client
// closes. Write failures drop the client.
func (c *Client) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			var frame []byte
			switch {
			case len(c.queue) > 0:
				frame = c.queue[0]
				c.queue = c.queue[1:]
			case c.pendingState != nil:
				frame = c.pendingState
				c.pendingState = nil
			}
			c.mu.Unlock()

			if frame == nil {
				break
			}
			if err := c.write(frame, writeTimeout); err != nil {
				c.logger.Debug("write failed, dropping client", slog.String("error", err.Error()))
				c.hub.drop(c)
				return
			}
		}
	}
}

func (c *Client) write(frame []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// closeWith sends a close frame with the given code and closes the
// connection. Idempotent.
func (c *Client) closeWith(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = c.conn.Close()
	close(c.done)
}
