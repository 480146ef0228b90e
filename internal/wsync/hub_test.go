package wsync

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/watchroom/internal/config"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	closeCode int
	closed    bool

	incoming  chan []byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closeCode: -1}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.incoming
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.CloseMessage {
		if len(data) >= 2 {
			f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
		return nil
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.incoming)
	})
	return nil
}

// envelopes decodes every text frame written so far.
func (f *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

// lastOfType returns the newest envelope of the given type, if any.
func (f *fakeConn) lastOfType(t *testing.T, mt MessageType) (Envelope, bool) {
	t.Helper()
	envs := f.envelopes(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == mt {
			return envs[i], true
		}
	}
	return Envelope{}, false
}

func (f *fakeConn) countOfType(t *testing.T, mt MessageType) int {
	t.Helper()
	n := 0
	for _, env := range f.envelopes(t) {
		if env.Type == mt {
			n++
		}
	}
	return n
}

type fakeRoster struct{}

func (fakeRoster) DisplayName(_ context.Context, userID string) (string, error) {
	return "Name of " + userID, nil
}

func newTestHub() *Hub {
	cfg := config.SyncConfig{ClockSyncInterval: 10 * time.Millisecond, WriteTimeout: time.Second}
	return NewHub(cfg, fakeRoster{}, slog.Default())
}

// join connects a fake client and starts its read loop.
func join(t *testing.T, h *Hub, userID string) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c, err := h.Join(conn, userID)
	require.NoError(t, err)
	go h.Serve(c)
	t.Cleanup(func() { conn.Close() })
	return c, conn
}

func TestHub_WelcomeIsFirstFrame(t *testing.T) {
	h := newTestHub()
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	_, conn := join(t, h, "alice")

	envs := conn.envelopes(t)
	require.NotEmpty(t, envs)
	assert.Equal(t, MessageWelcome, envs[0].Type)

	var welcome Welcome
	require.NoError(t, json.Unmarshal(envs[0].Data, &welcome))
	assert.NotEmpty(t, welcome.ClientID)
	assert.Equal(t, "alice", welcome.UserID)
	assert.InDelta(t, 1700000000000, welcome.ServerTime, 0.5)
	assert.Nil(t, welcome.State)
}

func TestHub_SecondJoinerSeesReference(t *testing.T) {
	h := newTestHub()
	a, _ := join(t, h, "alice")
	_, connB := join(t, h, "bob")

	env, ok := connB.lastOfType(t, MessageWelcome)
	require.True(t, ok)

	var welcome Welcome
	require.NoError(t, json.Unmarshal(env.Data, &welcome))
	assert.Equal(t, a.ID, welcome.ReferenceID)
}

func TestHub_RosterBroadcastOnJoin(t *testing.T) {
	h := newTestHub()
	a, connA := join(t, h, "alice")
	b, _ := join(t, h, "bob")

	require.Eventually(t, func() bool {
		env, ok := connA.lastOfType(t, MessageSessionInfo)
		if !ok {
			return false
		}
		var info SessionInfo
		if err := json.Unmarshal(env.Data, &info); err != nil {
			return false
		}
		return len(info.Clients) == 2
	}, time.Second, 5*time.Millisecond)

	env, _ := connA.lastOfType(t, MessageSessionInfo)
	var info SessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))

	byID := map[string]ClientInfo{}
	for _, ci := range info.Clients {
		byID[ci.ID] = ci
	}
	assert.True(t, byID[a.ID].IsReference)
	assert.False(t, byID[b.ID].IsReference)
	assert.Equal(t, "Name of alice", byID[a.ID].DisplayName)
}

func TestHub_ReferenceStateFansOutWithoutEcho(t *testing.T) {
	h := newTestHub()
	_, connA := join(t, h, "alice")
	_, connB := join(t, h, "bob")

	connA.incoming <- []byte(`{"type":3,"data":{"playing":true,"seeked":false,"time":12.5,"playbackRate":1,"timestamp":1000}}`)

	require.Eventually(t, func() bool {
		_, ok := connB.lastOfType(t, MessagePlayerStateUpdate)
		return ok
	}, time.Second, 5*time.Millisecond)

	env, _ := connB.lastOfType(t, MessagePlayerStateUpdate)
	var state PlayerState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.InDelta(t, 12.5, state.Time, 0.001)

	assert.Zero(t, connA.countOfType(t, MessagePlayerStateUpdate), "the sender never receives its own state back")
}

func TestHub_NonReferenceStateIgnored(t *testing.T) {
	h := newTestHub()
	_, connA := join(t, h, "alice")
	_, connB := join(t, h, "bob")

	connB.incoming <- []byte(`{"type":3,"data":{"playing":true,"seeked":false,"time":99,"playbackRate":1,"timestamp":1000}}`)

	// Give the hub time to (not) fan out.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, connA.countOfType(t, MessagePlayerStateUpdate))
}

func TestHub_ControlRequestForwardedToReference(t *testing.T) {
	h := newTestHub()
	_, connA := join(t, h, "alice")
	_, connB := join(t, h, "bob")

	connB.incoming <- []byte(`{"type":6,"data":{"playing":false}}`)

	require.Eventually(t, func() bool {
		_, ok := connA.lastOfType(t, MessageRequestStateChangePlaying)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, connB.countOfType(t, MessageRequestStateChangePlaying))
}

func TestHub_ProtocolViolationCloses1002(t *testing.T) {
	h := newTestHub()
	_, connB := join(t, h, "bob")

	connB.incoming <- []byte(`{"type":0,"data":{}}`)

	require.Eventually(t, func() bool {
		connB.mu.Lock()
		defer connB.mu.Unlock()
		return connB.closeCode == websocket.CloseProtocolError
	}, time.Second, 5*time.Millisecond)
}

func TestHub_ReferenceReelectionOnDisconnect(t *testing.T) {
	h := newTestHub()
	a, connA := join(t, h, "alice")
	b, connB := join(t, h, "bob")

	// Seed a reference state so we can observe it being cleared.
	connA.incoming <- []byte(`{"type":3,"data":{"playing":true,"seeked":false,"time":50,"playbackRate":1,"timestamp":1000}}`)
	require.Eventually(t, func() bool {
		_, ok := connB.lastOfType(t, MessagePlayerStateUpdate)
		return ok
	}, time.Second, 5*time.Millisecond)

	connA.Close()

	require.Eventually(t, func() bool {
		env, ok := connB.lastOfType(t, MessageReferencePlayerChanged)
		if !ok {
			return false
		}
		var change ReferencePlayerChanged
		if err := json.Unmarshal(env.Data, &change); err != nil {
			return false
		}
		return change.ClientID == b.ID
	}, time.Second, 5*time.Millisecond)

	roster := h.Roster()
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsReference)
	assert.NotEqual(t, a.ID, roster[0].ID)

	// A new joiner must not inherit the departed reference's state.
	_, connC := join(t, h, "carol")
	env, ok := connC.lastOfType(t, MessageWelcome)
	require.True(t, ok)
	var welcome Welcome
	require.NoError(t, json.Unmarshal(env.Data, &welcome))
	assert.Nil(t, welcome.State)
	assert.Equal(t, b.ID, welcome.ReferenceID)
}

func TestHub_SetMediaBroadcastsAndClearsState(t *testing.T) {
	h := newTestHub()
	_, connA := join(t, h, "alice")
	_, connB := join(t, h, "bob")

	connA.incoming <- []byte(`{"type":3,"data":{"playing":true,"seeked":false,"time":50,"playbackRate":1,"timestamp":1000}}`)
	require.Eventually(t, func() bool {
		_, ok := connB.lastOfType(t, MessagePlayerStateUpdate)
		return ok
	}, time.Second, 5*time.Millisecond)

	h.SetMedia(&MediaInfo{Path: "shows/ep02.mkv", Duration: 1420})

	require.Eventually(t, func() bool {
		_, ok := connB.lastOfType(t, MessageMediaChanged)
		return ok
	}, time.Second, 5*time.Millisecond)

	_, connC := join(t, h, "carol")
	env, ok := connC.lastOfType(t, MessageWelcome)
	require.True(t, ok)
	var welcome Welcome
	require.NoError(t, json.Unmarshal(env.Data, &welcome))
	require.NotNil(t, welcome.Media)
	assert.Equal(t, "shows/ep02.mkv", welcome.Media.Path)
	assert.Nil(t, welcome.State, "a media change invalidates the stored player state")
}

func TestHub_StopBroadcastsNullMedia(t *testing.T) {
	h := newTestHub()
	_, connA := join(t, h, "alice")

	h.SetMedia(&MediaInfo{Path: "shows/ep02.mkv", Duration: 1420})
	require.Eventually(t, func() bool {
		_, ok := connA.lastOfType(t, MessageMediaChanged)
		return ok
	}, time.Second, 5*time.Millisecond)

	h.SetMedia(nil)

	require.Eventually(t, func() bool {
		return connA.countOfType(t, MessageMediaChanged) == 2
	}, time.Second, 5*time.Millisecond)

	env, _ := connA.lastOfType(t, MessageMediaChanged)
	var media *MediaInfo
	require.NoError(t, json.Unmarshal(env.Data, &media))
	assert.Nil(t, media, "stopping playback announces a null descriptor")

	// A joiner after the stop must not be welcomed into stale media.
	_, connB := join(t, h, "bob")
	welcomeEnv, ok := connB.lastOfType(t, MessageWelcome)
	require.True(t, ok)
	var welcome Welcome
	require.NoError(t, json.Unmarshal(welcomeEnv.Data, &welcome))
	assert.Nil(t, welcome.Media)
}

func TestHub_ClockSyncBroadcast(t *testing.T) {
	h := newTestHub()
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	_, connA := join(t, h, "alice")

	require.Eventually(t, func() bool {
		_, ok := connA.lastOfType(t, MessageClockSync)
		return ok
	}, time.Second, 5*time.Millisecond)

	env, _ := connA.lastOfType(t, MessageClockSync)
	var sync ClockSync
	require.NoError(t, json.Unmarshal(env.Data, &sync))
	assert.InDelta(t, 1700000000000, sync.ServerTime, 0.5)
}

func TestClient_StateSlotKeepsNewestOnly(t *testing.T) {
	h := newTestHub()
	conn := newFakeConn()
	c := newClient(h, conn, "id", "alice", "Alice")

	// Without a running write loop both frames land in the slot; the second
	// overwrites the first.
	c.enqueueState([]byte(`first`))
	c.enqueueState([]byte(`second`))

	c.mu.Lock()
	pending := string(c.pendingState)
	c.mu.Unlock()
	assert.Equal(t, "second", pending)
}
