package wsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage_PlayerStateUpdate(t *testing.T) {
	raw := []byte(`{"type":3,"data":{"playing":true,"seeked":true,"time":42.5,"playbackRate":1.03,"timestamp":1700000000000}}`)

	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, MessagePlayerStateUpdate, msg.Type)
	require.NotNil(t, msg.State)
	assert.True(t, msg.State.Playing)
	assert.True(t, msg.State.Seeked)
	assert.InDelta(t, 42.5, msg.State.Time, 0.001)
	assert.InDelta(t, 1.03, msg.State.Rate, 0.001)
	assert.InDelta(t, 1700000000000, msg.State.Timestamp, 0.001)
}

func TestParseClientMessage_RequestPlaying(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":6,"data":{"playing":false}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageRequestStateChangePlaying, msg.Type)
	require.NotNil(t, msg.Playing)
	assert.False(t, *msg.Playing)
}

func TestParseClientMessage_RequestTime(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":7,"data":{"time":913.25}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageRequestStateChangeTime, msg.Type)
	require.NotNil(t, msg.Time)
	assert.InDelta(t, 913.25, *msg.Time, 0.001)
}

func TestParseClientMessage_Violations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `garbage`},
		{"missing type", `{"data":{"time":1}}`},
		{"unknown envelope field", `{"type":7,"data":{"time":1},"extra":true}`},
		{"missing data", `{"type":7}`},
		{"empty data object", `{"type":7,"data":{}}`},
		{"wrong field type", `{"type":7,"data":{"time":"913"}}`},
		{"extra payload field", `{"type":7,"data":{"time":1,"seq":2}}`},
		{"missing payload field", `{"type":3,"data":{"playing":true,"seeked":false,"time":1,"playbackRate":1}}`},
		{"state without seeked flag", `{"type":3,"data":{"playing":true,"time":1,"playbackRate":1,"timestamp":1}}`},
		{"boolean as number", `{"type":6,"data":{"playing":1}}`},
		{"server-only type welcome", `{"type":0,"data":{}}`},
		{"server-only type clock sync", `{"type":5,"data":{"serverTime":1}}`},
		{"unknown type", `{"type":99,"data":{}}`},
		{"data not an object", `{"type":7,"data":[913]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrProtocolViolation)
		})
	}
}
