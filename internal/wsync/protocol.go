// Package wsync implements the watch-party synchronization protocol: a
// websocket fan-out hub with a single reference player per room, plus the
// drift corrector that keeps follower players locked to the reference.
package wsync

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates protocol envelopes. The numeric values are part
// of the wire format.
type MessageType int

const (
	MessageWelcome MessageType = iota
	MessageSessionInfo
	MessageMediaChanged
	MessagePlayerStateUpdate
	MessageReferencePlayerChanged
	MessageClockSync
	MessageRequestStateChangePlaying
	MessageRequestStateChangeTime
)

// ErrProtocolViolation marks malformed or out-of-contract client messages.
// Connections producing one are closed with a protocol-error close code.
var ErrProtocolViolation = errors.New("protocol violation")

// Envelope is the wire frame: a type tag and a type-specific payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PlayerState is a player position report: whether playback is running,
// whether the sender just performed a seek, the media-time position, the
// sender's playback rate, and the sender's wall clock in milliseconds at the
// moment of the report. Receivers extrapolate the position using the
// timestamp, so stale reports stay usable; the seeked flag tells followers
// to resync immediately instead of rate-chasing a discontinuity.
type PlayerState struct {
	Playing   bool    `json:"playing"`
	Seeked    bool    `json:"seeked"`
	Time      float64 `json:"time"`
	Rate      float64 `json:"playbackRate"`
	Timestamp float64 `json:"timestamp"`
}

// ClientInfo describes one room participant in roster broadcasts.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsReference bool   `json:"isReference"`
}

// Welcome is the first message on every connection, sent before the client
// is registered for fan-out. ServerTime lets the client calibrate its clock
// offset immediately instead of waiting for the first ClockSync; UserID lets
// it recognize a state update echoed back to itself as a protocol violation.
type Welcome struct {
	ClientID    string       `json:"clientId"`
	UserID      string       `json:"userId"`
	ServerTime  float64      `json:"serverTime"`
	ReferenceID string       `json:"referenceId,omitempty"`
	Media       *MediaInfo   `json:"media,omitempty"`
	State       *PlayerState `json:"state,omitempty"`
}

// SessionInfo is the full roster, broadcast whenever it changes.
type SessionInfo struct {
	Clients []ClientInfo `json:"clients"`
}

// MediaInfo announces what the room is watching.
type MediaInfo struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// ReferencePlayerChanged announces a new reference player.
type ReferencePlayerChanged struct {
	ClientID string `json:"clientId"`
}

// ClockSync carries the server wall clock in milliseconds, letting clients
// estimate their clock offset.
type ClockSync struct {
	ServerTime float64 `json:"serverTime"`
}

// ClientMessage is a validated inbound message. Exactly one payload field is
// set, matching Type.
type ClientMessage struct {
	Type    MessageType
	State   *PlayerState // MessagePlayerStateUpdate
	Playing *bool        // MessageRequestStateChangePlaying
	Time    *float64     // MessageRequestStateChangeTime
}

// jsonKind is the JSON type a payload field must carry.
type jsonKind int

const (
	kindBool jsonKind = iota
	kindNumber
)

// ParseClientMessage validates a raw inbound frame against the protocol.
// Only the three client-originated message types are accepted; anything
// else, any unknown or missing field, and any wrongly typed field is an
// ErrProtocolViolation.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var envelope struct {
		Type *MessageType    `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := unmarshalStrict(raw, &envelope); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: bad envelope: %v", ErrProtocolViolation, err)
	}
	if envelope.Type == nil {
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrProtocolViolation)
	}

	msg := ClientMessage{Type: *envelope.Type}

	switch *envelope.Type {
	case MessagePlayerStateUpdate:
		fields, err := requireFields(envelope.Data, map[string]jsonKind{
			"playing":      kindBool,
			"seeked":       kindBool,
			"time":         kindNumber,
			"playbackRate": kindNumber,
			"timestamp":    kindNumber,
		})
		if err != nil {
			return ClientMessage{}, err
		}
		msg.State = &PlayerState{
			Playing:   fields["playing"].(bool),
			Seeked:    fields["seeked"].(bool),
			Time:      fields["time"].(float64),
			Rate:      fields["playbackRate"].(float64),
			Timestamp: fields["timestamp"].(float64),
		}

	case MessageRequestStateChangePlaying:
		fields, err := requireFields(envelope.Data, map[string]jsonKind{
			"playing": kindBool,
		})
		if err != nil {
			return ClientMessage{}, err
		}
		playing := fields["playing"].(bool)
		msg.Playing = &playing

	case MessageRequestStateChangeTime:
		fields, err := requireFields(envelope.Data, map[string]jsonKind{
			"time": kindNumber,
		})
		if err != nil {
			return ClientMessage{}, err
		}
		t := fields["time"].(float64)
		msg.Time = &t

	default:
		return ClientMessage{}, fmt.Errorf("%w: unexpected message type %d from client", ErrProtocolViolation, *envelope.Type)
	}

	return msg, nil
}

// requireFields decodes data as an object carrying exactly the given fields
// with the given JSON types.
func requireFields(data json.RawMessage, want map[string]jsonKind) (map[string]any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrProtocolViolation)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: data is not an object: %v", ErrProtocolViolation, err)
	}
	if len(obj) != len(want) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrProtocolViolation, len(want), len(obj))
	}

	out := make(map[string]any, len(want))
	for name, kind := range want {
		raw, ok := obj[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrProtocolViolation, name)
		}
		switch kind {
		case kindBool:
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("%w: field %q must be a boolean", ErrProtocolViolation, name)
			}
			out[name] = v
		case kindNumber:
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("%w: field %q must be a number", ErrProtocolViolation, name)
			}
			out[name] = v
		}
	}
	return out, nil
}

func unmarshalStrict(raw []byte, v any) error {
	// Envelope-level unknown fields are tolerated only as far as JSON allows;
	// decode via a map first so extra keys are caught.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	for key := range obj {
		if key != "type" && key != "data" {
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return json.Unmarshal(raw, v)
}

// marshalEnvelope wraps a payload in an Envelope and encodes it.
func marshalEnvelope(t MessageType, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		data = encoded
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}
