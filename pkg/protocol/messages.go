package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the wire messages exchanged between the relay and its
// clients. Every frame is one JSON-encoded Envelope.
type Kind string

const (
	// KindWelcome is sent by the server once per successful admission.
	KindWelcome Kind = "welcome"
	// KindSnapshot carries a full opaque document snapshot, published by a
	// client and relayed verbatim to the other members of the room.
	KindSnapshot Kind = "loro_snapshot"
	// KindRequestFullState asks the server for the room's cached snapshot.
	KindRequestFullState Kind = "request_full_state"
	// KindFullStateResponse answers a full-state request with the cached
	// snapshot, or with IsEmpty set when the room has no cache yet.
	KindFullStateResponse Kind = "full_state_response"
	KindPing              Kind = "ping"
	KindPong              Kind = "pong"
	// KindServerShutdown is sent to every member before the process exits.
	KindServerShutdown Kind = "server_shutdown"
)

// Envelope is the single wire frame. Fields are populated per kind; the
// snapshot payload is opaque to the server and travels base64-encoded.
type Envelope struct {
	Type      Kind   `json:"type"`
	Room      string `json:"room,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Data      []byte `json:"data,omitempty"`
	IsEmpty   bool   `json:"isEmpty,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

func Welcome(room string) Envelope {
	return Envelope{Type: KindWelcome, Room: room, Message: "joined " + room}
}

func Snapshot(room, userID string, data []byte) Envelope {
	return Envelope{Type: KindSnapshot, Room: room, UserID: userID, Data: data}
}

func RequestFullState(room, userID string) Envelope {
	return Envelope{Type: KindRequestFullState, Room: room, UserID: userID}
}

func FullStateResponse(room string, data []byte, capturedAtMs int64) Envelope {
	return Envelope{Type: KindFullStateResponse, Room: room, Data: data, Timestamp: capturedAtMs}
}

func EmptyStateResponse(room string) Envelope {
	return Envelope{Type: KindFullStateResponse, Room: room, IsEmpty: true}
}

func Ping() Envelope { return Envelope{Type: KindPing} }

func Pong() Envelope { return Envelope{Type: KindPong} }

func ServerShutdown(message string) Envelope {
	return Envelope{Type: KindServerShutdown, Message: message}
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a frame and rejects unknown kinds so callers can drop
// garbage early without inspecting payloads.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("bad frame: %w", err)
	}
	switch e.Type {
	case KindWelcome, KindSnapshot, KindRequestFullState, KindFullStateResponse,
		KindPing, KindPong, KindServerShutdown:
		return e, nil
	default:
		return Envelope{}, fmt.Errorf("unknown message type %q", e.Type)
	}
}
