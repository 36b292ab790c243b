package mcpsession

import (
	"encoding/json"
	"time"
)

// Direction indicates which side of the wire produced a message.
type Direction string

const (
	ClientToServer Direction = "CLIENT_TO_SERVER"
	ServerToClient Direction = "SERVER_TO_CLIENT"
)

// Kind classifies the JSON-RPC shape of an observed message.
type Kind string

const (
	KindRequest      Kind = "REQUEST"
	KindResponse     Kind = "RESPONSE"
	KindNotification Kind = "NOTIFICATION"
	KindError        Kind = "ERROR"
)

// Stream keys discriminate per-session sub-streams so that SSE resumption
// cursors stay independent: request-tied responses vs the standalone GET stream.
const (
	StreamRequest    = "request"
	StreamStandalone = "standalone"
)

// Event is one observed protocol message appended to a session's event log.
// ID is assigned by the storage adapter and is unique and ordered only within
// one (session, stream key) pair.
type Event struct {
	ID         string          `json:"-"`
	SessionID  string          `json:"sessionId"`
	StreamKey  string          `json:"streamKey"`
	Direction  Direction       `json:"dir"`
	Kind       Kind            `json:"kind"`
	Method     string          `json:"method,omitempty"`
	RequestID  any             `json:"jsonrpcId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ObservedAt time.Time       `json:"ts"`
}
