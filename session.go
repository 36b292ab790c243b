package mcpsession

import (
	"time"
)

// Status represents the persisted lifecycle state of a session.
type Status string

const (
	// StatusInitializing exists only in memory on the instance that observed the
	// initialize request; it is never persisted.
	StatusInitializing Status = "INITIALIZING"
	StatusInitialized  Status = "INITIALIZED"
	StatusActive       Status = "ACTIVE"
	StatusClosed       Status = "CLOSED"
)

// CanTransition reports whether moving from s to next follows the lifecycle DAG
// INITIALIZING -> INITIALIZED -> ACTIVE -> CLOSED. CLOSED is terminal and every
// non-terminal state may move directly to CLOSED.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusInitializing:
		return next == StatusInitialized || next == StatusClosed
	case StatusInitialized:
		return next == StatusActive || next == StatusClosed
	case StatusActive:
		return next == StatusClosed
	default:
		return false
	}
}

// Metadata carries opaque reconstruction hints supplied by the upstream
// transport (negotiated protocol version, client capability summary, auth
// context). The coordination layer never interprets the values; it only passes
// them back to the upstream when a transport is rehydrated.
type Metadata map[string]string

// Merge returns a copy of m with patch applied, last writer wins per key.
func (m Metadata) Merge(patch Metadata) Metadata {
	if len(patch) == 0 && m != nil {
		return m.Clone()
	}
	ret := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		ret[k] = v
	}
	for k, v := range patch {
		ret[k] = v
	}
	return ret
}

// Clone returns a shallow copy of metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	ret := make(Metadata, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

// Session is the authoritative per-session record shared across instances.
// The id is assigned by the upstream MCP transport on initialize and treated
// as an opaque, case-sensitive token; this layer never mints one.
type Session struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	OwnerHint string    `json:"ownerHint,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing store or
// cache state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	ret := *s
	ret.Metadata = s.Metadata.Clone()
	return &ret
}

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	return s != nil && s.Status == StatusClosed
}
