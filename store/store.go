// Package store defines the storage contract the coordination layer depends
// on: versioned session records, append-only per-session event streams and
// advisory locks. Implementations must be safe for concurrent use and must map
// backend errors onto the mcpsession fault taxonomy; only ErrNotFound,
// ErrExists, ErrConflict, ErrLockHeld and ErrUnavailable cross this boundary.
package store

import (
	"context"
	"time"

	"github.com/viant/mcpsession"
)

// Adapter abstracts session persistence. Two implementations ship with this
// module: an in-process one (store/memory) for development and tests, and a
// Redis one (store/redis) for shared deployments behind a load balancer.
type Adapter interface {
	// GetSession retrieves a record by id; ErrNotFound when missing.
	GetSession(ctx context.Context, id string) (*mcpsession.Session, error)

	// PutSessionIfAbsent atomically creates a record; ErrExists when the id is
	// already taken anywhere in the cluster.
	PutSessionIfAbsent(ctx context.Context, session *mcpsession.Session) error

	// UpdateSessionCAS replaces the record only when the stored version equals
	// expectedVersion; ErrConflict on a version race, ErrNotFound when missing.
	// The replacement's Version must be expectedVersion+1.
	UpdateSessionCAS(ctx context.Context, id string, expectedVersion int64, session *mcpsession.Session) error

	// DeleteSession removes the record and its event streams.
	DeleteSession(ctx context.Context, id string) error

	// AppendEvent appends to the (session, stream key) stream and returns the
	// assigned event id, strictly increasing within that stream.
	AppendEvent(ctx context.Context, event *mcpsession.Event) (string, error)

	// ReadEvents returns up to limit events with id greater than afterID (all
	// from the head when afterID is empty), in append order.
	ReadEvents(ctx context.Context, sessionID, streamKey, afterID string, limit int) ([]*mcpsession.Event, error)

	// LastEventID returns the id of the newest event on the stream, or empty
	// when the stream has no entries.
	LastEventID(ctx context.Context, sessionID, streamKey string) (string, error)

	// TrimStream bounds the stream to at most maxLen entries, dropping the head.
	TrimStream(ctx context.Context, sessionID, streamKey string, maxLen int64) error

	// AcquireLock takes the named advisory lock for holder with auto expiry at
	// ttl; ErrLockHeld when another holder owns it.
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error

	// ReleaseLock releases the named lock if still owned by holder.
	ReleaseLock(ctx context.Context, name, holder string) error

	// Now returns the adapter's advisory monotonic-ish clock.
	Now() time.Time

	// Ping reports backend health; ErrUnavailable when unreachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
