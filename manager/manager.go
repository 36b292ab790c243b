// Package manager owns the session record lifecycle: creation on initialize,
// status transitions under optimistic concurrency, metadata merging and
// closure. An optional per-node read cache accelerates Get; writes always go
// to the store first and the admission path must use GetFresh.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/metrics"
	"github.com/viant/mcpsession/store"
	"go.uber.org/zap"
)

const (
	defaultCacheEntries = 1024
	defaultCacheTTL     = 5 * time.Second
	defaultCASRetries   = 3
)

// Manager coordinates session records against the shared store.
type Manager struct {
	store        store.Adapter
	cache        *expirable.LRU[string, *mcpsession.Session]
	cacheEntries int
	cacheTTL     time.Duration
	cacheOff     bool
	instanceID   string
	casRetries   int
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// New creates a manager on the given adapter (typically resilience-wrapped).
func New(adapter store.Adapter, options ...Option) *Manager {
	ret := &Manager{
		store:        adapter,
		cacheEntries: defaultCacheEntries,
		cacheTTL:     defaultCacheTTL,
		casRetries:   defaultCASRetries,
		instanceID:   uuid.New().String(),
		logger:       zap.NewNop(),
	}
	for _, option := range options {
		option(ret)
	}
	if !ret.cacheOff {
		ret.cache = expirable.NewLRU[string, *mcpsession.Session](ret.cacheEntries, nil, ret.cacheTTL)
	}
	return ret
}

// InstanceID returns the identifier this manager stamps as owner hint.
func (m *Manager) InstanceID() string { return m.instanceID }

// Create registers a session under the id assigned by the upstream transport.
// The record starts INITIALIZED; ErrExists when another instance won the race.
func (m *Manager) Create(ctx context.Context, id string, initial mcpsession.Metadata) (*mcpsession.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	now := m.store.Now()
	session := &mcpsession.Session{
		ID:        id,
		Status:    mcpsession.StatusInitialized,
		Metadata:  initial.Clone(),
		OwnerHint: m.instanceID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.PutSessionIfAbsent(ctx, session); err != nil {
		return nil, err
	}
	m.cacheSet(session)
	m.metrics.SessionStatus(string(mcpsession.StatusInitialized))
	return session.Clone(), nil
}

// Get returns the record, served from the local cache when fresh.
func (m *Manager) Get(ctx context.Context, id string) (*mcpsession.Session, error) {
	if m.cache != nil {
		if cached, ok := m.cache.Get(id); ok {
			m.metrics.CacheHit()
			return cached.Clone(), nil
		}
		m.metrics.CacheMiss()
	}
	return m.GetFresh(ctx, id)
}

// GetFresh always reads from the store, refreshing the cache on success. The
// admission path must use it; cache staleness there causes wrong rehydration.
func (m *Manager) GetFresh(ctx context.Context, id string) (*mcpsession.Session, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		if mcpsession.IsNotFound(err) {
			m.Invalidate(id)
		}
		return nil, err
	}
	m.cacheSet(session)
	return session.Clone(), nil
}

// Transition moves the session from one status to another under CAS,
// retrying version conflicts a bounded number of times. Arriving at a record
// already in the target status is a no-op. ErrIllegalTransition when the move
// violates the lifecycle DAG.
func (m *Manager) Transition(ctx context.Context, id string, from, to mcpsession.Status, patch mcpsession.Metadata) (*mcpsession.Session, error) {
	var lastErr error
	for attempt := 0; attempt < m.casRetries; attempt++ {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == to {
			m.cacheSet(current)
			return current.Clone(), nil
		}
		if current.Status != from || !current.Status.CanTransition(to) {
			m.logger.Error("illegal session transition",
				zap.String("session", id),
				zap.String("current", string(current.Status)),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
			return nil, fmt.Errorf("%w: %s -> %s", mcpsession.ErrIllegalTransition, current.Status, to)
		}
		next := current.Clone()
		next.Status = to
		next.Metadata = next.Metadata.Merge(patch)
		next.Version = current.Version + 1
		next.UpdatedAt = m.store.Now()
		next.OwnerHint = m.instanceID
		if err := m.store.UpdateSessionCAS(ctx, id, current.Version, next); err != nil {
			if mcpsession.IsConflict(err) {
				m.Invalidate(id)
				lastErr = err
				continue
			}
			return nil, err
		}
		m.cacheSet(next)
		m.metrics.SessionStatus(string(to))
		return next.Clone(), nil
	}
	return nil, lastErr
}

// TouchMetadata merges patch into the record's metadata, last writer wins per
// key, retrying conflicts.
func (m *Manager) TouchMetadata(ctx context.Context, id string, patch mcpsession.Metadata) (*mcpsession.Session, error) {
	var lastErr error
	for attempt := 0; attempt < m.casRetries; attempt++ {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		next.Metadata = next.Metadata.Merge(patch)
		next.Version = current.Version + 1
		next.UpdatedAt = m.store.Now()
		if err := m.store.UpdateSessionCAS(ctx, id, current.Version, next); err != nil {
			if mcpsession.IsConflict(err) {
				m.Invalidate(id)
				lastErr = err
				continue
			}
			return nil, err
		}
		m.cacheSet(next)
		return next.Clone(), nil
	}
	return nil, lastErr
}

// Close moves the session to CLOSED; closing an already CLOSED session is OK.
func (m *Manager) Close(ctx context.Context, id string) error {
	var lastErr error
	for attempt := 0; attempt < m.casRetries; attempt++ {
		current, err := m.store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if current.Closed() {
			m.cacheSet(current)
			return nil
		}
		next := current.Clone()
		next.Status = mcpsession.StatusClosed
		next.Version = current.Version + 1
		next.UpdatedAt = m.store.Now()
		next.OwnerHint = m.instanceID
		if err := m.store.UpdateSessionCAS(ctx, id, current.Version, next); err != nil {
			if mcpsession.IsConflict(err) {
				m.Invalidate(id)
				lastErr = err
				continue
			}
			return err
		}
		m.cacheSet(next)
		m.metrics.SessionStatus(string(mcpsession.StatusClosed))
		return nil
	}
	return lastErr
}

// Invalidate drops the local cache entry for id.
func (m *Manager) Invalidate(id string) {
	if m.cache != nil {
		m.cache.Remove(id)
	}
}

// Purge clears the whole read cache; used on shutdown.
func (m *Manager) Purge() {
	if m.cache != nil {
		m.cache.Purge()
	}
}

func (m *Manager) cacheSet(session *mcpsession.Session) {
	if m.cache != nil && session != nil {
		m.cache.Add(session.ID, session.Clone())
	}
}
