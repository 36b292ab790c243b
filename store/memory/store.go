// Package memory provides an in-process store.Adapter backed by maps and
// slices. It exists for development and tests; it honors the same contract as
// the Redis adapter, including CAS semantics and lock expiry.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/viant/mcpsession"
)

type streamKey struct {
	sessionID string
	stream    string
}

type stream struct {
	seq    uint64
	events []*mcpsession.Event
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

// Store is a concurrency-safe in-memory adapter.
type Store struct {
	mux      sync.Mutex
	sessions map[string]*mcpsession.Session
	streams  map[streamKey]*stream
	locks    map[string]*lockEntry
}

// GetSession implements store.Adapter.
func (s *Store) GetSession(_ context.Context, id string) (*mcpsession.Session, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, mcpsession.ErrNotFound
	}
	return session.Clone(), nil
}

// PutSessionIfAbsent implements store.Adapter.
func (s *Store) PutSessionIfAbsent(_ context.Context, session *mcpsession.Session) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return mcpsession.ErrExists
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// UpdateSessionCAS implements store.Adapter.
func (s *Store) UpdateSessionCAS(_ context.Context, id string, expectedVersion int64, session *mcpsession.Session) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	current, ok := s.sessions[id]
	if !ok {
		return mcpsession.ErrNotFound
	}
	if current.Version != expectedVersion {
		return mcpsession.ErrConflict
	}
	s.sessions[id] = session.Clone()
	return nil
}

// DeleteSession implements store.Adapter.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return mcpsession.ErrNotFound
	}
	delete(s.sessions, id)
	for key := range s.streams {
		if key.sessionID == id {
			delete(s.streams, key)
		}
	}
	return nil
}

// AppendEvent implements store.Adapter.
func (s *Store) AppendEvent(_ context.Context, event *mcpsession.Event) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	key := streamKey{sessionID: event.SessionID, stream: event.StreamKey}
	entry, ok := s.streams[key]
	if !ok {
		entry = &stream{}
		s.streams[key] = entry
	}
	entry.seq++
	stored := *event
	stored.ID = strconv.FormatUint(entry.seq, 10)
	if stored.ObservedAt.IsZero() {
		stored.ObservedAt = time.Now()
	}
	entry.events = append(entry.events, &stored)
	return stored.ID, nil
}

// ReadEvents implements store.Adapter.
func (s *Store) ReadEvents(_ context.Context, sessionID, stream, afterID string, limit int) ([]*mcpsession.Event, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.streams[streamKey{sessionID: sessionID, stream: stream}]
	if !ok {
		return nil, nil
	}
	var after uint64
	if afterID != "" {
		var err error
		if after, err = strconv.ParseUint(afterID, 10, 64); err != nil {
			return nil, mcpsession.ErrNotFound
		}
	}
	var ret []*mcpsession.Event
	for _, ev := range entry.events {
		id, _ := strconv.ParseUint(ev.ID, 10, 64)
		if id <= after {
			continue
		}
		copied := *ev
		ret = append(ret, &copied)
		if limit > 0 && len(ret) >= limit {
			break
		}
	}
	return ret, nil
}

// LastEventID implements store.Adapter.
func (s *Store) LastEventID(_ context.Context, sessionID, stream string) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.streams[streamKey{sessionID: sessionID, stream: stream}]
	if !ok || len(entry.events) == 0 {
		return "", nil
	}
	return entry.events[len(entry.events)-1].ID, nil
}

// TrimStream implements store.Adapter.
func (s *Store) TrimStream(_ context.Context, sessionID, stream string, maxLen int64) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.streams[streamKey{sessionID: sessionID, stream: stream}]
	if !ok {
		return nil
	}
	if excess := int64(len(entry.events)) - maxLen; excess > 0 {
		entry.events = entry.events[excess:]
	}
	return nil
}

// AcquireLock implements store.Adapter.
func (s *Store) AcquireLock(_ context.Context, name, holder string, ttl time.Duration) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	now := time.Now()
	if entry, ok := s.locks[name]; ok && entry.expiresAt.After(now) && entry.holder != holder {
		return mcpsession.ErrLockHeld
	}
	s.locks[name] = &lockEntry{holder: holder, expiresAt: now.Add(ttl)}
	return nil
}

// ReleaseLock implements store.Adapter.
func (s *Store) ReleaseLock(_ context.Context, name, holder string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if entry, ok := s.locks[name]; ok && entry.holder == holder {
		delete(s.locks, name)
	}
	return nil
}

// Now implements store.Adapter.
func (s *Store) Now() time.Time { return time.Now() }

// Ping implements store.Adapter.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close implements store.Adapter.
func (s *Store) Close() error { return nil }

// New creates an empty in-memory adapter.
func New() *Store {
	return &Store{
		sessions: map[string]*mcpsession.Session{},
		streams:  map[streamKey]*stream{},
		locks:    map[string]*lockEntry{},
	}
}
