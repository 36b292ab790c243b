package collection

import "sync"

// SyncMap is a generic map guarded by a RWMutex.
type SyncMap[K comparable, V any] struct {
	mux sync.RWMutex
	m   map[K]V
}

// Get returns the value for key and whether it was present.
func (s *SyncMap[K, V]) Get(key K) (V, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	value, ok := s.m[key]
	return value, ok
}

// Put stores value under key.
func (s *SyncMap[K, V]) Put(key K, value V) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.m[key] = value
}

// PutIfAbsent stores value only when key is missing; returns true on store.
func (s *SyncMap[K, V]) PutIfAbsent(key K, value V) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = value
	return true
}

// Delete removes key.
func (s *SyncMap[K, V]) Delete(key K) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.m, key)
}

// Range iterates entries until fn returns false.
func (s *SyncMap[K, V]) Range(fn func(key K, value V) bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	for k, v := range s.m {
		if !fn(k, v) {
			return
		}
	}
}

// Len returns the number of entries.
func (s *SyncMap[K, V]) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.m)
}

// NewSyncMap creates an empty SyncMap.
func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{m: map[K]V{}}
}
