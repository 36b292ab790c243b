package keyed

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Mutex is a striped lock keyed by string. Observations for the same key are
// serialized; distinct keys contend only on hash collisions.
type Mutex struct {
	stripes []sync.Mutex
}

// Lock acquires the stripe owning key.
func (m *Mutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

// Unlock releases the stripe owning key.
func (m *Mutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}

func (m *Mutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}

// New creates a striped mutex with the given stripe count (defaulted when <= 0).
func New(stripes int) *Mutex {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	return &Mutex{stripes: make([]sync.Mutex, stripes)}
}
