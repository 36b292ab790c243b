package manager

import (
	"time"

	"github.com/viant/mcpsession/metrics"
	"go.uber.org/zap"
)

// Option customizes the manager.
type Option func(*Manager)

// WithCache sizes the per-node read cache.
func WithCache(maxEntries int, ttl time.Duration) Option {
	return func(m *Manager) {
		if maxEntries > 0 {
			m.cacheEntries = maxEntries
		}
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

// WithCacheDisabled turns the read cache off; every Get hits the store.
func WithCacheDisabled() Option {
	return func(m *Manager) { m.cacheOff = true }
}

// WithInstanceID sets the identifier written as owner hint on records this
// instance mutates. Defaults to a random UUID per process.
func WithInstanceID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.instanceID = id
		}
	}
}

// WithCASRetries bounds internal retries on version conflicts.
func WithCASRetries(retries int) Option {
	return func(m *Manager) {
		if retries > 0 {
			m.casRetries = retries
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}
