package eventlog

import (
	"github.com/viant/mcpsession/metrics"
	"go.uber.org/zap"
)

// Option customizes the event store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}
