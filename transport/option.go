package transport

import (
	"github.com/viant/mcpsession/metrics"
	"go.uber.org/zap"
)

// Option customizes the middleware.
type Option func(*Middleware)

// WithMaxBodyBytes bounds buffered POST bodies; larger requests get 413.
func WithMaxBodyBytes(limit int64) Option {
	return func(m *Middleware) {
		if limit > 0 {
			m.maxBodyBytes = limit
		}
	}
}

// WithUnknownSessionStatus sets the HTTP status returned for an unknown or
// closed session id, 404 by default.
func WithUnknownSessionStatus(status int) Option {
	return func(m *Middleware) {
		if status > 0 {
			m.unknownStatus = status
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) { mw.metrics = m }
}
