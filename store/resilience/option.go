package resilience

import (
	"time"

	"github.com/viant/mcpsession/metrics"
	"go.uber.org/zap"
)

// Option customizes the resilience policies.
type Option func(*Store)

// WithMaxAttempts sets the total number of attempts per operation.
func WithMaxAttempts(attempts int) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithBackoff sets the exponential backoff base and cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(s *Store) {
		if base > 0 {
			s.baseDelay = base
		}
		if cap > 0 {
			s.capDelay = cap
		}
	}
}

// WithFailureThreshold sets consecutive transient failures before the breaker opens.
func WithFailureThreshold(threshold int) Option {
	return func(s *Store) {
		if threshold > 0 {
			s.failureThreshold = uint32(threshold)
		}
	}
}

// WithCooldown sets how long an open breaker rejects calls before probing.
func WithCooldown(cooldown time.Duration) Option {
	return func(s *Store) {
		if cooldown > 0 {
			s.cooldown = cooldown
		}
	}
}

// WithOpTimeout bounds every storage operation.
func WithOpTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// WithName names the breaker for logs and metrics.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

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
