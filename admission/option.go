package admission

import (
	"time"

	"go.uber.org/zap"
)

// Option customizes the controller.
type Option func(*Controller)

// WithLockTTL sets the advisory lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithLockWait bounds how long a request waits for a held admission lock
// before proceeding optimistically.
func WithLockWait(wait time.Duration) Option {
	return func(c *Controller) {
		if wait > 0 {
			c.lockWait = wait
		}
	}
}

// WithHolderID sets the lock holder identity, normally the instance id.
func WithHolderID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.holder = id
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}
