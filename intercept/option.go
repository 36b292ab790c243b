package intercept

import "go.uber.org/zap"

// Option customizes the interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Interceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}
