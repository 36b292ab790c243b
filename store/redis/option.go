package redis

import (
	"strings"
	"time"
)

// Option customizes the Redis adapter.
type Option func(*Store)

// WithPrefix overrides the default key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = strings.TrimSuffix(prefix, ":")
		}
	}
}

// WithSessionTTL sets an expiry on session record keys; zero keeps records
// until explicitly deleted.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) { s.sessionTTL = ttl }
}

// WithStreamMaxLen bounds event streams to approximately maxLen entries.
func WithStreamMaxLen(maxLen int64) Option {
	return func(s *Store) { s.maxLen = maxLen }
}
