// Package resilience decorates a store.Adapter with bounded retry and a
// circuit breaker. Only ErrUnavailable outcomes are retried and counted by the
// breaker; NOT_FOUND, EXISTS, CONFLICT and HELD return immediately. Breaker
// state is instance local.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/metrics"
	"github.com/viant/mcpsession/store"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts      = 3
	defaultBaseDelay        = 50 * time.Millisecond
	defaultCapDelay         = 2 * time.Second
	defaultFailureThreshold = 5
	defaultCooldown         = 10 * time.Second
	defaultOpTimeout        = 2 * time.Second
)

// Store wraps another adapter with retry and breaker policies.
type Store struct {
	next             store.Adapter
	breaker          *gobreaker.CircuitBreaker[any]
	maxAttempts      int
	baseDelay        time.Duration
	capDelay         time.Duration
	failureThreshold uint32
	cooldown         time.Duration
	opTimeout        time.Duration
	name             string
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

// New decorates next with retry and a circuit breaker.
func New(next store.Adapter, options ...Option) *Store {
	ret := &Store{
		next:             next,
		maxAttempts:      defaultMaxAttempts,
		baseDelay:        defaultBaseDelay,
		capDelay:         defaultCapDelay,
		failureThreshold: defaultFailureThreshold,
		cooldown:         defaultCooldown,
		opTimeout:        defaultOpTimeout,
		name:             "store",
		logger:           zap.NewNop(),
	}
	for _, option := range options {
		option(ret)
	}
	ret.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        ret.name,
		MaxRequests: 1,
		Timeout:     ret.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= ret.failureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !mcpsession.IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ret.logger.Warn("store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			ret.metrics.BreakerChange(from.String(), to.String())
		},
	})
	return ret
}

// execute runs fn under the breaker with retry limited to transient faults.
func execute[T any](s *Store, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	started := time.Now()
	out, err := s.breaker.Execute(func() (any, error) {
		var value T
		operation := func() error {
			opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
			defer cancel()
			var err error
			value, err = fn(opCtx)
			if err != nil && !mcpsession.IsUnavailable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = s.baseDelay
		policy.MaxInterval = s.capDelay
		policy.MaxElapsedTime = 0
		err := backoff.Retry(operation,
			backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxAttempts-1)), ctx))
		return value, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = mcpsession.Unavailable(err)
	}
	s.metrics.StoreOp(op, started, err)
	if err != nil {
		var zero T
		return zero, err
	}
	ret, _ := out.(T)
	return ret, nil
}

// GetSession implements store.Adapter.
func (s *Store) GetSession(ctx context.Context, id string) (*mcpsession.Session, error) {
	return execute(s, ctx, "get_session", func(ctx context.Context) (*mcpsession.Session, error) {
		return s.next.GetSession(ctx, id)
	})
}

// PutSessionIfAbsent implements store.Adapter.
func (s *Store) PutSessionIfAbsent(ctx context.Context, session *mcpsession.Session) error {
	_, err := execute(s, ctx, "put_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.PutSessionIfAbsent(ctx, session)
	})
	return err
}

// UpdateSessionCAS implements store.Adapter.
func (s *Store) UpdateSessionCAS(ctx context.Context, id string, expectedVersion int64, session *mcpsession.Session) error {
	_, err := execute(s, ctx, "update_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.UpdateSessionCAS(ctx, id, expectedVersion, session)
	})
	return err
}

// DeleteSession implements store.Adapter.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := execute(s, ctx, "delete_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.DeleteSession(ctx, id)
	})
	return err
}

// AppendEvent implements store.Adapter.
func (s *Store) AppendEvent(ctx context.Context, event *mcpsession.Event) (string, error) {
	return execute(s, ctx, "append_event", func(ctx context.Context) (string, error) {
		return s.next.AppendEvent(ctx, event)
	})
}

// ReadEvents implements store.Adapter.
func (s *Store) ReadEvents(ctx context.Context, sessionID, streamKey, afterID string, limit int) ([]*mcpsession.Event, error) {
	return execute(s, ctx, "read_events", func(ctx context.Context) ([]*mcpsession.Event, error) {
		return s.next.ReadEvents(ctx, sessionID, streamKey, afterID, limit)
	})
}

// LastEventID implements store.Adapter.
func (s *Store) LastEventID(ctx context.Context, sessionID, streamKey string) (string, error) {
	return execute(s, ctx, "last_event_id", func(ctx context.Context) (string, error) {
		return s.next.LastEventID(ctx, sessionID, streamKey)
	})
}

// TrimStream implements store.Adapter.
func (s *Store) TrimStream(ctx context.Context, sessionID, streamKey string, maxLen int64) error {
	_, err := execute(s, ctx, "trim_stream", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.TrimStream(ctx, sessionID, streamKey, maxLen)
	})
	return err
}

// AcquireLock implements store.Adapter.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	_, err := execute(s, ctx, "acquire_lock", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.AcquireLock(ctx, name, holder, ttl)
	})
	return err
}

// ReleaseLock implements store.Adapter.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) error {
	_, err := execute(s, ctx, "release_lock", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.ReleaseLock(ctx, name, holder)
	})
	return err
}

// Now implements store.Adapter.
func (s *Store) Now() time.Time { return s.next.Now() }

// Ping implements store.Adapter.
func (s *Store) Ping(ctx context.Context) error {
	_, err := execute(s, ctx, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Ping(ctx)
	})
	return err
}

// Close implements store.Adapter.
func (s *Store) Close() error { return s.next.Close() }

// State returns the current breaker state name.
func (s *Store) State() string { return s.breaker.State().String() }
