package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/store/memory"
)

// flakyStore wraps the memory adapter and fails GetSession a scripted number
// of times before recovering.
type flakyStore struct {
	*memory.Store
	calls    int
	failures int
	err      error
}

func (f *flakyStore) GetSession(ctx context.Context, id string) (*mcpsession.Session, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Store.GetSession(ctx, id)
}

func newFlaky(failures int, err error) *flakyStore {
	return &flakyStore{Store: memory.New(), failures: failures, err: err}
}

func TestStore_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	flaky := newFlaky(2, mcpsession.Unavailable(assert.AnError))
	require.NoError(t, flaky.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}))

	store := New(flaky, WithMaxAttempts(3), WithBackoff(time.Millisecond, 5*time.Millisecond))
	session, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, "s-1", session.ID)
	assert.EqualValues(t, 3, flaky.calls)
}

func TestStore_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	flaky := newFlaky(10, mcpsession.Unavailable(assert.AnError))
	store := New(flaky, WithMaxAttempts(3), WithBackoff(time.Millisecond, 5*time.Millisecond))

	_, err := store.GetSession(ctx, "s-1")
	assert.True(t, mcpsession.IsUnavailable(err))
	assert.EqualValues(t, 3, flaky.calls)
}

func TestStore_NoRetryOnDefiniteFaults(t *testing.T) {
	ctx := context.Background()
	flaky := newFlaky(0, nil)
	store := New(flaky, WithMaxAttempts(3), WithBackoff(time.Millisecond, 5*time.Millisecond))

	// NOT_FOUND comes from the adapter itself and must not be retried
	_, err := store.GetSession(ctx, "missing")
	assert.True(t, mcpsession.IsNotFound(err))
	assert.EqualValues(t, 1, flaky.calls)

	// EXISTS is terminal too
	require.NoError(t, store.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}))
	assert.ErrorIs(t, store.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}), mcpsession.ErrExists)
}

func TestStore_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	flaky := newFlaky(1000, mcpsession.Unavailable(assert.AnError))
	store := New(flaky,
		WithMaxAttempts(1),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
		WithFailureThreshold(5),
		WithCooldown(time.Minute))

	for i := 0; i < 5; i++ {
		_, err := store.GetSession(ctx, "s-1")
		assert.True(t, mcpsession.IsUnavailable(err))
	}
	assert.EqualValues(t, "open", store.State())

	// open breaker rejects without touching the adapter
	callsBefore := flaky.calls
	_, err := store.GetSession(ctx, "s-1")
	assert.True(t, mcpsession.IsUnavailable(err))
	assert.EqualValues(t, callsBefore, flaky.calls)
}

func TestStore_BreakerIgnoresDefiniteFaults(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New(),
		WithMaxAttempts(1),
		WithFailureThreshold(2),
		WithCooldown(time.Minute))

	for i := 0; i < 10; i++ {
		_, err := store.GetSession(ctx, "missing")
		assert.True(t, mcpsession.IsNotFound(err))
	}
	assert.EqualValues(t, "closed", store.State())
}

func TestStore_BreakerRecoversAfterCooldown(t *testing.T) {
	ctx := context.Background()
	flaky := newFlaky(5, mcpsession.Unavailable(assert.AnError))
	require.NoError(t, flaky.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}))
	store := New(flaky,
		WithMaxAttempts(1),
		WithFailureThreshold(5),
		WithCooldown(20*time.Millisecond))

	for i := 0; i < 5; i++ {
		_, _ = store.GetSession(ctx, "s-1")
	}
	assert.EqualValues(t, "open", store.State())

	time.Sleep(30 * time.Millisecond)
	session, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, "s-1", session.ID)
	assert.EqualValues(t, "closed", store.State())
}

func TestStore_PassThroughOperations(t *testing.T) {
	ctx := context.Background()
	store := New(memory.New())

	require.NoError(t, store.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}))
	id, err := store.AppendEvent(ctx, &mcpsession.Event{SessionID: "s-1", StreamKey: mcpsession.StreamRequest})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events, err := store.ReadEvents(ctx, "s-1", mcpsession.StreamRequest, "", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, store.AcquireLock(ctx, "admit:s-1", "node-a", time.Minute))
	assert.ErrorIs(t, store.AcquireLock(ctx, "admit:s-1", "node-b", time.Minute), mcpsession.ErrLockHeld)
	require.NoError(t, store.ReleaseLock(ctx, "admit:s-1", "node-a"))
	require.NoError(t, store.Ping(ctx))
	assert.False(t, store.Now().IsZero())
}
