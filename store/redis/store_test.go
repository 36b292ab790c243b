package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcpsession"
)

func newTestStore(t *testing.T, options ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), options...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.GetSession(ctx, "missing")
	assert.True(t, mcpsession.IsNotFound(err))

	session := &mcpsession.Session{
		ID:       "s-1",
		Status:   mcpsession.StatusInitialized,
		Metadata: mcpsession.Metadata{"protocolVersion": "2025-06-18"},
		Version:  1,
	}
	require.NoError(t, store.PutSessionIfAbsent(ctx, session))
	assert.ErrorIs(t, store.PutSessionIfAbsent(ctx, session), mcpsession.ErrExists)

	loaded, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusInitialized, loaded.Status)
	assert.EqualValues(t, "2025-06-18", loaded.Metadata["protocolVersion"])
	assert.EqualValues(t, 1, loaded.Version)
}

func TestStore_UpdateSessionCAS(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	session := &mcpsession.Session{ID: "s-1", Status: mcpsession.StatusInitialized, Version: 1}
	require.NoError(t, store.PutSessionIfAbsent(ctx, session))

	next := session.Clone()
	next.Status = mcpsession.StatusActive
	next.Version = 2
	require.NoError(t, store.UpdateSessionCAS(ctx, "s-1", 1, next))

	// stale expected version loses
	stale := next.Clone()
	stale.Version = 3
	assert.True(t, mcpsession.IsConflict(store.UpdateSessionCAS(ctx, "s-1", 1, stale)))

	assert.True(t, mcpsession.IsNotFound(store.UpdateSessionCAS(ctx, "missing", 1, next)))

	loaded, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loaded.Version)
	assert.EqualValues(t, mcpsession.StatusActive, loaded.Status)
}

func TestStore_DeleteSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}))
	_, err := store.AppendEvent(ctx, &mcpsession.Event{SessionID: "s-1", StreamKey: mcpsession.StreamRequest})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, "s-1"))
	assert.True(t, mcpsession.IsNotFound(store.DeleteSession(ctx, "s-1")))

	events, err := store.ReadEvents(ctx, "s-1", mcpsession.StreamRequest, "", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStore_EventStream(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := store.AppendEvent(ctx, &mcpsession.Event{
			SessionID: "s-1",
			StreamKey: mcpsession.StreamRequest,
			Direction: mcpsession.ServerToClient,
			Kind:      mcpsession.KindResponse,
			Method:    "tools/call",
			RequestID: float64(7),
			Payload:   []byte(`{"jsonrpc":"2.0","id":7,"result":{}}`),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	events, err := store.ReadEvents(ctx, "s-1", mcpsession.StreamRequest, "", 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.EqualValues(t, ids[0], events[0].ID)
	assert.EqualValues(t, mcpsession.ServerToClient, events[0].Direction)
	assert.EqualValues(t, mcpsession.KindResponse, events[0].Kind)
	assert.EqualValues(t, "tools/call", events[0].Method)
	assert.EqualValues(t, float64(7), events[0].RequestID)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{}}`, string(events[0].Payload))

	// cursor scan is exclusive of afterID
	tail, err := store.ReadEvents(ctx, "s-1", mcpsession.StreamRequest, ids[1], 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.EqualValues(t, ids[2], tail[0].ID)

	limited, err := store.ReadEvents(ctx, "s-1", mcpsession.StreamRequest, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	last, err := store.LastEventID(ctx, "s-1", mcpsession.StreamRequest)
	require.NoError(t, err)
	assert.EqualValues(t, ids[3], last)

	empty, err := store.LastEventID(ctx, "s-1", mcpsession.StreamStandalone)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_TrimStream(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for i := 0; i < 10; i++ {
		_, err := store.AppendEvent(ctx, &mcpsession.Event{SessionID: "s-1", StreamKey: mcpsession.StreamRequest})
		require.NoError(t, err)
	}
	require.NoError(t, store.TrimStream(ctx, "s-1", mcpsession.StreamRequest, 4))
	events, err := store.ReadEvents(ctx, "s-1", mcpsession.StreamRequest, "", 0)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestStore_Locks(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, store.AcquireLock(ctx, "admit:s-1", "node-a", time.Minute))
	assert.ErrorIs(t, store.AcquireLock(ctx, "admit:s-1", "node-b", time.Minute), mcpsession.ErrLockHeld)

	// release by a non-holder leaves the lock in place
	require.NoError(t, store.ReleaseLock(ctx, "admit:s-1", "node-b"))
	assert.ErrorIs(t, store.AcquireLock(ctx, "admit:s-1", "node-b", time.Minute), mcpsession.ErrLockHeld)

	require.NoError(t, store.ReleaseLock(ctx, "admit:s-1", "node-a"))
	require.NoError(t, store.AcquireLock(ctx, "admit:s-1", "node-b", time.Minute))

	// expiry frees the lock without release
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.AcquireLock(ctx, "admit:s-1", "node-c", time.Minute))
}

func TestStore_SessionTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, WithSessionTTL(time.Minute))
	require.NoError(t, store.PutSessionIfAbsent(ctx, &mcpsession.Session{ID: "s-1", Version: 1}))

	mr.FastForward(2 * time.Minute)
	_, err := store.GetSession(ctx, "s-1")
	assert.True(t, mcpsession.IsNotFound(err))
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.GetSession(ctx, "s-1")
	assert.True(t, mcpsession.IsUnavailable(err))
	assert.True(t, mcpsession.IsUnavailable(store.DeleteSession(ctx, "s-1")))
	assert.True(t, mcpsession.IsUnavailable(store.Ping(ctx)))
}

func Test_nextStreamID(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "increments sequence",
			input:    "1700000000000-0",
			expected: "1700000000000-1",
		},
		{
			name:     "no sequence part",
			input:    "1700000000000",
			expected: "1700000000000-1",
		},
	}

	for _, tc := range testCases {
		actual := nextStreamID(tc.input)
		assert.EqualValues(t, tc.expected, actual, tc.name)
	}
}
