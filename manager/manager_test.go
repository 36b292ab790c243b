package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/store/memory"
)

func TestManager_Create(t *testing.T) {
	ctx := context.Background()
	mgr := New(memory.New(), WithInstanceID("node-a"))

	session, err := mgr.Create(ctx, "s-1", mcpsession.Metadata{"clientName": "test"})
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusInitialized, session.Status)
	assert.EqualValues(t, 1, session.Version)
	assert.EqualValues(t, "node-a", session.OwnerHint)
	assert.EqualValues(t, "test", session.Metadata["clientName"])
	assert.False(t, session.CreatedAt.IsZero())

	_, err = mgr.Create(ctx, "s-1", nil)
	assert.ErrorIs(t, err, mcpsession.ErrExists)

	_, err = mgr.Create(ctx, "", nil)
	assert.Error(t, err)
}

func TestManager_GetServesFromCache(t *testing.T) {
	ctx := context.Background()
	adapter := memory.New()
	mgr := New(adapter, WithCache(16, time.Minute))

	_, err := mgr.Create(ctx, "s-1", nil)
	require.NoError(t, err)

	// mutate the store behind the manager's back; cached Get must not see it
	raw, err := adapter.GetSession(ctx, "s-1")
	require.NoError(t, err)
	updated := raw.Clone()
	updated.Status = mcpsession.StatusClosed
	updated.Version = 2
	require.NoError(t, adapter.UpdateSessionCAS(ctx, "s-1", 1, updated))

	cached, err := mgr.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusInitialized, cached.Status)

	// the admission path reads through
	fresh, err := mgr.GetFresh(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusClosed, fresh.Status)

	// and refreshes the cache
	cached, err = mgr.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusClosed, cached.Status)
}

func TestManager_CacheDisabled(t *testing.T) {
	ctx := context.Background()
	adapter := memory.New()
	mgr := New(adapter, WithCacheDisabled())

	_, err := mgr.Create(ctx, "s-1", nil)
	require.NoError(t, err)

	raw, err := adapter.GetSession(ctx, "s-1")
	require.NoError(t, err)
	updated := raw.Clone()
	updated.Status = mcpsession.StatusClosed
	updated.Version = 2
	require.NoError(t, adapter.UpdateSessionCAS(ctx, "s-1", 1, updated))

	loaded, err := mgr.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusClosed, loaded.Status)
}

func TestManager_Transition(t *testing.T) {
	ctx := context.Background()
	mgr := New(memory.New())
	_, err := mgr.Create(ctx, "s-1", nil)
	require.NoError(t, err)

	session, err := mgr.Transition(ctx, "s-1", mcpsession.StatusInitialized, mcpsession.StatusActive, mcpsession.Metadata{"note": "x"})
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusActive, session.Status)
	assert.EqualValues(t, 2, session.Version)
	assert.EqualValues(t, "x", session.Metadata["note"])

	// arriving at the target again is a no-op
	session, err = mgr.Transition(ctx, "s-1", mcpsession.StatusInitialized, mcpsession.StatusActive, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, session.Version)

	// backwards moves are rejected
	_, err = mgr.Transition(ctx, "s-1", mcpsession.StatusActive, mcpsession.StatusInitialized, nil)
	assert.ErrorIs(t, err, mcpsession.ErrIllegalTransition)

	_, err = mgr.Transition(ctx, "missing", mcpsession.StatusInitialized, mcpsession.StatusActive, nil)
	assert.True(t, mcpsession.IsNotFound(err))
}

func TestManager_TransitionRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	adapter := memory.New()
	mgr := New(adapter)
	_, err := mgr.Create(ctx, "s-1", nil)
	require.NoError(t, err)

	// another instance touched metadata; version moved but status did not
	raw, err := adapter.GetSession(ctx, "s-1")
	require.NoError(t, err)
	touched := raw.Clone()
	touched.Version = 2
	require.NoError(t, adapter.UpdateSessionCAS(ctx, "s-1", 1, touched))

	session, err := mgr.Transition(ctx, "s-1", mcpsession.StatusInitialized, mcpsession.StatusActive, nil)
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.StatusActive, session.Status)
	assert.EqualValues(t, 3, session.Version)
}

func TestManager_TouchMetadata(t *testing.T) {
	ctx := context.Background()
	mgr := New(memory.New())
	_, err := mgr.Create(ctx, "s-1", mcpsession.Metadata{"a": "1", "b": "2"})
	require.NoError(t, err)

	session, err := mgr.TouchMetadata(ctx, "s-1", mcpsession.Metadata{"b": "3", "c": "4"})
	require.NoError(t, err)
	assert.EqualValues(t, mcpsession.Metadata{"a": "1", "b": "3", "c": "4"}, session.Metadata)
	assert.EqualValues(t, 2, session.Version)
	assert.EqualValues(t, mcpsession.StatusInitialized, session.Status)
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	mgr := New(memory.New())
	_, err := mgr.Create(ctx, "s-1", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Close(ctx, "s-1"))
	session, err := mgr.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, session.Closed())

	// closing again is idempotent
	require.NoError(t, mgr.Close(ctx, "s-1"))

	assert.True(t, mcpsession.IsNotFound(mgr.Close(ctx, "missing")))
}

func TestManager_ClosedIsTerminal(t *testing.T) {
	ctx := context.Background()
	mgr := New(memory.New())
	_, err := mgr.Create(ctx, "s-1", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Close(ctx, "s-1"))

	_, err = mgr.Transition(ctx, "s-1", mcpsession.StatusClosed, mcpsession.StatusActive, nil)
	assert.ErrorIs(t, err, mcpsession.ErrIllegalTransition)
}
