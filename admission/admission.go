// Package admission rehydrates upstream transport state for sessions this
// instance has never seen. It always reads the store directly (never a local
// cache), guards rehydration with a short advisory lock, and warms ACTIVE
// sessions by injecting a single notifications/initialized into the fresh
// transport so the upstream does not demand re-initialization.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viant/jsonrpc"
	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/internal/collection"
	"github.com/viant/mcpsession/store"
	"go.uber.org/zap"
)

const (
	defaultLockTTL  = 2 * time.Second
	defaultLockWait = 500 * time.Millisecond
	lockPoll        = 50 * time.Millisecond
)

var (
	// ErrUnknownSession indicates the id names no record in the store.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionClosed indicates the record exists but is terminal.
	ErrSessionClosed = errors.New("session closed")
	// ErrUpstream indicates transport reconstruction failed in the upstream SDK.
	ErrUpstream = errors.New("upstream transport failure")
)

// Transport is the inbound side of one upstream session transport; Deliver
// injects a client-to-server message as if it arrived on the wire.
type Transport interface {
	Deliver(ctx context.Context, message []byte) error
}

// Upstream is the slice of the MCP SDK session manager this layer depends on.
// CreateTransportForSession must be idempotent: called twice for the same id
// it returns the already registered transport.
type Upstream interface {
	HasSession(id string) bool
	CreateTransportForSession(ctx context.Context, id string, metadata mcpsession.Metadata) (Transport, error)
}

// Controller decides, per request, whether the named session may be served
// locally, rebuilding upstream transport state first when needed.
type Controller struct {
	store    store.Adapter
	upstream Upstream
	warmed   *collection.SyncMap[string, bool]
	holder   string
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *zap.Logger
}

// New creates a controller over the shared store and the upstream manager.
func New(adapter store.Adapter, upstream Upstream, options ...Option) *Controller {
	ret := &Controller{
		store:    adapter,
		upstream: upstream,
		warmed:   collection.NewSyncMap[string, bool](),
		holder:   uuid.New().String(),
		lockTTL:  defaultLockTTL,
		lockWait: defaultLockWait,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Admit ensures local transport state exists for sessionID before the request
// is forwarded upstream. A nil return means forward; ErrUnknownSession and
// ErrSessionClosed mean reject without touching the upstream; ErrUnavailable
// propagates store outages; ErrUpstream wraps reconstruction failures.
func (c *Controller) Admit(ctx context.Context, sessionID string, initialize bool) error {
	if sessionID == "" || c.upstream.HasSession(sessionID) {
		return nil
	}
	record, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if mcpsession.IsNotFound(err) {
			if initialize {
				// Fresh handshake; the interceptor creates the record once the
				// upstream response assigns the id.
				return nil
			}
			return ErrUnknownSession
		}
		return err
	}
	if record.Closed() {
		return ErrSessionClosed
	}

	lockName := "admit:" + sessionID
	acquired := c.acquireLock(ctx, lockName)
	if acquired {
		defer func() {
			if err := c.store.ReleaseLock(ctx, lockName, c.holder); err != nil {
				c.logger.Warn("failed to release admission lock",
					zap.String("session", sessionID), zap.Error(err))
			}
		}()
	}

	transport, err := c.upstream.CreateTransportForSession(ctx, sessionID, record.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	if record.Status == mcpsession.StatusActive {
		c.warm(ctx, sessionID, transport)
	}
	return nil
}

// acquireLock takes the admission lock, waiting briefly when held. When the
// wait budget runs out it reports false and the caller proceeds optimistically;
// CreateTransportForSession idempotency makes the race benign.
func (c *Controller) acquireLock(ctx context.Context, name string) bool {
	deadline := time.Now().Add(c.lockWait)
	for {
		err := c.store.AcquireLock(ctx, name, c.holder, c.lockTTL)
		if err == nil {
			return true
		}
		if !errors.Is(err, mcpsession.ErrLockHeld) {
			c.logger.Warn("admission lock acquire failed", zap.String("lock", name), zap.Error(err))
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(lockPoll):
		}
	}
}

// warm injects notifications/initialized at most once per (instance, session).
// The claim is taken before delivery and rolled back on failure so the next
// request tries again; delivery itself is fire-and-forget.
func (c *Controller) warm(ctx context.Context, sessionID string, transport Transport) {
	if !c.warmed.PutIfAbsent(sessionID, true) {
		return
	}
	if err := transport.Deliver(ctx, initializedNotification()); err != nil {
		c.warmed.Delete(sessionID)
		c.logger.Warn("session warming failed",
			zap.String("session", sessionID), zap.Error(err))
	}
}

// Forget drops the warmed marker, used when a session closes.
func (c *Controller) Forget(sessionID string) {
	c.warmed.Delete(sessionID)
}

func initializedNotification() []byte {
	data, _ := json.Marshal(&jsonrpc.Notification{
		Jsonrpc: jsonrpc.Version,
		Method:  "notifications/initialized",
	})
	return data
}
