// Package redis provides the shared store.Adapter used when instances sit
// behind a load balancer. Session records are JSON blobs at
// {prefix}:session:{id}, events live in Redis Streams at
// {prefix}:stream:{id}:{streamKey} bounded by an approximate MAXLEN, and
// advisory locks are expiring keys written with SET NX PX.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/viant/mcpsession"
)

const defaultPrefix = "mcp"

// releaseScript deletes a lock key only when still owned by the caller.
var releaseScript = redis.NewScript(
	`if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end`)

// Store is a Redis-backed adapter.
type Store struct {
	rdb        *redis.Client
	prefix     string
	sessionTTL time.Duration
	maxLen     int64
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }
func (s *Store) streamKey(id, stream string) string {
	return s.prefix + ":stream:" + id + ":" + stream
}
func (s *Store) lockKey(name string) string { return s.prefix + ":lock:" + name }

// GetSession implements store.Adapter.
func (s *Store) GetSession(ctx context.Context, id string) (*mcpsession.Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		return nil, s.mapErr(err)
	}
	session := &mcpsession.Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("failed to decode session %q: %w", id, err)
	}
	return session, nil
}

// PutSessionIfAbsent implements store.Adapter.
func (s *Store) PutSessionIfAbsent(ctx context.Context, session *mcpsession.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.sessionKey(session.ID), data, s.sessionTTL).Result()
	if err != nil {
		return mcpsession.Unavailable(err)
	}
	if !ok {
		return mcpsession.ErrExists
	}
	return nil
}

// UpdateSessionCAS implements store.Adapter. The check-and-set runs under
// WATCH so a concurrent writer fails the transaction instead of being lost.
func (s *Store) UpdateSessionCAS(ctx context.Context, id string, expectedVersion int64, session *mcpsession.Session) error {
	key := s.sessionKey(id)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		current := &mcpsession.Session{}
		if err := json.Unmarshal(raw, current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return mcpsession.ErrConflict
		}
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.sessionTTL)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return mcpsession.ErrConflict
	case errors.Is(err, mcpsession.ErrConflict):
		return mcpsession.ErrConflict
	default:
		return s.mapErr(err)
	}
}

// DeleteSession implements store.Adapter. Event streams for the session are
// removed together with the record.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	deleted, err := s.rdb.Del(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return mcpsession.Unavailable(err)
	}
	if _, err := s.rdb.Del(ctx, s.streamKey(id, mcpsession.StreamRequest), s.streamKey(id, mcpsession.StreamStandalone)).Result(); err != nil {
		return mcpsession.Unavailable(err)
	}
	if deleted == 0 {
		return mcpsession.ErrNotFound
	}
	return nil
}

// AppendEvent implements store.Adapter. The Redis stream entry id becomes the
// event id; redis guarantees it is strictly increasing within the stream.
func (s *Store) AppendEvent(ctx context.Context, event *mcpsession.Event) (string, error) {
	values := map[string]interface{}{
		"dir":  string(event.Direction),
		"kind": string(event.Kind),
	}
	if event.Method != "" {
		values["method"] = event.Method
	}
	if event.RequestID != nil {
		encoded, err := json.Marshal(event.RequestID)
		if err != nil {
			return "", err
		}
		values["jsonrpc_id"] = string(encoded)
	}
	if len(event.Payload) > 0 {
		values["payload"] = string(event.Payload)
	}
	observed := event.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	values["ts"] = observed.UTC().Format(time.RFC3339Nano)
	args := &redis.XAddArgs{
		Stream: s.streamKey(event.SessionID, event.StreamKey),
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", mcpsession.Unavailable(err)
	}
	return id, nil
}

// ReadEvents implements store.Adapter.
func (s *Store) ReadEvents(ctx context.Context, sessionID, stream, afterID string, limit int) ([]*mcpsession.Event, error) {
	start := "-"
	if afterID != "" {
		start = nextStreamID(afterID)
	}
	key := s.streamKey(sessionID, stream)
	var entries []redis.XMessage
	var err error
	if limit > 0 {
		entries, err = s.rdb.XRangeN(ctx, key, start, "+", int64(limit)).Result()
	} else {
		entries, err = s.rdb.XRange(ctx, key, start, "+").Result()
	}
	if err != nil {
		return nil, s.mapErr(err)
	}
	ret := make([]*mcpsession.Event, 0, len(entries))
	for i := range entries {
		ret = append(ret, decodeEvent(sessionID, stream, &entries[i]))
	}
	return ret, nil
}

// LastEventID implements store.Adapter.
func (s *Store) LastEventID(ctx context.Context, sessionID, stream string) (string, error) {
	entries, err := s.rdb.XRevRangeN(ctx, s.streamKey(sessionID, stream), "+", "-", 1).Result()
	if err != nil {
		return "", s.mapErr(err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].ID, nil
}

// TrimStream implements store.Adapter.
func (s *Store) TrimStream(ctx context.Context, sessionID, stream string, maxLen int64) error {
	if err := s.rdb.XTrimMaxLen(ctx, s.streamKey(sessionID, stream), maxLen).Err(); err != nil {
		return mcpsession.Unavailable(err)
	}
	return nil
}

// AcquireLock implements store.Adapter.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	ok, err := s.rdb.SetNX(ctx, s.lockKey(name), holder, ttl).Result()
	if err != nil {
		return mcpsession.Unavailable(err)
	}
	if !ok {
		return mcpsession.ErrLockHeld
	}
	return nil
}

// ReleaseLock implements store.Adapter. The key is removed only when this
// holder still owns it so an expired-and-reacquired lock is never clobbered.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{s.lockKey(name)}, holder).Err(); err != nil && err != redis.Nil {
		return mcpsession.Unavailable(err)
	}
	return nil
}

// Now implements store.Adapter.
func (s *Store) Now() time.Time { return time.Now() }

// Ping implements store.Adapter.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return mcpsession.Unavailable(err)
	}
	return nil
}

// Close implements store.Adapter.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) mapErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return mcpsession.ErrNotFound
	}
	return mcpsession.Unavailable(err)
}

func decodeEvent(sessionID, stream string, msg *redis.XMessage) *mcpsession.Event {
	event := &mcpsession.Event{
		ID:        msg.ID,
		SessionID: sessionID,
		StreamKey: stream,
	}
	if v, ok := msg.Values["dir"].(string); ok {
		event.Direction = mcpsession.Direction(v)
	}
	if v, ok := msg.Values["kind"].(string); ok {
		event.Kind = mcpsession.Kind(v)
	}
	if v, ok := msg.Values["method"].(string); ok {
		event.Method = v
	}
	if v, ok := msg.Values["jsonrpc_id"].(string); ok {
		var id any
		if err := json.Unmarshal([]byte(v), &id); err == nil {
			event.RequestID = id
		}
	}
	if v, ok := msg.Values["payload"].(string); ok {
		event.Payload = []byte(v)
	}
	if v, ok := msg.Values["ts"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			event.ObservedAt = ts
		}
	}
	return event
}

// nextStreamID returns the smallest stream id strictly greater than id, so an
// exclusive range scan works on servers without the "(" syntax.
func nextStreamID(id string) string {
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		return id + "-1"
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return id
	}
	return parts[0] + "-" + strconv.FormatUint(seq+1, 10)
}

// New creates an adapter on an existing client.
func New(rdb *redis.Client, options ...Option) *Store {
	ret := &Store{rdb: rdb, prefix: defaultPrefix}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// NewFromURL creates an adapter from a redis URL (redis://host:port/db).
func NewFromURL(url string, options ...Option) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return New(redis.NewClient(opts), options...), nil
}
