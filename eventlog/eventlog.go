// Package eventlog persists the sequence of observed protocol messages per
// session so state can be reconstructed or audited. Identity and ordering of
// events come from the storage adapter; this store never re-numbers.
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/viant/mcpsession"
	"github.com/viant/mcpsession/metrics"
	"github.com/viant/mcpsession/store"
	"go.uber.org/zap"
)

const replayPageSize = 100

// Store appends and replays per-session event streams.
type Store struct {
	adapter store.Adapter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates an event store on the given adapter.
func New(adapter store.Adapter, options ...Option) *Store {
	ret := &Store{adapter: adapter, logger: zap.NewNop()}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Record appends one observed message and returns the assigned event id.
func (s *Store) Record(ctx context.Context, sessionID, streamKey string, direction mcpsession.Direction, kind mcpsession.Kind, method string, requestID any, payload json.RawMessage) (string, error) {
	event := &mcpsession.Event{
		SessionID:  sessionID,
		StreamKey:  streamKey,
		Direction:  direction,
		Kind:       kind,
		Method:     method,
		RequestID:  requestID,
		Payload:    payload,
		ObservedAt: s.adapter.Now(),
	}
	id, err := s.adapter.AppendEvent(ctx, event)
	if err != nil {
		return "", err
	}
	s.metrics.EventAppended(streamKey)
	return id, nil
}

// Replay returns all retained events on the stream with id greater than
// afterID, ordered by event id. The sequence is finite; it is bounded by the
// stream's trim length, so a gap at the head is possible after trimming.
func (s *Store) Replay(ctx context.Context, sessionID, streamKey, afterID string) ([]*mcpsession.Event, error) {
	var ret []*mcpsession.Event
	cursor := afterID
	for {
		page, err := s.adapter.ReadEvents(ctx, sessionID, streamKey, cursor, replayPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return ret, nil
		}
		ret = append(ret, page...)
		cursor = page[len(page)-1].ID
		if len(page) < replayPageSize {
			return ret, nil
		}
	}
}

// LatestID returns the id of the newest retained event on the stream, empty
// when none exist.
func (s *Store) LatestID(ctx context.Context, sessionID, streamKey string) (string, error) {
	return s.adapter.LastEventID(ctx, sessionID, streamKey)
}

// Trim bounds the stream to maxLen entries.
func (s *Store) Trim(ctx context.Context, sessionID, streamKey string, maxLen int64) error {
	return s.adapter.TrimStream(ctx, sessionID, streamKey, maxLen)
}
