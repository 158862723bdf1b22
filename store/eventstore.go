package store

import (
	"context"

	"github.com/fyrsmith/mcpd/transport/server/base"
)

// eventStore adapts a Store's AppendEvent/EventsAfter pair (returning
// HistoryEntry) to transport/server/base.EventStore (returning
// base.ReplayEvent), so an SSE session can be told to allocate ids and
// replay history against the shared store instead of its local buffer.
type eventStore struct {
	appendFn func(ctx context.Context, sessionID string, data []byte) (uint64, error)
	afterFn  func(ctx context.Context, sessionID string, lastID uint64) ([]HistoryEntry, error)
}

// AsEventStore wraps any Store implementation (Memory or Redis) as a
// base.EventStore.
func AsEventStore(s Store) base.EventStore {
	switch v := s.(type) {
	case *Memory:
		return &eventStore{appendFn: v.AppendEvent, afterFn: v.EventsAfter}
	case *Redis:
		return &eventStore{appendFn: v.AppendEvent, afterFn: v.EventsAfter}
	default:
		return nil
	}
}

func (e *eventStore) AppendEvent(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	return e.appendFn(ctx, sessionID, data)
}

func (e *eventStore) EventsAfter(ctx context.Context, sessionID string, lastID uint64) ([]base.ReplayEvent, error) {
	entries, err := e.afterFn(ctx, sessionID, lastID)
	if err != nil {
		return nil, err
	}
	out := make([]base.ReplayEvent, len(entries))
	for i, e := range entries {
		out[i] = base.ReplayEvent{ID: e.EventID, Data: e.Message}
	}
	return out, nil
}
