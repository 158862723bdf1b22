package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Broker: Publish starts one goroutine per
// subscriber of the topic and returns without waiting for them; a panic in
// a handler is recovered and discarded. Suitable for a
// single-instance deployment or tests; a Redis-backed Broker is required
// to fan out across instances.
type Memory struct {
	mux  sync.RWMutex
	subs map[string]map[string]Handler // topic -> subID -> handler
}

// NewMemory creates an empty Memory broker.
func NewMemory() *Memory {
	return &Memory{subs: map[string]map[string]Handler{}}
}

type memorySub struct {
	m     *Memory
	topic string
	id    string
}

func (s *memorySub) Unsubscribe() error {
	s.m.mux.Lock()
	defer s.m.mux.Unlock()
	if handlers := s.m.subs[s.topic]; handlers != nil {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.m.subs, s.topic)
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	handlers := m.subs[topic]
	if handlers == nil {
		handlers = map[string]Handler{}
		m.subs[topic] = handlers
	}
	id := uuid.New().String()
	handlers[id] = handler
	return &memorySub{m: m, topic: topic, id: id}, nil
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mux.RLock()
	handlers := make([]Handler, 0, len(m.subs[topic]))
	for _, h := range m.subs[topic] {
		handlers = append(handlers, h)
	}
	m.mux.RUnlock()
	for _, h := range handlers {
		go func(h Handler) {
			defer func() { _ = recover() }()
			h(ctx, topic, payload)
		}(h)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.subs = map[string]map[string]Handler{}
	return nil
}
