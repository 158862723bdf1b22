package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Redis is a Broker backed by Redis Pub/Sub so publishes reach subscribers
// on any server instance sharing the same Redis.
type Redis struct {
	rdb *redis.Client

	mux  sync.Mutex
	subs map[string]*redisTopic
}

type redisTopic struct {
	pubsub    *redis.PubSub
	handlers  map[string]Handler
	cancel    context.CancelFunc
}

// NewRedis creates a Redis-backed broker.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, subs: map[string]*redisTopic{}}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.rdb.Publish(ctx, topic, payload).Err()
}

type redisSub struct {
	r     *Redis
	topic string
	id    string
}

func (s *redisSub) Unsubscribe() error {
	s.r.mux.Lock()
	defer s.r.mux.Unlock()
	t := s.r.subs[s.topic]
	if t == nil {
		return nil
	}
	delete(t.handlers, s.id)
	if len(t.handlers) == 0 {
		t.cancel()
		_ = t.pubsub.Close()
		delete(s.r.subs, s.topic)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	t := r.subs[topic]
	if t == nil {
		pubsub := r.rdb.Subscribe(ctx, topic)
		loopCtx, cancel := context.WithCancel(context.Background())
		t = &redisTopic{pubsub: pubsub, handlers: map[string]Handler{}, cancel: cancel}
		r.subs[topic] = t
		go t.loop(loopCtx)
	}
	id := uuid.New().String()
	t.handlers[id] = handler
	return &redisSub{r: r, topic: topic, id: id}, nil
}

func (t *redisTopic) loop(ctx context.Context) {
	ch := t.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			for _, h := range t.handlers {
				go func(h Handler) {
					defer func() { _ = recover() }()
					h(ctx, msg.Channel, []byte(msg.Payload))
				}(h)
			}
		}
	}
}

func (r *Redis) Close() error {
	r.mux.Lock()
	defer r.mux.Unlock()
	for topic, t := range r.subs {
		t.cancel()
		_ = t.pubsub.Close()
		delete(r.subs, topic)
	}
	return r.rdb.Close()
}
