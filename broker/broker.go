// Package broker defines a publish/subscribe contract used to fan out
// broadcast notifications, per-session messages and task status updates
// across server instances, plus Memory and Redis implementations.
//
// Standard topics:
//
//	mcp/broadcast/notification  - server-wide notifications
//	mcp/session/{id}/message    - a message targeted at one session
//	mcp/task/{id}/status        - a task's status transitions
package broker

import "context"

// Handler receives a message published on a topic. Implementations must
// not block indefinitely; Broker implementations run handlers in their own
// goroutine and shield callers from a handler panic.
type Handler func(ctx context.Context, topic string, payload []byte)

// Subscription can be cancelled to stop receiving messages on the topic it
// was created for.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the publish/subscribe contract shared by every component that
// needs to reach sessions or instances it does not own directly.
type Broker interface {
	// Publish delivers payload to every current subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for topic, invoked on each Publish.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	// Close releases any underlying connection and stops dispatch.
	Close() error
}

// BroadcastTopic is the well-known topic for server-wide notifications.
const BroadcastTopic = "mcp/broadcast/notification"

// SessionTopic returns the topic a given session's messages are published
// on.
func SessionTopic(sessionID string) string {
	return "mcp/session/" + sessionID + "/message"
}

// TaskTopic returns the topic a given task's status updates are published
// on.
func TaskTopic(taskID string) string {
	return "mcp/task/" + taskID + "/status"
}
