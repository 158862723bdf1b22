package streamable

import (
	"github.com/fyrsmith/mcpd/transport/server/base"
	"github.com/fyrsmith/mcpd/transport/server/http/session"
	"time"
)

// Options exposes configurable attributes of the handler.
type Options struct {
	// URI of the endpoint (configurable; empty matches any path when handler is mounted on a specific route)
	URI string

	// SessionLocation defines where session id is transported (header or query param)
	SessionLocation *session.Location

	// Lifecycle controls
	ReconnectGrace  time.Duration
	IdleTTL         time.Duration
	MaxLifetime     time.Duration
	CleanupInterval time.Duration
	MaxEventBuffer  int
	OnSessionClose  func(*base.Session)
	RemovalPolicy   base.RemovalPolicy
	OverflowPolicy  base.OverflowPolicy
	// Store holds a SessionStore set through WithSessionStore. The handler
	// does not read it: sessions always live in the handler's own in-memory
	// table (base.Handler.Sessions).
	Store base.SessionStore
	// EventStore, when set, backs SSE event-id allocation and replay history
	// with a shared store instead of each session's local ring buffer,
	// letting a reconnect be served by any instance behind the same store.
	EventStore base.EventStore
}

// Option mutates Options.
type Option func(*Options)

// WithURI sets custom URI.
func WithURI(uri string) Option {
	return func(o *Options) { o.URI = uri }
}

// WithSessionLocation overrides default session location.
func WithSessionLocation(loc *session.Location) Option {
	return func(o *Options) { o.SessionLocation = loc }
}

// WithReconnectGrace sets the grace period during which a detached session is kept for reconnection.
func WithReconnectGrace(d time.Duration) Option { return func(o *Options) { o.ReconnectGrace = d } }

// WithIdleTTL sets the idle timeout for sessions.
func WithIdleTTL(d time.Duration) Option { return func(o *Options) { o.IdleTTL = d } }

// WithMaxLifetime sets the hard cap on session lifetime.
func WithMaxLifetime(d time.Duration) Option { return func(o *Options) { o.MaxLifetime = d } }

// WithCleanupInterval sets how often the cleanup sweeper runs.
func WithCleanupInterval(d time.Duration) Option { return func(o *Options) { o.CleanupInterval = d } }

// WithMaxEventBuffer sets the default event buffer size used for resumability.
func WithMaxEventBuffer(n int) Option { return func(o *Options) { o.MaxEventBuffer = n } }

// WithOnSessionClose registers a hook invoked when a session is finally closed.
func WithOnSessionClose(fn func(*base.Session)) Option {
	return func(o *Options) { o.OnSessionClose = fn }
}

// WithRemovalPolicy sets the session removal policy.
func WithRemovalPolicy(p base.RemovalPolicy) Option { return func(o *Options) { o.RemovalPolicy = p } }

// WithOverflowPolicy sets the event buffer overflow policy.
func WithOverflowPolicy(p base.OverflowPolicy) Option {
	return func(o *Options) { o.OverflowPolicy = p }
}

// WithSessionStore sets Options.Store. The handler does not consult it;
// sessions stay in the handler's own in-memory table.
func WithSessionStore(store base.SessionStore) Option { return func(o *Options) { o.Store = store } }

// WithEventStore injects a shared store for SSE event-id allocation and
// replay history, enabling resumability across instances.
func WithEventStore(store base.EventStore) Option {
	return func(o *Options) { o.EventStore = store }
}
