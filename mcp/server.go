package mcp

import (
	"context"
	"encoding/json"
	"time"

	jsonrpc "github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/broker"
	"github.com/fyrsmith/mcpd/mcp/engine"
	"github.com/fyrsmith/mcpd/mcp/logging"
	"github.com/fyrsmith/mcpd/mcp/schema"
	"github.com/fyrsmith/mcpd/mcp/tasks"
	"github.com/fyrsmith/mcpd/transport"
	"github.com/fyrsmith/mcpd/transport/server/base"
)

// Options configures a Server at construction time.
type Options struct {
	ServerInfo   schema.Implementation
	Instructions string
	Capabilities schema.ServerCapabilities
	Tasks        *tasks.Service
	Logger       *logging.Logger

	// Broker, when set, publishes broadcasts and session-targeted
	// messages so sibling processes sharing it can deliver to sessions
	// they hold locally. Without one the Server only reaches sessions
	// attached to this process.
	Broker broker.Broker
	// Sessions is the transport's session table; share the same
	// *base.Handler across every transport constructed with NewHandler so
	// Server can see every locally attached stream.
	Sessions *base.Handler
}

// requestTimeout bounds a host-initiated elicitation/sampling/roots round
// trip; the client is expected to answer well within it.
const requestTimeout = 2 * time.Minute

// Server is the host-facing decorator API over the protocol engine: tool,
// resource and prompt registration, log-level control, and session-
// targeted delivery (broadcast notifications, elicitation, sampling and
// roots requests) behind Go-idiomatic methods instead of the spec's
// illustrative camel-cased decorator names.
type Server struct {
	registry *engine.Registry
	engine   *engine.Engine
	logger   *logging.Logger
	broker   broker.Broker
	sessions *base.Handler
}

// NewServer builds a Server with a fresh Registry wired into a new Engine.
func NewServer(opts Options) *Server {
	registry := engine.NewRegistry()
	eng := engine.New(registry, engine.Options{
		ServerInfo:   opts.ServerInfo,
		Instructions: opts.Instructions,
		Capabilities: opts.Capabilities,
		Tasks:        opts.Tasks,
		Logger:       opts.Logger,
	})
	return &Server{
		registry: registry,
		engine:   eng,
		logger:   opts.Logger,
		broker:   opts.Broker,
		sessions: opts.Sessions,
	}
}

// NewHandler returns a transport.NewHandler bound to this server's engine,
// ready to pass to streamable.New or stdio.New.
func (s *Server) NewHandler() transport.NewHandler { return newHandlerFunc(s.engine) }

// AttachSessions points Server at a transport's session table so
// BroadcastNotification and SendToSession can reach it. Call once per
// transport after constructing it with NewHandler, e.g.
// server.AttachSessions(streamableHandler.Base()). A host running both
// HTTP and stdio transports needs only the HTTP table: stdio's single
// session is reachable purely by convention ("stdio") and rarely a
// broadcast target.
func (s *Server) AttachSessions(sessions *base.Handler) { s.sessions = sessions }

// AddTool registers a tool definition.
func (s *Server) AddTool(def engine.ToolDefinition) error { return s.registry.AddTool(def) }

// AddResource registers a resource definition.
func (s *Server) AddResource(def engine.ResourceDefinition) error {
	return s.registry.AddResource(def)
}

// AddPrompt registers a prompt definition.
func (s *Server) AddPrompt(def engine.PromptDefinition) error { return s.registry.AddPrompt(def) }

// RegisterPromptCompletion binds a completion provider to a prompt name.
func (s *Server) RegisterPromptCompletion(name string, provider engine.CompletionProvider) {
	s.registry.RegisterPromptCompletion(name, provider)
}

// RegisterResourceCompletion binds a completion provider to a resource URI
// pattern.
func (s *Server) RegisterResourceCompletion(uriPattern string, provider engine.CompletionProvider) {
	s.registry.RegisterResourceCompletion(uriPattern, provider)
}

// Freeze stops further registration; call once before accepting traffic.
func (s *Server) Freeze() { s.registry.Freeze() }

// SetLogLevel changes the minimum severity the server logs and advertises
// to logging/setLevel callers.
func (s *Server) SetLogLevel(level schema.LogLevel) error {
	if s.logger == nil {
		return nil
	}
	return s.logger.SetLevel(level)
}

// GetLogLevel returns the current minimum severity.
func (s *Server) GetLogLevel() schema.LogLevel {
	if s.logger == nil {
		return schema.LogInfo
	}
	return s.logger.Level()
}

// Log records an event at level through the configured logger, if any.
func (s *Server) Log(ctx context.Context, level schema.LogLevel, message string, fields map[string]interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.Log(ctx, level, message, fields)
}

func (s *Server) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogDebug, message, fields)
}

func (s *Server) Info(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogInfo, message, fields)
}

func (s *Server) Notice(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogNotice, message, fields)
}

func (s *Server) Warning(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogWarning, message, fields)
}

func (s *Server) Error(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogError, message, fields)
}

func (s *Server) Critical(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogCritical, message, fields)
}

func (s *Server) Alert(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogAlert, message, fields)
}

func (s *Server) Emergency(ctx context.Context, message string, fields map[string]interface{}) {
	s.Log(ctx, schema.LogEmergency, message, fields)
}

// BroadcastNotification delivers notification to every session attached
// to this process and, when a Broker is configured, publishes it on the
// broadcast topic so sibling processes deliver it to the sessions they
// hold.
func (s *Server) BroadcastNotification(ctx context.Context, notification *jsonrpc.Notification) {
	if s.sessions != nil {
		s.sessions.Sessions.Range(func(_ string, sess *base.Session) bool {
			s.notify(ctx, sess, notification)
			return true
		})
	}
	if s.broker != nil {
		if data, err := json.Marshal(notification); err == nil {
			_ = s.broker.Publish(ctx, broker.BroadcastTopic, data)
		}
	}
}

// SendToSession delivers notification to sessionID if this process holds
// a local stream for it, and always publishes to the session's broker
// topic so a sibling process holding the live stream can deliver it
// instead. The returned bool reflects local delivery only, preserving
// process-local-return semantics for callers that treat it as a
// reachability signal rather than a delivery guarantee.
func (s *Server) SendToSession(ctx context.Context, sessionID string, notification *jsonrpc.Notification) bool {
	delivered := false
	if s.sessions != nil {
		if sess, ok := s.sessions.Sessions.Get(sessionID); ok {
			s.notify(ctx, sess, notification)
			delivered = true
		}
	}
	if s.broker != nil {
		if data, err := json.Marshal(notification); err == nil {
			_ = s.broker.Publish(ctx, broker.SessionTopic(sessionID), data)
		}
	}
	return delivered
}

func (s *Server) notify(ctx context.Context, sess *base.Session, notification *jsonrpc.Notification) {
	h, ok := sess.Handler.(*Handler)
	if !ok {
		return
	}
	_ = h.transport.Notify(ctx, notification)
}

// Elicit asks sessionID's client to present message alongside a form
// shaped by requestedSchema, returning the client's reply. ok is false
// when this process holds no local stream for sessionID or the round
// trip fails.
func (s *Server) Elicit(ctx context.Context, sessionID, message string, requestedSchema json.RawMessage) (*schema.ElicitResult, bool) {
	var result schema.ElicitResult
	if !s.request(ctx, sessionID, schema.MethodElicitationCreate, schema.ElicitParams{
		Message:         message,
		RequestedSchema: requestedSchema,
	}, &result) {
		return nil, false
	}
	return &result, true
}

// RequestSampling asks sessionID's client to run a language-model
// generation over messages.
func (s *Server) RequestSampling(ctx context.Context, sessionID string, messages []schema.SamplingMessage, opts schema.CreateMessageParams) (*schema.CreateMessageResult, bool) {
	opts.Messages = messages
	var result schema.CreateMessageResult
	if !s.request(ctx, sessionID, schema.MethodSamplingCreateMessage, opts, &result) {
		return nil, false
	}
	return &result, true
}

// RequestRoots asks sessionID's client for the filesystem/URI roots it
// exposes.
func (s *Server) RequestRoots(ctx context.Context, sessionID string) (*schema.ListRootsResult, bool) {
	var result schema.ListRootsResult
	if !s.request(ctx, sessionID, schema.MethodRootsList, struct{}{}, &result) {
		return nil, false
	}
	return &result, true
}

// request performs a server-initiated round trip to sessionID's client
// over its attached transport, decoding the reply into out. It returns
// false without attempting delivery when this process has no local
// stream for sessionID, matching SendToSession's process-local
// reachability contract.
func (s *Server) request(ctx context.Context, sessionID, method string, params, out interface{}) bool {
	if s.sessions == nil {
		return false
	}
	sess, ok := s.sessions.Sessions.Get(sessionID)
	if !ok {
		return false
	}
	h, ok := sess.Handler.(*Handler)
	if !ok {
		return false
	}
	req, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := h.transport.Send(ctx, req)
	if err != nil || resp == nil || resp.Error != nil {
		return false
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return false
		}
	}
	return true
}
