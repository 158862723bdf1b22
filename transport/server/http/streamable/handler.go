package streamable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/transport"
	"github.com/fyrsmith/mcpd/transport/server/base"
	"github.com/fyrsmith/mcpd/transport/server/http/common"
	"github.com/fyrsmith/mcpd/transport/server/http/session"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default values following the MCP spec.
const (
	defaultURI = ""
	// default header name for session id; may be overridden via Options.SessionLocation
	defaultSessionHeaderKey = "Mcp-Session-Id"
	sseMime                 = "text/event-stream"
	// sseHeartbeatInterval is how often a GET stream writes a comment
	// line to keep the connection alive through idle-timing proxies.
	sseHeartbeatInterval = 30 * time.Second
)

// Handler implements server-side of Streamable-HTTP transport (Model Context Protocol).
// Single endpoint (URI) is used for handshake, message exchange and streaming.
// Operation mode is distinguished by HTTP method and Accept header value.
type Handler struct {
	Options
	base       *base.Handler
	locator    session.Locator
	newHandler transport.NewHandler
	options    []base.Option

	sweepOnce sync.Once
	stopSweep chan struct{}
}

// ServeHTTP implements http.Handler.
// POST (no session header) – handshake creates a session, returns session id in header.
// POST (with Mcp-Session-Id) – JSON-RPC message for the session; response returned sync.
// GET  (with Accept: text/event-stream & Mcp-Session-Id) – opens long-lived streaming connection.
// DELETE (with Mcp-Session-Id) – terminates session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.URI != "" && !strings.HasSuffix(r.URL.Path, h.URI) {
		http.NotFound(w, r)
		return
	}
	h.startSweeper()

	switch r.Method {
	case http.MethodPost:
		h.handlePOST(w, r)
	case http.MethodGet:
		h.handleGET(w, r)
	case http.MethodDelete:
		h.handleDELETE(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePOST(w http.ResponseWriter, r *http.Request) {
	// locate session using configured location (default: header)
	sessionID, _ := h.locator.Locate(h.SessionLocation, r)
	if sessionID == "" {
		// handshake – create session
		h.initHandshake(w, r)
		return
	}
	// message for existing session
	h.handleMessage(w, r, sessionID)
}

func (h *Handler) handleGET(w http.ResponseWriter, r *http.Request) {
	if !acceptsSSE(r.Header) {
		http.Error(w, "SSE not supported on this endpoint", http.StatusMethodNotAllowed)
		return
	}
	// locate session using configured location (default: header)
	sessionID, _ := h.locator.Locate(h.SessionLocation, r)
	if sessionID == "" {
		// Try query param fallback (for debug convenience)
		sessionID = r.URL.Query().Get(h.SessionLocation.Name)
	}
	if sessionID == "" {
		http.Error(w, fmt.Sprintf("missing %s", h.SessionLocation.Name), http.StatusBadRequest)
		return
	}

	aSession, ok := h.base.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, fmt.Sprintf("session '%s' not found", sessionID), http.StatusNotFound)
		return
	}

	// Prepare SSE response headers.
	w.Header().Set("Content-Type", sseMime)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Inject writer that flushes every message, reattaching a previously
	// detached session rather than overwriting a fresh one.
	aSession.MarkActiveWithWriter(common.NewFlushWriter(w))
	base.WithFramer(frameSSE)(aSession)
	if h.MaxEventBuffer > 0 {
		base.WithEventBuffer(h.MaxEventBuffer)(aSession)
	} else {
		base.WithEventBuffer(1024)(aSession)
	}
	base.WithOverflowPolicy(h.OverflowPolicy)(aSession)
	if h.EventStore != nil {
		base.WithStore(h.EventStore)(aSession)
	}
	base.WithSSE()(aSession)

	// Support resumability: replay events after Last-Event-ID if provided
	if last := strings.TrimSpace(r.Header.Get("Last-Event-ID")); last != "" {
		if v, err := strconv.ParseUint(last, 10, 64); err == nil {
			for _, ev := range aSession.EventsAfter(r.Context(), v) {
				_, _ = aSession.Writer.Write([]byte(fmt.Sprintf("id: %d\n", ev.ID)))
				_, _ = aSession.Writer.Write(ev.Data)
			}
		}
	}

	// Block until client closes, then apply the configured removal policy
	// instead of deleting unconditionally: a client that drops its SSE
	// stream may reconnect within the grace window and resume via
	// Last-Event-ID. A periodic comment line keeps the connection alive
	// through proxies and load balancers that time out idle streams.
	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.onStreamClosed(sessionID, aSession)
			return
		case <-ticker.C:
			if err := aSession.Heartbeat(); err != nil {
				h.onStreamClosed(sessionID, aSession)
				return
			}
		}
	}
}

// onStreamClosed runs when a streaming GET connection ends.
func (h *Handler) onStreamClosed(sessionID string, aSession *base.Session) {
	switch h.RemovalPolicy {
	case base.RemovalManual:
		aSession.MarkDetached()
	case base.RemovalAfterIdle:
		aSession.MarkDetached()
	case base.RemovalAfterGrace:
		aSession.MarkDetached()
	default: // RemovalOnDisconnect
		h.base.Sessions.Delete(sessionID)
		if h.OnSessionClose != nil {
			h.OnSessionClose(aSession)
		}
	}
}

func (h *Handler) handleDELETE(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := h.locator.Locate(h.SessionLocation, r)
	if sessionID == "" {
		http.Error(w, fmt.Sprintf("missing %s", h.SessionLocation.Name), http.StatusBadRequest)
		return
	}
	if aSession, ok := h.base.Sessions.Get(sessionID); ok && h.OnSessionClose != nil {
		h.OnSessionClose(aSession)
	}
	h.base.Sessions.Delete(sessionID)
	w.WriteHeader(http.StatusOK)
}

// initHandshake creates a new session and returns its id in response header.
func (h *Handler) initHandshake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	aSession := base.NewSession(ctx, "", io.Discard, h.newHandler)
	// apply buffering; framer will be configured when streaming begins
	if h.MaxEventBuffer > 0 {
		base.WithEventBuffer(h.MaxEventBuffer)(aSession)
	} else {
		base.WithEventBuffer(1024)(aSession)
	}
	if h.EventStore != nil {
		base.WithStore(h.EventStore)(aSession)
	}

	h.base.Sessions.Put(aSession.Id, aSession)
	// return session id at the configured location; for header we always set header
	// and use the configured header name
	if h.SessionLocation != nil && h.SessionLocation.Kind == "header" {
		w.Header().Set(h.SessionLocation.Name, aSession.Id)
	} else {
		// default to header if unspecified
		w.Header().Set(defaultSessionHeaderKey, aSession.Id)
	}
	h.handleMessage(w, r, aSession.Id)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	aSession, ok := h.base.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, fmt.Sprintf("session '%s' not found", sessionID), http.StatusNotFound)
		return
	}
	aSession.Touch()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	ctx := context.WithValue(r.Context(), jsonrpc.SessionKey, aSession)

	// If client accepts SSE, and this is a JSON-RPC request, stream via SSE.
	if acceptsSSE(r.Header) && isJSONRPCRequest(data) && hasID(data) {
		// Prepare SSE response and writer
		w.Header().Set("Content-Type", sseMime)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		aSession.MarkActiveWithWriter(common.NewFlushWriter(w))
		base.WithFramer(frameSSE)(aSession)
		if h.MaxEventBuffer > 0 {
			base.WithEventBuffer(h.MaxEventBuffer)(aSession)
		} else {
			base.WithEventBuffer(1024)(aSession)
		}
		if h.EventStore != nil {
			base.WithStore(h.EventStore)(aSession)
		}
		base.WithSSE()(aSession)
		// Stream response and any further messages on this connection
		h.base.HandleMessage(ctx, aSession, data, nil)
		return
	}

	// Default: synchronous JSON response or 202 Accepted for notifications
	buffer := bytes.Buffer{}
	h.base.HandleMessage(ctx, aSession, data, &buffer)
	if buffer.Len() == 0 { // notification (no response)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buffer.Bytes())
}

// startSweeper lazily launches the background lifecycle sweeper on first
// request, so a Handler constructed without a CleanupInterval never pays
// for an idle goroutine.
func (h *Handler) startSweeper() {
	if h.CleanupInterval <= 0 {
		return
	}
	h.sweepOnce.Do(func() {
		h.stopSweep = make(chan struct{})
		go h.sweepLoop()
	})
}

func (h *Handler) sweepLoop() {
	ticker := time.NewTicker(h.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopSweep:
			return
		}
	}
}

// sweep removes sessions whose lifecycle has expired per the configured
// RemovalPolicy, ReconnectGrace, IdleTTL and MaxLifetime.
func (h *Handler) sweep() {
	now := time.Now()
	var expired []string
	h.base.Sessions.Range(func(id string, s *base.Session) bool {
		if h.RemovalPolicy == base.RemovalAfterGrace && s.State == base.SessionStateDetached &&
			h.ReconnectGrace > 0 && s.DetachedAt != nil && now.Sub(*s.DetachedAt) > h.ReconnectGrace {
			expired = append(expired, id)
			return true
		}
		if h.IdleTTL > 0 && now.Sub(s.LastSeen) > h.IdleTTL {
			expired = append(expired, id)
			return true
		}
		if h.MaxLifetime > 0 && now.Sub(s.CreatedAt) > h.MaxLifetime {
			expired = append(expired, id)
			return true
		}
		return true
	})
	for _, id := range expired {
		if s, ok := h.base.Sessions.Get(id); ok && h.OnSessionClose != nil {
			h.OnSessionClose(s)
		}
		h.base.Sessions.Delete(id)
	}
}

// Base returns the underlying session table, letting a host mcp.Server
// reach every session this handler has attached for broadcast and
// session-targeted delivery.
func (h *Handler) Base() *base.Handler { return h.base }

// Close stops the background sweeper, if running.
func (h *Handler) Close() {
	if h.stopSweep != nil {
		close(h.stopSweep)
	}
}

// Helper – checks if Accept header contains text/event-stream
func acceptsSSE(hdr http.Header) bool {
	for _, v := range hdr.Values("Accept") {
		if strings.Contains(v, sseMime) {
			return true
		}
	}
	return false
}

// isJSONRPCRequest returns true if data looks like a JSON-RPC request (has method and optional id)
func isJSONRPCRequest(data []byte) bool {
	var tmp struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return false
	}
	return tmp.Method != ""
}

// hasID returns true if the JSON has a non-null id field
func hasID(data []byte) bool {
	var tmp struct {
		ID *json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return false
	}
	return tmp.ID != nil
}

// New constructs Handler with default settings and provided options.
func New(newHandler transport.NewHandler, opts ...Option) *Handler {
	h := &Handler{
		newHandler: newHandler,
		Options: Options{
			URI:             defaultURI,
			SessionLocation: session.NewHeaderLocation(defaultSessionHeaderKey),
		},
		base:    base.NewHandler(),
		locator: session.DefaultLocator{},
		options: []base.Option{
			base.WithFramer(frameJSON),
		},
	}
	for _, o := range opts {
		o(&h.Options)
	}
	return h
}
