// Package mcp is the host-facing surface of the runtime: Server wraps an
// engine.Registry + engine.Engine behind a small decorator API, and Handler
// bridges a transport session to that engine so the same registrations
// serve stdio, HTTP and SSE traffic identically.
package mcp

import (
	"context"
	"encoding/json"

	jsonrpc "github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/mcp/auth"
	"github.com/fyrsmith/mcpd/mcp/engine"
	"github.com/fyrsmith/mcpd/transport"
)

// Handler adapts one transport session to the shared Engine. One Handler
// is constructed per session by the factory returned from newHandlerFunc.
type Handler struct {
	engine    *engine.Engine
	transport transport.Transport
}

// newHandlerFunc returns a transport.NewHandler bound to eng, suitable for
// passing to streamable.New or stdio.New so every transport dispatches
// through the same protocol engine.
func newHandlerFunc(eng *engine.Engine) transport.NewHandler {
	return func(ctx context.Context, t transport.Transport) transport.Handler {
		return &Handler{engine: eng, transport: t}
	}
}

// Serve implements transport.Handler.
func (h *Handler) Serve(ctx context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	hctx := engine.HandlerContext{AuthContext: authContextFrom(ctx)}
	resp, stream, protoErr := h.engine.Dispatch(ctx, request, hctx)
	if protoErr != nil {
		response.Error = &protoErr.Error
		return
	}
	if stream != nil {
		response.Result = h.drain(ctx, request.Id, stream)
		return
	}
	response.Result = resp.Result
}

// OnNotification implements transport.Handler.
func (h *Handler) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	h.engine.DispatchNotification(ctx, notification)
}

// drain consumes a streaming tool result. Every item but the last is
// pushed immediately as its own response envelope, reusing the request's
// id, so a client watching the SSE stream sees one JSON-RPC response per
// item; the last item becomes the request's own result so the handler's
// normal response path delivers the terminal event. A mid-stream error
// is sent as a single INTERNAL_ERROR response envelope, again carrying
// the original id, and aborts the remainder of the stream.
func (h *Handler) drain(ctx context.Context, id jsonrpc.RequestId, stream *engine.StreamResult) json.RawMessage {
	var last interface{}
	have := false
	for {
		v, err, ok := stream.Next()
		if err != nil {
			h.sendStreamError(ctx, id, err)
			return nil
		}
		if !ok {
			break
		}
		if have {
			h.sendStreamItem(ctx, id, last)
		}
		last = v
		have = true
	}
	if !have {
		return nil
	}
	data, err := json.Marshal(last)
	if err != nil {
		h.sendStreamError(ctx, id, err)
		return nil
	}
	return data
}

func (h *Handler) sendStreamItem(ctx context.Context, id jsonrpc.RequestId, v interface{}) {
	result, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = h.transport.SendResponse(ctx, &jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      id,
		Result:  result,
	})
}

func (h *Handler) sendStreamError(ctx context.Context, id jsonrpc.RequestId, err error) {
	protoErr := jsonrpc.NewInternalError(id, err, nil)
	_ = h.transport.SendResponse(ctx, &jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      id,
		Error:   &protoErr.Error,
	})
}

// authContextFrom converts the auth.Context attached to ctx (by
// auth.Middleware, over HTTP) into the engine's transport-agnostic
// AuthContext. Returns nil for unauthenticated transports such as stdio.
func authContextFrom(ctx context.Context) *engine.AuthContext {
	c, ok := auth.FromContext(ctx)
	if !ok {
		return nil
	}
	return &engine.AuthContext{
		UserID:   c.UserID,
		ClientID: c.ClientID,
		Scopes:   c.Scopes,
		Audience: c.Audience,
		Issuer:   c.Issuer,
	}
}
