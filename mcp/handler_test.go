package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonrpc "github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/mcp/engine"
	"github.com/fyrsmith/mcpd/mcp/schema"
)

type fakeTransport struct {
	notifications []*jsonrpc.Notification
	responses     []*jsonrpc.Response
	sendResponse  *jsonrpc.Response
	sendErr       error
}

func (f *fakeTransport) Notify(_ context.Context, n *jsonrpc.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeTransport) Send(_ context.Context, _ *jsonrpc.Request) (*jsonrpc.Response, error) {
	return f.sendResponse, f.sendErr
}

func (f *fakeTransport) SendResponse(_ context.Context, response *jsonrpc.Response) error {
	f.responses = append(f.responses, response)
	return nil
}

func newTestHandler(eng *engine.Engine, ft *fakeTransport) *Handler {
	return newHandlerFunc(eng)(context.Background(), ft).(*Handler)
}

func newTestEngine(t *testing.T) (*engine.Engine, *engine.Registry) {
	t.Helper()
	r := engine.NewRegistry()
	e := engine.New(r, engine.Options{ServerInfo: schema.Implementation{Name: "mcpd"}})
	return e, r
}

func TestHandler_Serve_Ping(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := newTestHandler(eng, &fakeTransport{})

	resp := &jsonrpc.Response{}
	h.Serve(context.Background(), &jsonrpc.Request{Id: 1, Method: schema.MethodPing}, resp)
	assert.Nil(t, resp.Error)
}

func TestHandler_Serve_UnknownMethodSetsError(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := newTestHandler(eng, &fakeTransport{})

	resp := &jsonrpc.Response{}
	h.Serve(context.Background(), &jsonrpc.Request{Id: 1, Method: "bogus"}, resp)
	require.NotNil(t, resp.Error)
}

func TestHandler_Serve_StreamingTool_DrainsIntermediateItemsAsResponseEnvelopes(t *testing.T) {
	eng, r := newTestEngine(t)
	require.NoError(t, r.AddTool(engine.ToolDefinition{
		Name: "stream",
		Handler: func(ctx context.Context, hctx engine.HandlerContext, arguments json.RawMessage) (interface{}, error) {
			return engine.NewSliceStream([]interface{}{"first", "second", "third"}), nil
		},
	}))

	ft := &fakeTransport{}
	h := newTestHandler(eng, ft)

	resp := &jsonrpc.Response{}
	params, err := json.Marshal(schema.CallToolParams{Name: "stream"})
	require.NoError(t, err)
	h.Serve(context.Background(), &jsonrpc.Request{Id: 3, Method: schema.MethodToolsCall, Params: params}, resp)

	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	var last string
	require.NoError(t, json.Unmarshal(resp.Result, &last))
	assert.Equal(t, "third", last, "the final stream item becomes the request's own result")

	require.Len(t, ft.responses, 2, "every item but the last is pushed as its own response envelope")
	for _, r := range ft.responses {
		assert.Equal(t, 3, r.Id, "every pushed envelope reuses the original request id")
		assert.Nil(t, r.Error)
	}
	var first string
	require.NoError(t, json.Unmarshal(ft.responses[0].Result, &first))
	assert.Equal(t, "first", first)
	assert.Empty(t, ft.notifications, "streaming no longer uses notifications/message")
}

func TestHandler_Serve_StreamingTool_EmptyStreamReturnsNilResult(t *testing.T) {
	eng, r := newTestEngine(t)
	require.NoError(t, r.AddTool(engine.ToolDefinition{
		Name: "empty",
		Handler: func(ctx context.Context, hctx engine.HandlerContext, arguments json.RawMessage) (interface{}, error) {
			return engine.NewSliceStream(nil), nil
		},
	}))

	ft := &fakeTransport{}
	h := newTestHandler(eng, ft)

	resp := &jsonrpc.Response{}
	params, err := json.Marshal(schema.CallToolParams{Name: "empty"})
	require.NoError(t, err)
	h.Serve(context.Background(), &jsonrpc.Request{Id: 1, Method: schema.MethodToolsCall, Params: params}, resp)

	require.Nil(t, resp.Error)
	assert.Nil(t, resp.Result)
	assert.Empty(t, ft.notifications)
}

func TestHandler_OnNotification_DoesNotPanic(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := newTestHandler(eng, &fakeTransport{})
	h.OnNotification(context.Background(), &jsonrpc.Notification{Method: schema.NotificationInitialized})
}

func TestAuthContextFrom_NoAuthReturnsNil(t *testing.T) {
	assert.Nil(t, authContextFrom(context.Background()))
}
