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
	"github.com/fyrsmith/mcpd/transport/server/base"
)

func attachedSession(t *testing.T, eng *engine.Engine, id string, ft *fakeTransport) *base.Handler {
	t.Helper()
	sessions := base.NewHandler()
	sessions.Sessions.Put(id, &base.Session{Id: id, Handler: newTestHandler(eng, ft)})
	return sessions
}

func TestServer_AddToolAndFreeze(t *testing.T) {
	s := NewServer(Options{})
	require.NoError(t, s.AddTool(engine.ToolDefinition{Name: "a"}))
	s.Freeze()
	err := s.AddTool(engine.ToolDefinition{Name: "b"})
	assert.ErrorIs(t, err, engine.ErrFrozen)
}

func TestServer_LogLevel_NoLoggerIsNoop(t *testing.T) {
	s := NewServer(Options{})
	assert.Equal(t, schema.LogInfo, s.GetLogLevel())
	assert.NoError(t, s.SetLogLevel(schema.LogDebug))
	s.Info(context.Background(), "hello", nil)
}

func TestServer_BroadcastNotification_ReachesAttachedSessions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ft := &fakeTransport{}
	sessions := attachedSession(t, eng, "s1", ft)

	s := NewServer(Options{Sessions: sessions})
	s.BroadcastNotification(context.Background(), &jsonrpc.Notification{Method: schema.NotificationMessage})

	require.Len(t, ft.notifications, 1)
}

func TestServer_SendToSession_UnknownSessionReturnsFalse(t *testing.T) {
	eng, _ := newTestEngine(t)
	sessions := attachedSession(t, eng, "s1", &fakeTransport{})
	s := NewServer(Options{Sessions: sessions})

	ok := s.SendToSession(context.Background(), "unknown", &jsonrpc.Notification{Method: schema.NotificationMessage})
	assert.False(t, ok)
}

func TestServer_SendToSession_KnownSessionDelivers(t *testing.T) {
	eng, _ := newTestEngine(t)
	ft := &fakeTransport{}
	sessions := attachedSession(t, eng, "s1", ft)
	s := NewServer(Options{Sessions: sessions})

	ok := s.SendToSession(context.Background(), "s1", &jsonrpc.Notification{Method: schema.NotificationMessage})
	assert.True(t, ok)
	assert.Len(t, ft.notifications, 1)
}

func TestServer_Elicit_RoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	result, err := json.Marshal(schema.ElicitResult{Action: "accept"})
	require.NoError(t, err)
	ft := &fakeTransport{sendResponse: &jsonrpc.Response{Result: result}}
	sessions := attachedSession(t, eng, "s1", ft)
	s := NewServer(Options{Sessions: sessions})

	got, ok := s.Elicit(context.Background(), "s1", "confirm?", nil)
	require.True(t, ok)
	assert.Equal(t, "accept", got.Action)
}

func TestServer_Elicit_NoLocalSessionReturnsFalse(t *testing.T) {
	s := NewServer(Options{})
	_, ok := s.Elicit(context.Background(), "missing", "confirm?", nil)
	assert.False(t, ok)
}

func TestServer_RequestSampling_RoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	result, err := json.Marshal(schema.CreateMessageResult{Role: "assistant", Content: schema.TextContent("hi")})
	require.NoError(t, err)
	ft := &fakeTransport{sendResponse: &jsonrpc.Response{Result: result}}
	sessions := attachedSession(t, eng, "s1", ft)
	s := NewServer(Options{Sessions: sessions})

	got, ok := s.RequestSampling(context.Background(), "s1", []schema.SamplingMessage{{Role: "user", Content: schema.TextContent("hello")}}, schema.CreateMessageParams{})
	require.True(t, ok)
	assert.Equal(t, "hi", got.Content.Text)
}

func TestServer_RequestRoots_RoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	result, err := json.Marshal(schema.ListRootsResult{Roots: []schema.Root{{URI: "file:///a", Name: "a"}}})
	require.NoError(t, err)
	ft := &fakeTransport{sendResponse: &jsonrpc.Response{Result: result}}
	sessions := attachedSession(t, eng, "s1", ft)
	s := NewServer(Options{Sessions: sessions})

	got, ok := s.RequestRoots(context.Background(), "s1")
	require.True(t, ok)
	require.Len(t, got.Roots, 1)
	assert.Equal(t, "file:///a", got.Roots[0].URI)
}

func TestServer_Request_ErrorResponseReturnsFalse(t *testing.T) {
	eng, _ := newTestEngine(t)
	ft := &fakeTransport{sendResponse: &jsonrpc.Response{Error: &jsonrpc.InnerError{Message: "boom"}}}
	sessions := attachedSession(t, eng, "s1", ft)
	s := NewServer(Options{Sessions: sessions})

	_, ok := s.RequestRoots(context.Background(), "s1")
	assert.False(t, ok)
}
