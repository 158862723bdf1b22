package base

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonrpc "github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/transport"
)

// echoHandler answers every request by echoing its params back as the
// result, and fails requests addressed to "fail".
type echoHandler struct{}

func (echoHandler) Serve(_ context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	if request.Method == "fail" {
		response.Error = &jsonrpc.InnerError{Code: jsonrpc.InternalError, Message: "boom"}
		return
	}
	response.Result = request.Params
}

func (echoHandler) OnNotification(context.Context, *jsonrpc.Notification) {}

func newEchoFactory() transport.NewHandler {
	return func(context.Context, transport.Transport) transport.Handler { return echoHandler{} }
}

func TestHandler_HandleMessage_Batch(t *testing.T) {
	h := NewHandler()
	session := NewSession(context.Background(), "s1", nil, newEchoFactory())
	h.Sessions.Put(session.Id, session)

	batch := `[
		{"jsonrpc":"2.0","method":"echo","params":1,"id":1},
		{"jsonrpc":"2.0","method":"fail","params":2,"id":2}
	]`

	var out bytes.Buffer
	h.HandleMessage(context.Background(), session, []byte(batch), &out)

	require.NotZero(t, out.Len())
	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &items))
	require.Len(t, items, 2)

	byID := map[float64]map[string]interface{}{}
	for _, item := range items {
		byID[item["id"].(float64)] = item
	}
	assert.Equal(t, float64(1), byID[1]["result"])
	require.Contains(t, byID[2], "error")
}

func TestHandler_HandleMessage_Batch_InvalidJSONSendsParseError(t *testing.T) {
	h := NewHandler()
	session := NewSession(context.Background(), "s1", &bytes.Buffer{}, newEchoFactory())
	h.Sessions.Put(session.Id, session)

	h.HandleMessage(context.Background(), session, []byte(`[}`), nil)
}
