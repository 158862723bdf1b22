package transport

import (
	"context"
	"github.com/fyrsmith/mcpd"
)

type Transport interface {
	Notifier
	Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error)
	// SendResponse pushes a full JSON-RPC response envelope to the peer
	// outside of the normal request/response round trip, reusing an id
	// the peer is already waiting on (e.g. successive SSE events for one
	// streaming tool call).
	SendResponse(ctx context.Context, response *jsonrpc.Response) error
}
