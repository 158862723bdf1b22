package base

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/fyrsmith/mcpd"
)

// MessageType returns message type. A payload whose first non-whitespace
// byte is '[' is a JSON-RPC batch (array) request rather than a single
// message, per spec §4.1.
func MessageType(data []byte) jsonrpc.MessageType {
	if isBatch(data) {
		return jsonrpc.MessageTypeBatch
	}
	probe := &probe{}
	_ = json.Unmarshal(data, probe)
	if probe.Id == nil {
		return jsonrpc.MessageTypeNotification
	}
	if probe.Method != "" {
		return jsonrpc.MessageTypeRequest
	}
	return jsonrpc.MessageTypeResponse
}

type probe struct {
	Id     jsonrpc.RequestId   `json:"id"`
	Error  *jsonrpc.InnerError `json:"error" yaml:"error"`
	Method string              `json:"method" yaml:"method"`
}

func isBatch(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
