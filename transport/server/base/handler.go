package base

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/internal/collection"
	"github.com/fyrsmith/mcpd/transport/base"
	"sync/atomic"
)

// Handler represents a jsonrpc endpoint
type Handler struct {
	Sessions *collection.SyncMap[string, *Session]
	Logger   jsonrpc.Logger // Logger for error messages
}

func (e *Handler) HandleMessage(ctx context.Context, session *Session, data []byte, output *bytes.Buffer) {
	messageType := base.MessageType(data)
	switch messageType {
	case jsonrpc.MessageTypeRequest:
		request := &jsonrpc.Request{}
		if err := json.Unmarshal(data, request); err != nil {
			session.SendError(ctx, jsonrpc.NewParsingError(nil, err, data))
			return
		}
		if request.Id != nil {
			if intId, ok := jsonrpc.AsRequestIntId(request.Id); ok {
				nextSeq := uint64(max(intId, int(session.RequestIdSeq)))
				atomic.StoreUint64(&session.RequestIdSeq, nextSeq)
			}
		}

		response := &jsonrpc.Response{Id: request.Id, Jsonrpc: request.Jsonrpc}
		session.Handler.Serve(ctx, request, response)
		if output != nil {
			if response.Error != nil {
				response.Result = nil
			}
			data, err := json.Marshal(response)
			if err != nil {
				if e.Logger != nil {
					e.Logger.Errorf("failed to encode response: %v", err)
				}
				return
			}
			output.Write(data)
		} else {
			session.SendResponse(ctx, response)
		}
	case jsonrpc.MessageTypeBatch:
		e.handleBatch(ctx, session, data, output)
	case jsonrpc.MessageTypeResponse:
		response := &jsonrpc.Response{}
		if err := json.Unmarshal(data, response); err != nil {
			if e.Logger != nil {
				e.Logger.Errorf("failed to parse response: %v", err)
			}
			return
		}
		aTrip, err := session.RoundTrips.Match(response.Id)
		if err != nil {
			return
		}
		aTrip.SetResponse(response)

		//TODO move fmt.Printf to a logger to expose to implementers
	case jsonrpc.MessageTypeNotification:
		notification := &jsonrpc.Notification{}
		if err := json.Unmarshal(data, notification); err != nil {
			if e.Logger != nil {
				e.Logger.Errorf("failed to parse notification: %v", err)
			}
			return
		}
		session.Handler.OnNotification(ctx, notification)
	}
}

// handleBatch dispatches a JSON-RPC batch array. Every request runs
// through the same session.Handler.Serve a single message uses; the
// outcomes collapse into one BatchResponse array, successes first and
// then errors, mirroring NewBatchResponseMixed's ordering. Notification
// elements (no id) go to session.Handler.OnNotification and add no entry.
func (e *Handler) handleBatch(ctx context.Context, session *Session, data []byte, output *bytes.Buffer) {
	var batch jsonrpc.BatchRequest
	if err := json.Unmarshal(data, &batch); err != nil {
		session.SendError(ctx, jsonrpc.NewParsingError(nil, err, data))
		return
	}

	var responses []*jsonrpc.Response
	var errs []*jsonrpc.Error
	for _, request := range batch {
		if request.Id == nil {
			session.Handler.OnNotification(ctx, &jsonrpc.Notification{Jsonrpc: request.Jsonrpc, Method: request.Method, Params: request.Params})
			continue
		}
		if intId, ok := jsonrpc.AsRequestIntId(request.Id); ok {
			nextSeq := uint64(max(intId, int(session.RequestIdSeq)))
			atomic.StoreUint64(&session.RequestIdSeq, nextSeq)
		}
		response := &jsonrpc.Response{Id: request.Id, Jsonrpc: request.Jsonrpc}
		session.Handler.Serve(ctx, request, response)
		if response.Error != nil {
			errs = append(errs, &jsonrpc.Error{Id: response.Id, Jsonrpc: jsonrpc.Version, Error: *response.Error})
			continue
		}
		responses = append(responses, response)
	}

	encoded, err := json.Marshal(jsonrpc.NewBatchResponseMixed(responses, errs))
	if err != nil {
		if e.Logger != nil {
			e.Logger.Errorf("failed to encode batch response: %v", err)
		}
		return
	}
	if output != nil {
		output.Write(encoded)
		return
	}
	session.SendData(ctx, encoded)
}

func NewHandler() *Handler {
	return &Handler{
		Sessions: collection.NewSyncMap[string, *Session](),
		Logger:   jsonrpc.DefaultLogger,
	}
}
