package jsonrpc

import (
	"encoding/json"
	"errors"
)

// BatchRequest represents a JSON-RPC 2.0 batch request as per specs
type BatchRequest []*Request

// BatchResponseItem is satisfied by the two shapes a batch response slot
// can hold: a successful Response or a standalone Error envelope.
type BatchResponseItem interface {
	batchResponseItem()
}

func (*Response) batchResponseItem() {}
func (*Error) batchResponseItem()    {}

// BatchResponse represents a JSON-RPC 2.0 batch response as per specs.
// Marshaling relies on encoding/json's normal interface handling: each
// element encodes as whatever concrete type (*Response or *Error) it
// actually holds.
type BatchResponse []BatchResponseItem

// UnmarshalJSON is a custom JSON unmarshaler for the BatchRequest type
func (b *BatchRequest) UnmarshalJSON(data []byte) error {
	// First check if it's an empty array which is not allowed as per the specs
	if string(data) == "[]" {
		return errors.New("invalid batch request: empty array")
	}

	// Try to unmarshal as an array, element by element: an element without
	// an id is a notification and is kept as a Request with a nil Id.
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	if len(raws) == 0 {
		return errors.New("invalid batch request: empty array")
	}

	requests := make([]*Request, 0, len(raws))
	for _, raw := range raws {
		request := &Request{}
		if err := json.Unmarshal(raw, request); err != nil {
			notification := &Notification{}
			if json.Unmarshal(raw, notification) != nil {
				return err
			}
			request = &Request{Jsonrpc: notification.Jsonrpc, Method: notification.Method, Params: notification.Params}
		}
		requests = append(requests, request)
	}

	*b = requests
	return nil
}

// NewBatchResponseFromResponses builds a BatchResponse containing only
// successful responses, in order.
func NewBatchResponseFromResponses(responses []*Response) BatchResponse {
	out := make(BatchResponse, len(responses))
	for i, r := range responses {
		out[i] = r
	}
	return out
}

// NewBatchResponseFromErrors builds a BatchResponse containing only
// error envelopes, in order.
func NewBatchResponseFromErrors(errs []*Error) BatchResponse {
	out := make(BatchResponse, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// NewBatchResponseMixed builds a BatchResponse from a set of successful
// responses followed by a set of error envelopes, the shape a batch
// dispatcher ends up with once every request in the batch has run.
func NewBatchResponseMixed(responses []*Response, errs []*Error) BatchResponse {
	out := make(BatchResponse, 0, len(responses)+len(errs))
	for _, r := range responses {
		out = append(out, r)
	}
	for _, e := range errs {
		out = append(out, e)
	}
	return out
}
