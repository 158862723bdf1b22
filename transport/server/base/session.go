package base

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/transport"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type Session struct {
	Id           string `json:"id"`
	RoundTrips   *transport.RoundTrips
	Writer       io.Writer
	Handler      transport.Handler
	framer       FrameMessage
	RequestIdSeq uint64
	bufferSize   int
	events       []event
	err          error
	closed       int32
	sync.Mutex
	// sse enables SSE id injection and matching replay ids
	sse bool

	// Lifecycle metadata
	CreatedAt     time.Time
	LastSeen      time.Time
	DetachedAt    *time.Time
	State         SessionState
	WriterPresent bool

	// buffer overflow handling
	overflowPolicy OverflowPolicy
	overflowed     bool

	// store, when set, is the system of record for SSE event-id allocation
	// and replay history, allowing a reconnecting client to be served by
	// any instance sharing the same store. When nil, the session falls
	// back to its local in-memory ring buffer (suitable for stdio and
	// single-instance deployments).
	store EventStore

	// writerGen increments on each writer (re)attachment to guard concurrent writers.
	writerGen uint64
}

// EventStore is the subset of the session store abstraction that a
// transport session needs in order to allocate globally-ordered SSE event
// ids and persist/replay event history across instances. AppendEvent
// allocates the id and records the event atomically so concurrent
// senders and cross-instance publishers never collide.
type EventStore interface {
	// AppendEvent atomically allocates the next monotonic event id for
	// sessionID and durably records the framed event under it.
	AppendEvent(ctx context.Context, sessionID string, data []byte) (id uint64, err error)
	// EventsAfter returns events with id greater than lastID, in ascending
	// order.
	EventsAfter(ctx context.Context, sessionID string, lastID uint64) ([]ReplayEvent, error)
}

// ReplayEvent pairs a durable event id with its framed payload (without
// any SSE "id:" line, which the transport reconstructs from ID).
type ReplayEvent struct {
	ID   uint64
	Data []byte
}

// LastRequestID returns the most recently generated request id without mutating the underlying sequence.
// It is concurrency-safe and can be used to inspect the current sequence value.
func (s *Session) LastRequestID() jsonrpc.RequestId {
	return int(atomic.LoadUint64(&s.RequestIdSeq))
}

func (s *Session) NextRequestID() jsonrpc.RequestId {
	return int(atomic.AddUint64(&s.RequestIdSeq, 1))
}

type event struct {
	id   uint64
	data []byte
}

// SetError sets error
func (s *Session) SetError(err error) {
	s.err = err
}

// Error returns error
func (s *Session) Error() error {
	return s.err
}

func (s *Session) frameMessage(data []byte) []byte {
	if s.framer == nil {
		return data
	}
	return s.framer(data)
}

// SendError sends error
func (s *Session) SendError(ctx context.Context, error *jsonrpc.Error) {
	data, err := json.Marshal(error)
	if err != nil {
		fmt.Println(err)
		return
	}
	s.SendData(ctx, data)
}

// SendResponse sends response
func (s *Session) SendResponse(ctx context.Context, response *jsonrpc.Response) {
	if response.Error != nil {
		response.Result = nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	s.SendData(ctx, data)
}

// SendRequest sends request
func (s *Session) SendRequest(ctx context.Context, request *jsonrpc.Request) {
	data, err := json.Marshal(request)
	if err != nil {
		fmt.Println(err)
		return
	}
	s.SendData(ctx, data)

}

func (s *Session) sendNotification(ctx context.Context, notification *jsonrpc.Notification) error {
	params, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	request := &jsonrpc.Request{
		Jsonrpc: jsonrpc.Version,
		Method:  notification.Method,
		Params:  params,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	s.SendData(ctx, data)
	return s.err
}

// Heartbeat writes an SSE comment line directly to the session's writer,
// under the same lock SendData uses, so a periodic keepalive never
// interleaves with a framed message write.
func (s *Session) Heartbeat() error {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	if s.Writer == nil {
		return nil
	}
	_, err := s.Writer.Write([]byte(": heartbeat\n\n"))
	if err != nil {
		s.SetError(err)
	}
	return err
}

// SendData sends data
func (s *Session) SendData(ctx context.Context, data []byte) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	s.LastSeen = time.Now()
	framed := s.frameMessage(data)
	if s.sse {
		id := s.allocateEventID(ctx, framed)
		prefix := []byte(fmt.Sprintf("id: %d\n", id))
		full := append(prefix, framed...)
		if s.Writer != nil {
			_, err := s.Writer.Write(full)
			if err != nil {
				s.SetError(err)
			}
		}
		return
	}
	if s.Writer != nil {
		_, err := s.Writer.Write(framed)
		if err != nil {
			s.SetError(err)
		}
	}
	if s.bufferSize > 0 {
		s.allocateEventID(ctx, framed)
	}
}

// allocateEventID assigns the next event id for data and, unless an
// external Store already persisted it as part of that allocation, stores
// it in the local ring buffer.
func (s *Session) allocateEventID(ctx context.Context, framed []byte) uint64 {
	if s.store != nil {
		id, err := s.store.AppendEvent(ctx, s.Id, framed)
		if err == nil {
			return id
		}
		s.SetError(err)
	}
	id := atomic.AddUint64(&s.RequestIdSeq, 1)
	s.storeEvent(id, framed)
	return id
}

func (s *Session) storeEvent(id uint64, data []byte) {
	s.events = append(s.events, event{id: id, data: append([]byte(nil), data...)})
	if len(s.events) > s.bufferSize {
		// handle overflow
		if s.overflowPolicy == OverflowMark {
			s.overflowed = true
		}
		// drop oldest
		excess := len(s.events) - s.bufferSize
		s.events = s.events[excess:]
	}
}

// EventsAfter returns events with id greater than lastID, either from the
// attached Store or, absent one, the local in-memory buffer.
func (s *Session) EventsAfter(ctx context.Context, lastID uint64) []ReplayEvent {
	if s.store != nil {
		events, err := s.store.EventsAfter(ctx, s.Id, lastID)
		if err != nil {
			s.SetError(err)
			return nil
		}
		return events
	}
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	if lastID == 0 || len(s.events) == 0 {
		res := make([]ReplayEvent, len(s.events))
		for i, ev := range s.events {
			res[i] = ReplayEvent{ID: ev.id, Data: ev.data}
		}
		return res
	}
	var idx int
	// simple linear search as buffer small
	for idx < len(s.events) && s.events[idx].id <= lastID {
		idx++
	}
	if idx >= len(s.events) {
		return nil
	}
	res := make([]ReplayEvent, len(s.events)-idx)
	for i := idx; i < len(s.events); i++ {
		res[i-idx] = ReplayEvent{ID: s.events[i].id, Data: s.events[i].data}
	}
	return res
}

func NewSession(ctx context.Context, id string, writer io.Writer, newHandler transport.NewHandler, options ...Option) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	ret := &Session{
		Id:            id,
		Writer:        writer,
		RoundTrips:    transport.NewRoundTrips(20),
		CreatedAt:     time.Now(),
		LastSeen:      time.Now(),
		State:         SessionStateActive,
		WriterPresent: writer != nil,
	}
	ret.Handler = newHandler(ctx, NewTransport(ret.RoundTrips, ret.SendData, ret))
	for _, option := range options {
		option(ret)
	}
	return ret
}

// SessionState represents lifecycle state of a session.
type SessionState int

const (
	SessionStateActive SessionState = iota
	SessionStateDetached
	SessionStateClosed
)

// Touch updates LastSeen timestamp.
func (s *Session) Touch() {
	s.Mutex.Lock()
	s.LastSeen = time.Now()
	s.Mutex.Unlock()
}

// MarkDetached marks session as detached and records time.
func (s *Session) MarkDetached() {
	s.Mutex.Lock()
	now := time.Now()
	s.DetachedAt = &now
	s.State = SessionStateDetached
	s.WriterPresent = false
	s.Mutex.Unlock()
}

// MarkActiveWithWriter re-attaches a writer and marks session active.
func (s *Session) MarkActiveWithWriter(w io.Writer) {
	s.Mutex.Lock()
	s.Writer = w
	s.WriterPresent = w != nil
	s.State = SessionStateActive
	s.DetachedAt = nil
	s.LastSeen = time.Now()
	atomic.AddUint64(&s.writerGen, 1)
	s.Mutex.Unlock()
}

// WriterGeneration returns the current writer attachment generation.
func (s *Session) WriterGeneration() uint64 {
	return atomic.LoadUint64(&s.writerGen)
}
