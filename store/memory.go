package store

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for development, tests and single-instance
// deployments. Session history is capped per session using a doubly linked
// list so trimming the oldest entry is O(1).
type Memory struct {
	mux         sync.RWMutex
	sessions    map[string]*Session
	history     map[string]*list.List // sessionID -> *list.List of HistoryEntry
	historyCap  int
	tokenToSess map[string]string
	tasks       map[string]*Task
}

// NewMemory creates a Memory store bounding per-session history at
// historyCap entries (DefaultHistoryCap when zero or negative).
func NewMemory(historyCap int) *Memory {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Memory{
		sessions:    map[string]*Session{},
		history:     map[string]*list.List{},
		historyCap:  historyCap,
		tokenToSess: map[string]string{},
		tasks:       map[string]*Task{},
	}
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	dup := *s
	if s.AuthContext != nil {
		ac := *s.AuthContext
		ac.Scopes = append([]string(nil), s.AuthContext.Scopes...)
		ac.Audience = append([]string(nil), s.AuthContext.Audience...)
		dup.AuthContext = &ac
	}
	if s.RefreshInfo != nil {
		ri := *s.RefreshInfo
		ri.Scopes = append([]string(nil), s.RefreshInfo.Scopes...)
		dup.RefreshInfo = &ri
	}
	return &dup
}

func (m *Memory) CreateSession(_ context.Context, session *Session) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	if session.TTL == 0 {
		session.TTL = DefaultSessionTTL
	}
	m.sessions[session.ID] = cloneSession(session)
	m.history[session.ID] = list.New()
	return nil
}

func (m *Memory) expired(s *Session, now time.Time) bool {
	return s.TTL > 0 && now.Sub(s.LastActivity) > s.TTL
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mux.RLock()
	s, ok := m.sessions[id]
	m.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(s, time.Now()) {
		_ = m.DeleteSession(context.Background(), id)
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) UpdateSession(_ context.Context, session *Session) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	dup := cloneSession(session)
	dup.LastActivity = time.Now()
	m.sessions[session.ID] = dup
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	delete(m.history, id)
	if ok && s.AuthContext != nil && s.AuthContext.TokenHash != "" {
		delete(m.tokenToSess, s.AuthContext.TokenHash)
	}
	return nil
}

func (m *Memory) AddMessage(_ context.Context, id string, eventID uint64, message []byte) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = time.Now()
	if eventID > s.LastEventID {
		s.LastEventID = eventID
	}
	hist := m.history[id]
	if hist == nil {
		hist = list.New()
		m.history[id] = hist
	}
	hist.PushBack(HistoryEntry{EventID: eventID, Message: append([]byte(nil), message...)})
	for hist.Len() > m.historyCap {
		hist.Remove(hist.Front())
	}
	return nil
}

func (m *Memory) AddMessageWithAutoEventID(_ context.Context, id string, message []byte) (uint64, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, ErrNotFound
	}
	s.EventCounter++
	eventID := s.EventCounter
	s.LastEventID = eventID
	s.LastActivity = time.Now()
	hist := m.history[id]
	if hist == nil {
		hist = list.New()
		m.history[id] = hist
	}
	hist.PushBack(HistoryEntry{EventID: eventID, Message: append([]byte(nil), message...)})
	for hist.Len() > m.historyCap {
		hist.Remove(hist.Front())
	}
	return eventID, nil
}

func (m *Memory) GetMessagesFrom(_ context.Context, id string, fromEventID uint64) ([]HistoryEntry, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	if _, ok := m.sessions[id]; !ok {
		return nil, ErrNotFound
	}
	hist := m.history[id]
	if hist == nil {
		return nil, nil
	}
	var out []HistoryEntry
	for e := hist.Front(); e != nil; e = e.Next() {
		entry := e.Value.(HistoryEntry)
		if entry.EventID > fromEventID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *Memory) GetSessionByTokenHash(_ context.Context, hash string) (*Session, error) {
	m.mux.RLock()
	id, ok := m.tokenToSess[hash]
	m.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetSession(context.Background(), id)
}

func (m *Memory) AddTokenMapping(_ context.Context, hash, sessionID string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	for h, id := range m.tokenToSess {
		if id == sessionID && h != hash {
			delete(m.tokenToSess, h)
		}
	}
	m.tokenToSess[hash] = sessionID
	return nil
}

func (m *Memory) RemoveTokenMapping(_ context.Context, hash string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.tokenToSess, hash)
	return nil
}

func (m *Memory) Sessions(_ context.Context) ([]*Session, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	return out, nil
}

func (m *Memory) CreateTask(_ context.Context, task *Task) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	dup := *task
	m.tasks[task.ID] = &dup
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*Task, error) {
	m.mux.RLock()
	t, ok := m.tasks[id]
	m.mux.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if t.TTL > 0 && time.Since(t.CreatedAt) > t.TTL && t.Status.Terminal() {
		_ = m.deleteTask(id)
		return nil, ErrNotFound
	}
	dup := *t
	return &dup, nil
}

func (m *Memory) deleteTask(id string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *Memory) UpdateTask(_ context.Context, task *Task) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	dup := *task
	m.tasks[task.ID] = &dup
	return nil
}

func (m *Memory) Tasks(_ context.Context) ([]*Task, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		dup := *t
		out = append(out, &dup)
	}
	return out, nil
}

func (m *Memory) Cleanup(ctx context.Context) error {
	now := time.Now()
	m.mux.Lock()
	var expiredSessions []string
	for id, s := range m.sessions {
		if m.expired(s, now) {
			expiredSessions = append(expiredSessions, id)
		}
	}
	var expiredTasks []string
	for id, t := range m.tasks {
		if t.TTL > 0 && now.Sub(t.CreatedAt) > t.TTL && t.Status.Terminal() {
			expiredTasks = append(expiredTasks, id)
		}
	}
	m.mux.Unlock()
	for _, id := range expiredSessions {
		_ = m.DeleteSession(ctx, id)
	}
	for _, id := range expiredTasks {
		_ = m.deleteTask(id)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// AppendEvent persists data under an atomically allocated event id,
// satisfying the EventStore adapter in eventstore.go.
func (m *Memory) AppendEvent(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	return m.AddMessageWithAutoEventID(ctx, sessionID, data)
}

// EventsAfter returns history entries newer than lastID, satisfying the
// EventStore adapter in eventstore.go.
func (m *Memory) EventsAfter(ctx context.Context, sessionID string, lastID uint64) ([]HistoryEntry, error) {
	return m.GetMessagesFrom(ctx, sessionID, lastID)
}
