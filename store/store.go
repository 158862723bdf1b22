// Package store defines the session and task persistence contract shared
// by every transport and protocol-level component, plus two
// implementations: an in-process Memory store and a Redis-backed store
// that lets multiple server instances share sessions, history and tasks.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style operations when the identified
// session or task does not exist (or has expired).
var ErrNotFound = errors.New("store: not found")

// AuthContext is the per-session record of a validated bearer token, built
// by the authorization subsystem and persisted alongside the session so
// any instance can answer getSessionByTokenHash.
type AuthContext struct {
	UserID       string
	ClientID     string
	Scopes       []string
	Audience     []string
	Issuer       string
	TokenHash    string
	TokenType    string
	ExpiresAt    time.Time
	IssuedAt     time.Time
	RefreshToken string
}

// RefreshInfo tracks the state needed to refresh a session's access token
// in the background, bounded by a retry counter.
type RefreshInfo struct {
	RefreshToken      string
	ClientID          string
	AuthorizationURL  string
	Scopes            []string
	LastRefreshAt     time.Time
	AttemptCount      int
}

// Session is the persisted metadata for one MCP session.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	EventCounter uint64
	LastEventID  uint64
	TTL          time.Duration

	AuthContext *AuthContext
	RefreshInfo *RefreshInfo

	// PKCEVerifier/RedirectURI back an optional auth sub-session used
	// while a session is completing an OAuth flow of its own.
	PKCEVerifier string
	RedirectURI  string
}

// HistoryEntry is one durable message in a session's bounded history.
type HistoryEntry struct {
	EventID uint64
	Message []byte
}

// TaskStatus is the lifecycle state of a long-running task.
type TaskStatus string

const (
	TaskWorking   TaskStatus = "working"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a status cannot transition further.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is the persisted state of one long-running operation.
type Task struct {
	ID            string
	Status        TaskStatus
	StatusMessage string
	CreatedAt     time.Time
	TTL           time.Duration
	PollInterval  time.Duration
	Result        []byte
	AuthContext   *AuthContext
}

// Store is the contract every transport, the auth subsystem and the task
// service depend on for durable state. Two implementations exist: Memory
// (single process) and Redis (shared across instances).
type Store interface {
	// CreateSession persists a new session and sets its inactivity TTL.
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns ErrNotFound if id is unknown or expired.
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession persists mutations to an existing session (e.g. a
	// refreshed auth context) and refreshes its TTL.
	UpdateSession(ctx context.Context, session *Session) error
	// DeleteSession removes a session, its history and its token mapping.
	DeleteSession(ctx context.Context, id string) error

	// AddMessage appends message under the caller-assigned eventID,
	// updates last-activity and resets the TTL.
	AddMessage(ctx context.Context, id string, eventID uint64, message []byte) error
	// AddMessageWithAutoEventID atomically allocates the session's next
	// event id and appends message under it.
	AddMessageWithAutoEventID(ctx context.Context, id string, message []byte) (eventID uint64, err error)
	// GetMessagesFrom returns entries with eventID strictly greater than
	// fromEventID, ascending.
	GetMessagesFrom(ctx context.Context, id string, fromEventID uint64) ([]HistoryEntry, error)

	// GetSessionByTokenHash resolves a session bound to a token hash.
	GetSessionByTokenHash(ctx context.Context, hash string) (*Session, error)
	// AddTokenMapping atomically removes any previous hash mapping this
	// session held and records the new one.
	AddTokenMapping(ctx context.Context, hash, sessionID string) error
	// RemoveTokenMapping removes a single hash -> session mapping.
	RemoveTokenMapping(ctx context.Context, hash string) error

	// Sessions iterates live sessions (used by the token-refresh loop).
	Sessions(ctx context.Context) ([]*Session, error)

	// CreateTask persists a new task.
	CreateTask(ctx context.Context, task *Task) error
	// GetTask returns ErrNotFound if id is unknown or expired.
	GetTask(ctx context.Context, id string) (*Task, error)
	// UpdateTask persists a task's mutated status/result.
	UpdateTask(ctx context.Context, task *Task) error
	// Tasks iterates all live tasks (used by cleanup and tasks/list).
	Tasks(ctx context.Context) ([]*Task, error)

	// Cleanup removes expired sessions, their orphaned history and
	// expired tasks.
	Cleanup(ctx context.Context) error

	// Close releases any underlying connection.
	Close() error
}

// DefaultSessionTTL is applied when Session.TTL is zero.
const DefaultSessionTTL = time.Hour

// DefaultHistoryCap bounds per-session history when not overridden.
const DefaultHistoryCap = 100
