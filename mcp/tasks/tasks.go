// Package tasks implements the long-running task service: creation,
// status polling, cancellation and host-driven updates, backed by a
// store.Store for persistence and a broker.Broker for status fan-out.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmith/mcpd/broker"
	"github.com/fyrsmith/mcpd/store"
	"github.com/google/uuid"
)

// ErrNotFound is returned for any access to an unknown task, or a task
// bound to an auth context that does not match the caller's — callers
// must not be able to distinguish the two cases (no existence oracle).
var ErrNotFound = errors.New("tasks: not found")

// ErrTerminal is returned by CancelTask when the task has already reached
// a terminal status.
var ErrTerminal = errors.New("tasks: already terminal")

// ErrTimeout is returned by GetTaskResult when ttl elapses before the task
// reaches a terminal status.
var ErrTimeout = errors.New("tasks: timed out waiting for result")

const (
	maxPollInterval = 5 * time.Second
	resultPollEvery = 100 * time.Millisecond
)

// Status mirrors store.TaskStatus.
type Status = store.TaskStatus

const (
	StatusWorking   = store.TaskWorking
	StatusCompleted = store.TaskCompleted
	StatusFailed    = store.TaskFailed
	StatusCancelled = store.TaskCancelled
)

// AuthContext is the subset of an auth context needed to authorize task
// access, kept free of the store package's full shape.
type AuthContext struct {
	UserID   string
	ClientID string
}

func matches(owner *store.AuthContext, caller *AuthContext) bool {
	if owner == nil {
		return true
	}
	if caller == nil {
		return false
	}
	return (owner.UserID != "" && owner.UserID == caller.UserID) ||
		(owner.ClientID != "" && owner.ClientID == caller.ClientID)
}

// Task is the service-facing view of a long-running operation.
type Task struct {
	ID            string
	Status        Status
	StatusMessage string
	CreatedAt     time.Time
	TTL           time.Duration
	PollInterval  time.Duration
	Result        []byte
}

// Service implements createTask/getTask/getTaskResult/cancelTask/
// updateTask/cleanup.
type Service struct {
	store  store.Store
	broker broker.Broker
}

// New creates a Service over store and broker.
func New(s store.Store, b broker.Broker) *Service {
	return &Service{store: s, broker: b}
}

// CreateTask creates a new task in the working state with poll interval
// min(ttl/10, 5s).
func (s *Service) CreateTask(ctx context.Context, ttl time.Duration, auth *AuthContext) (*Task, error) {
	poll := ttl / 10
	if poll > maxPollInterval {
		poll = maxPollInterval
	}
	t := &store.Task{
		ID:           uuid.New().String(),
		Status:       store.TaskWorking,
		CreatedAt:    time.Now(),
		TTL:          ttl,
		PollInterval: poll,
	}
	if auth != nil {
		t.AuthContext = &store.AuthContext{UserID: auth.UserID, ClientID: auth.ClientID}
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return toTask(t), nil
}

// GetTask returns the task's current status, enforcing that a task bound
// to an auth context is only visible to a matching caller.
func (s *Service) GetTask(ctx context.Context, id string, caller *AuthContext) (*Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !matches(t.AuthContext, caller) {
		return nil, ErrNotFound
	}
	return toTask(t), nil
}

// ListTasks returns every task visible to caller.
func (s *Service) ListTasks(ctx context.Context, caller *AuthContext) ([]*Task, error) {
	all, err := s.store.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(all))
	for _, t := range all {
		if matches(t.AuthContext, caller) {
			out = append(out, toTask(t))
		}
	}
	return out, nil
}

// GetTaskResult blocks, polling every 100ms, until the task reaches a
// terminal status or ttl elapses.
func (s *Service) GetTaskResult(ctx context.Context, id string, caller *AuthContext) (*Task, error) {
	t, err := s.GetTask(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	deadline := t.CreatedAt.Add(t.TTL)
	ticker := time.NewTicker(resultPollEvery)
	defer ticker.Stop()
	for {
		if t.Status.Terminal() {
			return t, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			t, err = s.GetTask(ctx, id, caller)
			if err != nil {
				return nil, err
			}
		}
	}
}

// CancelTask transitions a working task to cancelled; cancelling a
// terminal task is an error.
func (s *Service) CancelTask(ctx context.Context, id string, caller *AuthContext) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !matches(t.AuthContext, caller) {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrTerminal
	}
	t.Status = store.TaskCancelled
	t.StatusMessage = "Cancelled by user"
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	s.publish(ctx, t)
	return nil
}

// UpdateTask is called by the host that owns the computation to report
// progress or completion; every update publishes a status notification.
func (s *Service) UpdateTask(ctx context.Context, id string, status Status, result []byte, statusMessage string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("tasks: task %s is already terminal", id)
	}
	t.Status = status
	t.StatusMessage = statusMessage
	if result != nil {
		t.Result = result
	}
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	s.publish(ctx, t)
	return nil
}

func (s *Service) publish(ctx context.Context, t *store.Task) {
	if s.broker == nil {
		return
	}
	payload, err := marshalStatus(t)
	if err != nil {
		return
	}
	_ = s.broker.Publish(ctx, broker.TaskTopic(t.ID), payload)
}

// Cleanup removes tasks older than createdAt+ttl.
func (s *Service) Cleanup(ctx context.Context) error {
	return s.store.Cleanup(ctx)
}

func toTask(t *store.Task) *Task {
	return &Task{
		ID:            t.ID,
		Status:        t.Status,
		StatusMessage: t.StatusMessage,
		CreatedAt:     t.CreatedAt,
		TTL:           t.TTL,
		PollInterval:  t.PollInterval,
		Result:        t.Result,
	}
}
