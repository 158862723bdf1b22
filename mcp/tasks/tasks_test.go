package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmith/mcpd/broker"
	"github.com/fyrsmith/mcpd/mcp/schema"
	"github.com/fyrsmith/mcpd/store"
)

func TestService_CreateAndGetTask(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	task, err := svc.CreateTask(context.Background(), time.Minute, &AuthContext{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, task.Status)
	assert.NotEmpty(t, task.ID)

	got, err := svc.GetTask(context.Background(), task.ID, &AuthContext{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestService_GetTask_OwnerMismatchIsNotFound(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	task, err := svc.CreateTask(context.Background(), time.Minute, &AuthContext{UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.GetTask(context.Background(), task.ID, &AuthContext{UserID: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetTask(context.Background(), task.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_GetTask_UnownedTaskVisibleToAnyCaller(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	task, err := svc.CreateTask(context.Background(), time.Minute, nil)
	require.NoError(t, err)

	got, err := svc.GetTask(context.Background(), task.ID, &AuthContext{UserID: "anyone"})
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestService_ListTasks_FiltersByOwner(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	_, err := svc.CreateTask(context.Background(), time.Minute, &AuthContext{UserID: "u1"})
	require.NoError(t, err)
	_, err = svc.CreateTask(context.Background(), time.Minute, &AuthContext{UserID: "u2"})
	require.NoError(t, err)

	list, err := svc.ListTasks(context.Background(), &AuthContext{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_CancelTask(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	task, err := svc.CreateTask(context.Background(), time.Minute, nil)
	require.NoError(t, err)

	require.NoError(t, svc.CancelTask(context.Background(), task.ID, nil))

	got, err := svc.GetTask(context.Background(), task.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	err = svc.CancelTask(context.Background(), task.ID, nil)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestService_CancelTask_UnknownIsNotFound(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	err := svc.CancelTask(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_UpdateTask_PublishesStatus(t *testing.T) {
	st := store.NewMemory(10)
	b := broker.NewMemory()
	svc := New(st, b)

	task, err := svc.CreateTask(context.Background(), time.Minute, nil)
	require.NoError(t, err)

	var payload []byte
	done := make(chan struct{})
	_, err = b.Subscribe(context.Background(), broker.TaskTopic(task.ID), func(_ context.Context, _ string, p []byte) {
		payload = p
		close(done)
	})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateTask(context.Background(), task.ID, StatusCompleted, []byte(`"ok"`), "done"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task status notification")
	}

	var notif schema.TaskStatusNotificationParams
	require.NoError(t, json.Unmarshal(payload, &notif))
	assert.Equal(t, task.ID, notif.TaskID)
	assert.Equal(t, schema.TaskStatus(StatusCompleted), notif.Status)
}

func TestService_UpdateTask_TerminalTaskRejected(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	task, err := svc.CreateTask(context.Background(), time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, svc.CancelTask(context.Background(), task.ID, nil))

	err = svc.UpdateTask(context.Background(), task.ID, StatusCompleted, nil, "too late")
	assert.Error(t, err)
}

func TestService_GetTaskResult_ReturnsOnceTerminal(t *testing.T) {
	st := store.NewMemory(10)
	svc := New(st, nil)
	task, err := svc.CreateTask(context.Background(), time.Minute, nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = svc.UpdateTask(context.Background(), task.ID, StatusCompleted, []byte(`"done"`), "")
	}()

	got, err := svc.GetTaskResult(context.Background(), task.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestService_GetTaskResult_TimesOut(t *testing.T) {
	svc := New(store.NewMemory(10), nil)
	task, err := svc.CreateTask(context.Background(), 50*time.Millisecond, nil)
	require.NoError(t, err)

	_, err = svc.GetTaskResult(context.Background(), task.ID, nil)
	assert.ErrorIs(t, err, ErrTimeout)
}
