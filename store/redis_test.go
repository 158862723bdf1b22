package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redisclient.NewClient(&redisclient.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "test:", 3)
}

func TestRedis_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1"}))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, DefaultSessionTTL, got.TTL)

	got.AuthContext = &AuthContext{UserID: "u1"}
	require.NoError(t, s.UpdateSession(ctx, got))

	reread, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", reread.AuthContext.UserID)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_History_CapsAndOrders(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1"}))

	for i := 0; i < 5; i++ {
		_, err := s.AddMessageWithAutoEventID(ctx, "s1", []byte{byte(i)})
		require.NoError(t, err)
	}

	entries, err := s.GetMessagesFrom(ctx, "s1", 0)
	require.NoError(t, err)
	if assert.NotEmpty(t, entries) {
		assert.Equal(t, uint64(5), entries[len(entries)-1].EventID)
	}
}

func TestRedis_TokenMapping(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1"}))

	require.NoError(t, s.AddTokenMapping(ctx, "hash-a", "s1"))
	got, err := s.GetSessionByTokenHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	require.NoError(t, s.AddTokenMapping(ctx, "hash-b", "s1"))
	_, err = s.GetSessionByTokenHash(ctx, "hash-a")
	assert.ErrorIs(t, err, ErrNotFound, "replacing a session's mapping should drop the old hash")
}

func TestRedis_TaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	require.NoError(t, s.CreateTask(ctx, &Task{ID: "t1", Status: TaskWorking}))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskWorking, got.Status)

	got.Status = TaskCompleted
	require.NoError(t, s.UpdateTask(ctx, got))

	all, err := s.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, TaskCompleted, all[0].Status)
}

func TestRedis_Sessions_ReapsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1"}))
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s2"}))

	// deleting s1's key directly (bypassing DeleteSession) leaves its id in
	// the sessions set, exercising the reap-on-read path.
	require.NoError(t, s.rdb.Del(ctx, s.keySession("s1")).Err())

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
}
