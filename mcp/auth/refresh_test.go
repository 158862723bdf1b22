package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmith/mcpd/broker"
	"github.com/fyrsmith/mcpd/lock"
	"github.com/fyrsmith/mcpd/store"
)

func TestRefreshLoop_RefreshesExpiringSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(10)
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID: "s1",
		AuthContext: &store.AuthContext{
			TokenHash: "old-hash",
			ExpiresAt: time.Now().Add(time.Second),
		},
		RefreshInfo: &store.RefreshInfo{RefreshToken: "refresh-1"},
	}))
	require.NoError(t, st.AddTokenMapping(ctx, "old-hash", "s1"))

	b := broker.NewMemory()
	var mu sync.Mutex
	var published []byte
	_, err := b.Subscribe(ctx, broker.SessionTopic("s1"), func(_ context.Context, _ string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		published = payload
	})
	require.NoError(t, err)

	loop := &RefreshLoop{
		Store:  st,
		Broker: b,
		Lock:   lock.NewMemory(),
		Refresh: func(ctx context.Context, refreshToken, clientID, authURL string, scopes []string) (*Context, error) {
			assert.Equal(t, "refresh-1", refreshToken)
			return &Context{TokenHash: "new-hash", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		Interval: time.Millisecond,
		Buffer:   time.Minute,
	}

	go loop.Start(ctx)
	t.Cleanup(loop.Stop)

	assert.Eventually(t, func() bool {
		s, err := st.GetSession(ctx, "s1")
		return err == nil && s.AuthContext.TokenHash == "new-hash"
	}, time.Second, 2*time.Millisecond)

	_, err = st.GetSessionByTokenHash(ctx, "old-hash")
	assert.ErrorIs(t, err, store.ErrNotFound, "the stale token hash mapping must be removed on refresh")

	got, err := st.GetSessionByTokenHash(ctx, "new-hash")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return published != nil
	}, time.Second, 2*time.Millisecond)
}

func TestRefreshLoop_SkipsSessionNotExpiringSoon(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(10)
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID:          "s1",
		AuthContext: &store.AuthContext{TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)},
		RefreshInfo: &store.RefreshInfo{RefreshToken: "r"},
	}))

	calls := 0
	loop := &RefreshLoop{
		Store: st,
		Lock:  lock.NewMemory(),
		Refresh: func(context.Context, string, string, string, []string) (*Context, error) {
			calls++
			return &Context{}, nil
		},
		Interval: time.Millisecond,
		Buffer:   time.Minute,
	}
	loop.scan(ctx)
	assert.Equal(t, 0, calls)
}

func TestRefreshLoop_FailedRefreshIncrementsAttemptCount(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(10)
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID:          "s1",
		AuthContext: &store.AuthContext{TokenHash: "h", ExpiresAt: time.Now()},
		RefreshInfo: &store.RefreshInfo{RefreshToken: "r"},
	}))

	loop := &RefreshLoop{
		Store: st,
		Lock:  lock.NewMemory(),
		Refresh: func(context.Context, string, string, string, []string) (*Context, error) {
			return nil, assert.AnError
		},
		Buffer: time.Minute,
	}
	loop.scan(ctx)

	s, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.RefreshInfo.AttemptCount)
}

func TestRefreshLoop_StopsAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(10)
	require.NoError(t, st.CreateSession(ctx, &store.Session{
		ID:          "s1",
		AuthContext: &store.AuthContext{TokenHash: "h", ExpiresAt: time.Now()},
		RefreshInfo: &store.RefreshInfo{RefreshToken: "r", AttemptCount: 5},
	}))

	calls := 0
	loop := &RefreshLoop{
		Store: st,
		Lock:  lock.NewMemory(),
		Refresh: func(context.Context, string, string, string, []string) (*Context, error) {
			calls++
			return &Context{}, nil
		},
		MaxAttempts: 5,
		Buffer:      time.Minute,
	}
	loop.scan(ctx)
	assert.Equal(t, 0, calls, "a session that already exhausted MaxAttempts must not be retried")
}
