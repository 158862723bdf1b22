package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fyrsmith/mcpd/broker"
	"github.com/fyrsmith/mcpd/lock"
	"github.com/fyrsmith/mcpd/mcp/schema"
	"github.com/fyrsmith/mcpd/store"
)

// RefreshFunc exchanges a refresh token for a new access token against the
// OAuth client's refresh endpoint.
type RefreshFunc func(ctx context.Context, refreshToken, clientID, authorizationURL string, scopes []string) (*Context, error)

// RefreshLoop periodically scans sessions whose auth context is close to
// expiry and refreshes them one at a time per session, coordinated across
// instances by a distributed lock so only one process refreshes a given
// session concurrently.
type RefreshLoop struct {
	Store       store.Store
	Broker      broker.Broker
	Lock        lock.Lock
	Refresh     RefreshFunc
	Interval    time.Duration // how often to scan, default 30s
	Buffer      time.Duration // refresh if expiring within this window, default 2m
	LockTTL     time.Duration // default 30s
	MaxAttempts int           // default 5

	stop chan struct{}
}

// Start runs the scan loop until ctx is cancelled or Stop is called.
func (r *RefreshLoop) Start(ctx context.Context) {
	if r.Interval <= 0 {
		r.Interval = 30 * time.Second
	}
	if r.Buffer <= 0 {
		r.Buffer = 2 * time.Minute
	}
	if r.LockTTL <= 0 {
		r.LockTTL = 30 * time.Second
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	r.stop = make(chan struct{})
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// Stop ends the loop started by Start.
func (r *RefreshLoop) Stop() {
	if r.stop != nil {
		close(r.stop)
	}
}

func (r *RefreshLoop) scan(ctx context.Context) {
	sessions, err := r.Store.Sessions(ctx)
	if err != nil {
		return
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	now := time.Now()
	for _, s := range sessions {
		if s.AuthContext == nil || s.RefreshInfo == nil {
			continue
		}
		if s.RefreshInfo.AttemptCount >= maxAttempts {
			continue
		}
		if s.AuthContext.ExpiresAt.After(now.Add(r.Buffer)) {
			continue
		}
		r.refreshOne(ctx, s)
	}
}

func (r *RefreshLoop) refreshOne(ctx context.Context, s *store.Session) {
	owner, err := r.Lock.Acquire(ctx, lockKey(s.ID), r.LockTTL)
	if err != nil {
		// Another instance holds the lock; silently retried next cycle.
		return
	}
	defer func() { _ = r.Lock.Release(ctx, lockKey(s.ID), owner) }()

	c, err := r.Refresh(ctx, s.RefreshInfo.RefreshToken, s.RefreshInfo.ClientID, s.RefreshInfo.AuthorizationURL, s.RefreshInfo.Scopes)
	if err != nil {
		s.RefreshInfo.AttemptCount++
		_ = r.Store.UpdateSession(ctx, s)
		return
	}

	oldHash := s.AuthContext.TokenHash
	s.AuthContext = &store.AuthContext{
		UserID: c.UserID, ClientID: c.ClientID, Scopes: c.Scopes, Audience: c.Audience,
		Issuer: c.Issuer, TokenHash: c.TokenHash, TokenType: c.TokenType,
		ExpiresAt: c.ExpiresAt, IssuedAt: c.IssuedAt, RefreshToken: c.RefreshToken,
	}
	s.RefreshInfo.AttemptCount = 0
	s.RefreshInfo.LastRefreshAt = time.Now()
	if err := r.Store.UpdateSession(ctx, s); err != nil {
		return
	}
	if oldHash != "" {
		_ = r.Store.RemoveTokenMapping(ctx, oldHash)
	}
	_ = r.Store.AddTokenMapping(ctx, c.TokenHash, s.ID)

	if r.Broker != nil {
		if payload, err := json.Marshal(schema.TokenRefreshedParams{SessionID: s.ID}); err == nil {
			_ = r.Broker.Publish(ctx, broker.SessionTopic(s.ID), payload)
		}
	}
}

func lockKey(sessionID string) string {
	return "refresh:" + sessionID
}
