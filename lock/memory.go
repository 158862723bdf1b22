package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	owner   string
	expires time.Time
}

// Memory is an in-process Lock for single-instance deployments and tests.
// An expired entry counts as free: Acquire overwrites it, and IsLocked and
// Extend treat it as not held. Expired entries stay in the map until Sweep
// is called; nothing in this type calls Sweep on its own.
type Memory struct {
	mux     sync.Mutex
	entries map[string]entry
}

// NewMemory creates an empty Memory lock table.
func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	now := time.Now()
	if e, ok := m.entries[key]; ok && e.expires.After(now) {
		return "", ErrHeld
	}
	owner := uuid.New().String()
	m.entries[key] = entry{owner: owner, expires: now.Add(ttl)}
	return owner, nil
}

func (m *Memory) Extend(_ context.Context, key, owner string, ttl time.Duration) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	e, ok := m.entries[key]
	if !ok || e.owner != owner || e.expires.Before(time.Now()) {
		return ErrNotHeld
	}
	e.expires = time.Now().Add(ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) Release(_ context.Context, key, owner string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	e, ok := m.entries[key]
	if !ok || e.owner != owner {
		return ErrNotHeld
	}
	delete(m.entries, key)
	return nil
}

func (m *Memory) IsLocked(_ context.Context, key string) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	e, ok := m.entries[key]
	return ok && e.expires.After(time.Now()), nil
}

// Sweep removes expired entries; callers may run it periodically to bound
// map growth under high key churn.
func (m *Memory) Sweep() {
	m.mux.Lock()
	defer m.mux.Unlock()
	now := time.Now()
	for k, e := range m.entries {
		if e.expires.Before(now) {
			delete(m.entries, k)
		}
	}
}
