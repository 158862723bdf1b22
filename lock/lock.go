// Package lock defines a distributed mutual-exclusion contract used to
// serialize a session's token-refresh attempt and other cross-instance
// critical sections, plus Memory and Redis implementations.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Extend/Release when the caller's owner token
// no longer holds the lock (lost to expiry or another owner).
var ErrNotHeld = errors.New("lock: not held")

// ErrHeld is returned by Acquire when another owner currently holds key.
var ErrHeld = errors.New("lock: held by another owner")

// Lock is a distributed, TTL-bound mutual exclusion primitive.
type Lock interface {
	// Acquire attempts to take key for ttl, returning an owner token on
	// success or ErrHeld if another owner currently holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (owner string, err error)
	// Extend renews ttl on key, failing with ErrNotHeld if owner no
	// longer matches the current holder.
	Extend(ctx context.Context, key, owner string, ttl time.Duration) error
	// Release relinquishes key, failing with ErrNotHeld if owner no
	// longer matches the current holder.
	Release(ctx context.Context, key, owner string) error
	// IsLocked reports whether key is currently held by anyone.
	IsLocked(ctx context.Context, key string) (bool, error)
}
