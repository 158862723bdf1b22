package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Redis is a Lock backed by Redis SET NX PX for acquisition and
// owner-checked Lua scripts for extend/release, so only the instance that
// acquired a lock can renew or release it.
type Redis struct {
	rdb    *redis.Client
	prefix string

	extendScript  *redis.Script
	releaseScript *redis.Script
}

// NewRedis creates a Redis-backed lock. prefix defaults to "mcp:lock:".
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "mcp:lock:"
	}
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		extendScript: redis.NewScript(`
			if redis.call('GET', KEYS[1]) == ARGV[1] then
				return redis.call('PEXPIRE', KEYS[1], ARGV[2])
			end
			return 0
		`),
		releaseScript: redis.NewScript(`
			if redis.call('GET', KEYS[1]) == ARGV[1] then
				return redis.call('DEL', KEYS[1])
			end
			return 0
		`),
	}
}

func (r *Redis) key(key string) string { return r.prefix + key }

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	owner := uuid.New().String()
	ok, err := r.rdb.SetNX(ctx, r.key(key), owner, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrHeld
	}
	return owner, nil
}

func (r *Redis) Extend(ctx context.Context, key, owner string, ttl time.Duration) error {
	n, err := r.extendScript.Run(ctx, r.rdb, []string{r.key(key)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key, owner string) error {
	n, err := r.releaseScript.Run(ctx, r.rdb, []string{r.key(key)}, owner).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
