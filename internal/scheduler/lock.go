package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants a job to a single instance for ttl.
type Locker interface {
	TryLock(ctx context.Context, job string, ttl time.Duration) (bool, error)
}

// RedisLocker takes locks with SET NX PX.  Locks are never released
// explicitly; they lapse after ttl so the next tick is contested again.
type RedisLocker struct {
	client *redis.Client
	prefix string
	owner  string
}

// NewRedisLocker returns a RedisLocker, or nil when client is nil so the
// scheduler runs unguarded.
func NewRedisLocker(client *redis.Client, prefix string) Locker {
	if client == nil {
		return nil
	}
	return &RedisLocker{client: client, prefix: prefix, owner: uuid.NewString()}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	// Slightly shorter than the interval so the next tick is not blocked by
	// this one's lock.
	if ttl > time.Second {
		ttl -= time.Second
	}
	return l.client.SetNX(ctx, l.prefix+":lock:"+job, l.owner, ttl).Result()
}
