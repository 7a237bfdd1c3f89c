package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another instance holds the job lock.
var ErrLockHeld = errors.New("lock: held by another instance")

// DefaultLockTTL bounds how long a crashed instance can block a job.
const DefaultLockTTL = 5 * time.Minute

// unlockScript deletes the key only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements gocron.Locker with SET NX PX, so only one worker
// instance runs a given job tick.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ gocron.Locker = (*Locker)(nil)

// NewLocker creates a locker over the cache's client.
func NewLocker(c *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{client: c.rdb, ttl: ttl}
}

// Lock acquires the lock for key or returns ErrLockHeld.
func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, LockKey(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &lock{client: l.client, key: LockKey(key), token: token}, nil
}

type lock struct {
	client *redis.Client
	key    string
	token  string
}

// Unlock releases the lock if it is still ours.
func (l *lock) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
