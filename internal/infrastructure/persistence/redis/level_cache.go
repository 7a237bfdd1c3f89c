package redis

import (
	"context"
	"errors"
	"time"

	"github.com/inkquest/inkquest/pkg/circuitbreaker"
)

// DefaultLevelTTL is used when LevelCache is built with a non-positive TTL.
const DefaultLevelTTL = 5 * time.Minute

// LevelCache caches rendered level views per user. It implements
// query.LevelCache and command.LevelCacheInvalidator.
type LevelCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

// NewLevelCache creates a level cache over c.
func NewLevelCache(c *Cache, ttl time.Duration) *LevelCache {
	if ttl <= 0 {
		ttl = DefaultLevelTTL
	}
	return &LevelCache{cache: c, ttl: ttl}
}

// WithBreaker routes reads and writes through cb. While the circuit is open
// reads are misses and writes are dropped.
func (l *LevelCache) WithBreaker(cb *circuitbreaker.Breaker) *LevelCache {
	l.breaker = cb
	return l
}

func (l *LevelCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if l.breaker == nil {
		return fn(ctx)
	}
	err := l.breaker.Do(ctx, fn)
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	return err
}

// GetLevel decodes the cached view into dst. A miss is (false, nil).
func (l *LevelCache) GetLevel(ctx context.Context, userID string, dst interface{}) (bool, error) {
	var hit bool
	err := l.guard(ctx, func(ctx context.Context) error {
		err := l.cache.Get(ctx, LevelKey(userID), dst)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		hit = err == nil
		return err
	})
	return hit, err
}

// SetLevel stores view for the configured TTL.
func (l *LevelCache) SetLevel(ctx context.Context, userID string, view interface{}) error {
	return l.guard(ctx, func(ctx context.Context) error {
		return l.cache.Set(ctx, LevelKey(userID), view, l.ttl)
	})
}

// InvalidateLevel drops the cached view. It bypasses the breaker: a skipped
// delete would leave a stale view behind once Redis recovers.
func (l *LevelCache) InvalidateLevel(ctx context.Context, userID string) error {
	return l.cache.Delete(ctx, LevelKey(userID))
}

// TTL returns the configured expiry.
func (l *LevelCache) TTL() time.Duration {
	return l.ttl
}
