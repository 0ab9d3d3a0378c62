package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// delIfEqualScript releases a lock only when the caller still owns it.
var delIfEqualScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// Lock is a single-holder distributed lock backed by SET NX EX. A fresh
// random token per acquisition means an expired lock taken over by another
// holder can never be released with a stale token.
type Lock struct {
	cache *Cache
	key   string
	ttl   time.Duration
	token string
}

// NewLock creates a lock handle for key with the given TTL. The lock is not
// held until Acquire succeeds.
func NewLock(c *Cache, key string, ttl time.Duration) *Lock {
	return &Lock{cache: c, key: key, ttl: ttl}
}

// Acquire attempts to take the lock. Returns false when another holder has
// it; contention is an expected operational signal, not an error.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetIfAbsentWithTTL(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lock if this handle still owns it. Returns false when
// the lock already expired or was taken over.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if l.token == "" {
		return false, nil
	}
	token := l.token
	l.token = ""
	return l.cache.DelIfEqual(ctx, l.key, token)
}
