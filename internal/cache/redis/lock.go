package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oddslane/hedgebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes a lock key only when its value matches the caller's
// token, so one holder can never release a lock that has since passed to
// another.
const releaseLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// releaseTimeout bounds the unlock call once the holder's own context is
// gone.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SETNX plus TTL and a
// token-checked Lua release. Scheduled jobs take a lock per job name, which
// turns a second concurrent trigger into a clean no-op across replicas.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire obtains a distributed lock for key with the given TTL and returns
// an unlock function, which is safe to call more than once. A lock already
// held elsewhere yields domain.ErrLockHeld. The TTL must be positive so a
// crashed holder cannot pin the lock forever.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: lock %s: ttl must be positive", key)
	}

	token := uuid.New().String()
	lk := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context is often cancelled by the time the
			// deferred unlock runs, so release under a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			_ = lm.release.Run(releaseCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}
