package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token, so a
// holder whose lease expired can not release a successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// lockRetryInterval is how often Acquire polls a held lock.
const lockRetryInterval = 25 * time.Millisecond

// LockManager implements domain.LockManager using Redis SET NX with a TTL and
// a Lua-based conditional unlock. Instances sharing one Redis serialise calls
// against the same contract.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	retry    time.Duration
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		retry:    lockRetryInterval,
	}
}

// TryAcquire makes a single attempt. It returns domain.ErrLockHeld if another
// holder owns the key.
func (lm *LockManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Detached from the caller's context so the lock is released even
			// after a cancelled request.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Acquire waits until the lock for key is obtained or ctx is done. The
// returned unlock function is safe to call more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		unlock, err := lm.TryAcquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		timer := time.NewTimer(lm.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: acquire lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
