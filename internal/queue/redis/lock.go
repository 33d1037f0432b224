package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// releaseLua deletes the lock key only while it still carries the holder's
// token. An expired lock that another replica has since re-acquired keeps
// its new owner's token and survives the old holder's release.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locks hands out the distributed locks the scheduler and sweeper ticks
// serialize on. A lock is a SETNX key under the "mforge:lock:" prefix whose
// value is a per-acquisition token; the TTL bounds how long a crashed
// holder can block the next tick.
type Locks struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLocks creates the lock manager on the shared connection.
func NewLocks(c *Client) *Locks {
	return &Locks{rdb: c.DB(), release: redis.NewScript(releaseLua)}
}

// Acquire takes the named lock for at most ttl, returning ErrLockHeld when
// another holder has it. The returned func releases the lock and may be
// called any number of times, from any goroutine.
func (l *Locks) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := "mforge:lock:" + name
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Detached from the caller's context: a cancelled tick must
			// still give the lock back.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.release.Run(rctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*Locks)(nil)
