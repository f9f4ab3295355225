package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OrderTransitionLockKey builds the redis key serialising status transitions of one order.
func OrderTransitionLockKey(orderID int64) string {
	return fmt.Sprintf("orders:%d:confirm:lock", orderID)
}

// BranchIndexLockKey guards the geo index rebuild.
func BranchIndexLockKey() string {
	return "branches:geo:lock"
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Locker hands out short-lived exclusive locks stored in Redis.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lock is a held lock; Release must be called once.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the lock or returns ErrLockNotAcquired when it is already held.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return &Lock{key: key}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release frees the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// Extend resets the lock's TTL. It returns ErrLockNotAcquired when the lock expired or was taken
// over by another holder.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if l == nil || l.client == nil {
		return nil
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("shared: extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s lost", ErrLockNotAcquired, l.key)
	}
	return nil
}

// KeepAlive extends the lock every ttl/3 until the returned stop function is called. Renewal
// runs detached from ctx's cancellation; a lost lock ends it and is passed to onLost.
func (l *Lock) KeepAlive(ctx context.Context, ttl time.Duration, onLost func(error)) (stop func()) {
	if l == nil || l.client == nil || ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Extend(ctx, ttl); err != nil {
					if ctx.Err() != nil {
						return
					}
					if errors.Is(err, ErrLockNotAcquired) {
						if onLost != nil {
							onLost(err)
						}
						return
					}
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
