package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the wait budget elapses before the key is free.
var ErrNotAcquired = errors.New("lock not acquired")

const pollInterval = 25 * time.Millisecond

// Locker grants mutually exclusive ownership of a key.
type Locker interface {
	// Acquire blocks until the key is owned, ctx is done or wait elapses.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(), err error)
}

// RedisLock implements Locker on top of SET NX PX with an owner token, so a
// holder whose TTL expired cannot release somebody else's lock.
type RedisLock struct {
	client *redis.Client
	prefix string
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// NewRedisLock wraps an existing client.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, prefix: "lock:"}
}

// Acquire polls SETNX until it succeeds or the wait budget is spent.
func (r *RedisLock) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	const op = "lock.RedisLock.Acquire"

	lockKey := r.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// release must survive a cancelled request context
					releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = unlockScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err()
				})
			}, nil
		}
		if err := sleep(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

// LocalLock is an in-process Locker used when Redis is not configured.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLock builds an empty keyed mutex.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]chan struct{})}
}

// Acquire waits for the key's current holder to release. ttl is ignored because
// holders live in the same process.
func (l *LocalLock) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (func(), error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrNotAcquired
		}
	}
}

func sleep(ctx context.Context, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return ErrNotAcquired
	}
	step := pollInterval
	if remaining < step {
		step = remaining
	}
	t := time.NewTimer(step)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
