package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock provides distributed locking using Redis. It is used to make sure
// periodic jobs (room cleanup, migrations) run on a single instance.
type Lock struct {
	client    *redis.Client
	key       string
	value     string // Unique identifier for this lock holder
	ttl       time.Duration
	stopRenew chan struct{}
	stopOnce  sync.Once
}

// NewLock creates a new distributed lock
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client:    client,
		key:       key,
		value:     generateLockValue(),
		ttl:       ttl,
		stopRenew: make(chan struct{}),
	}
}

// generateLockValue generates a unique value for the lock
func generateLockValue() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryLock attempts to acquire the lock without blocking. On success a
// renewal goroutine keeps the lock alive until Unlock.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}

	if acquired {
		go l.renewLock(ctx)
		return true, nil
	}

	return false, nil
}

// Lock acquires the lock, blocking until it is available or the timeout
// elapses. A zero timeout uses a 30s default.
func (l *Lock) Lock(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}

		if acquired {
			go l.renewLock(ctx)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("lock acquisition timeout")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			// Retry
		}
	}
}

// Unlock releases the lock. Safe to call more than once.
func (l *Lock) Unlock(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopRenew)
	})

	// Only delete the lock if it is still ours
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if result.(int64) == 0 {
		return fmt.Errorf("lock was not held by this instance")
	}

	return nil
}

// renewLock periodically renews the lock to prevent expiration
func (l *Lock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2) // Renew at half TTL
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			currentValue, err := l.client.Get(ctx, l.key).Result()
			if err != nil {
				// redis.Nil means the lock was released; any other
				// error also stops renewal
				return
			}

			if currentValue != l.value {
				// Someone else has the lock
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)

		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		}
	}
}

// IsLocked checks if the lock is currently held by anyone
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// LockManager creates locks under a common key prefix
type LockManager struct {
	client *redis.Client
	prefix string
}

// NewLockManager creates a new lock manager
func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

// AcquireLock builds a lock for the given key under the manager's prefix
func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *Lock {
	return NewLock(lm.client, lm.prefix+key, ttl)
}
