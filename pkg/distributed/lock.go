package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrNotHeld     = errors.New("lock was not held by this instance")
)

const defaultLockTimeout = 30 * time.Second

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// DistributedLock is a Redis lease renewed in the background while held.
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string // unique per holder
	ttl    time.Duration

	mu     sync.Mutex
	held   bool
	stop   chan struct{}
	lost   chan struct{}
	stopWg sync.WaitGroup
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    key,
		value:  generateLockValue(),
		ttl:    ttl,
	}
}

func generateLockValue() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Key returns the Redis key of the lock.
func (l *DistributedLock) Key() string {
	return l.key
}

// Lock blocks until the lock is acquired, the default timeout passes or ctx is done.
func (l *DistributedLock) Lock(ctx context.Context) error {
	return l.LockWithTimeout(ctx, 0)
}

func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return true, nil
	}

	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	l.held = true
	l.stop = make(chan struct{})
	l.lost = make(chan struct{})
	l.stopWg.Add(1)
	go l.renewLock(l.stop, l.lost)
	return true, nil
}

// Lost is closed when renewal finds the lease taken by someone else or expired.
// It is nil before the lock is first acquired.
func (l *DistributedLock) Lost() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

// Unlock releases the lock if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return ErrNotHeld
	}
	l.held = false
	close(l.stop)
	l.mu.Unlock()
	l.stopWg.Wait()

	result, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if result == 0 {
		return ErrNotHeld
	}
	return nil
}

// renewLock extends the lease at half its TTL. The background context keeps
// renewal independent of the acquiring request.
func (l *DistributedLock) renewLock(stop <-chan struct{}, lost chan<- struct{}) {
	defer l.stopWg.Done()

	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			ok, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				// transient; the next tick retries before the lease runs out
				continue
			}
			if ok == 0 {
				close(lost)
				return
			}
		}
	}
}

// IsLocked reports whether anyone holds the lock.
func (l *DistributedLock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, ttl)
}
