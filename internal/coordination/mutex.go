// Package coordination provides distributed coordination primitives backed by
// Redis. The domain mutex serializes fetches for a registrable domain across
// worker processes. Mutual exclusion holds as long as Redis is single-node or
// leader-pinned; under partition the guarantee degrades to at most N holders
// per TTL, which is acceptable because fetch processing is idempotent.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMutexTTL is the default lock time-to-live.
	DefaultMutexTTL = 30 * time.Second

	// backoffInitial is the first retry delay for AcquireWithRetry.
	backoffInitial = 100 * time.Millisecond

	// backoffFactor multiplies the delay after each failed attempt.
	backoffFactor = 2

	// backoffCap bounds the retry delay.
	backoffCap = 10 * time.Second

	// backoffJitter is the fraction of the delay randomized in each direction.
	backoffJitter = 0.25

	// pollInterval bounds how long a blocked wait goes without checking the
	// context.
	pollInterval = 100 * time.Millisecond

	// lockKeyPrefix namespaces mutex keys in Redis.
	lockKeyPrefix = "lock:"
)

var (
	// ErrMutexNotAcquired is returned when the mutex cannot be acquired within
	// the retry budget.
	ErrMutexNotAcquired = errors.New("mutex not acquired")

	// ErrMutexNotHeld is returned when releasing a mutex that this owner does
	// not hold.
	ErrMutexNotHeld = errors.New("mutex not held")
)

// releaseScript deletes the lock key only when the stored owner token matches,
// so an expired-and-reacquired lock is never released by a stale owner.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript refreshes the TTL only while the caller still owns the lock.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Mutex is a distributed lock on a named resource.
type Mutex struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewMutex creates a mutex for the given resource with a fresh owner token.
// A zero ttl uses DefaultMutexTTL.
func NewMutex(client *redis.Client, resource string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = DefaultMutexTTL
	}

	return &Mutex{
		client: client,
		key:    lockKeyPrefix + resource,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryAcquire attempts to acquire the mutex without blocking.
func (m *Mutex) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := m.client.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire mutex: %w", err)
	}
	return ok, nil
}

// AcquireWithRetry blocks until the mutex is acquired, the deadline passes,
// or the context is cancelled. Retries use exponential backoff starting at
// 100 ms with factor 2, jitter of ±25%, capped at 10 s. The wait never goes
// more than 100 ms without observing cancellation.
func (m *Mutex) AcquireWithRetry(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	delay := backoffInitial

	for {
		acquired, err := m.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if waitErr := sleepWithContext(ctx, jittered(delay)); waitErr != nil {
			return fmt.Errorf("%w: %v", ErrMutexNotAcquired, waitErr)
		}

		delay *= backoffFactor
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// Release releases the mutex if held by this owner.
func (m *Mutex) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, m.client, []string{m.key}, m.token).Int()
	if err != nil {
		return fmt.Errorf("release mutex: %w", err)
	}
	if result == 0 {
		return ErrMutexNotHeld
	}
	return nil
}

// Extend refreshes the mutex TTL while still held.
func (m *Mutex) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, m.client, []string{m.key}, m.token, extension.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend mutex: %w", err)
	}
	if result == 0 {
		return ErrMutexNotHeld
	}
	return nil
}

// IsHeld reports whether this owner currently holds the mutex.
func (m *Mutex) IsHeld(ctx context.Context) (bool, error) {
	val, err := m.client.Get(ctx, m.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check mutex: %w", err)
	}
	return val == m.token, nil
}

// Token returns the owner token.
func (m *Mutex) Token() string {
	return m.token
}

// jittered randomizes d by ±backoffJitter.
func jittered(d time.Duration) time.Duration {
	spread := float64(d) * backoffJitter
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

// sleepWithContext sleeps for d in slices of at most pollInterval so
// cancellation is observed promptly.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	remaining := d

	for remaining > 0 {
		slice := remaining
		if slice > pollInterval {
			slice = pollInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(slice):
		}

		remaining -= slice
	}

	return nil
}
