// Package lock provides a named, time-bounded mutual-exclusion lease used
// to serialize mutations of a single source feed's fan-out relationships.
package lock

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrNotAcquired is returned when the retry budget is exhausted without
// obtaining the lease.
var ErrNotAcquired = errors.New("lock not acquired within retry budget")

// Lease is a held lock. Unlock is safe to call exactly once, on success or
// failure paths alike.
type Lease interface {
	Unlock(ctx context.Context) error
}

// Locker acquires a lease on a named resource for a bounded duration. The
// lease expires on its own after the TTL; there is no renewal.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Options tune lease acquisition under contention.
type Options struct {
	// DriftFactor shortens the effective TTL to compensate for clock drift
	// between the engine and the lock store.
	DriftFactor float64
	// RetryCount is how many times acquisition is retried after the first
	// failed attempt.
	RetryCount int
	// RetryDelay is the base pause between attempts.
	RetryDelay time.Duration
	// RetryJitter is the maximum random addition to each pause.
	RetryJitter time.Duration
}

// DefaultOptions match the contention profile the engine was tuned for:
// short locked sections bounded by the copy limit.
func DefaultOptions() Options {
	return Options{
		DriftFactor: 0.01,
		RetryCount:  3,
		RetryDelay:  300 * time.Millisecond,
		RetryJitter: 200 * time.Millisecond,
	}
}

// acquirer is the single-attempt primitive a retrying locker is built on.
type acquirer interface {
	tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// acquireWithRetry runs the bounded retry loop shared by lock backends.
func acquireWithRetry(ctx context.Context, a acquirer, opts Options, key, token string, ttl time.Duration) error {
	effective := ttl - time.Duration(float64(ttl)*opts.DriftFactor)
	attempts := opts.RetryCount + 1
	for i := 0; i < attempts; i++ {
		ok, err := a.tryAcquire(ctx, key, token, effective)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if i == attempts-1 {
			break
		}
		delay := opts.RetryDelay
		if opts.RetryJitter > 0 {
			delay += time.Duration(rand.Int63n(int64(opts.RetryJitter)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return ErrNotAcquired
}
