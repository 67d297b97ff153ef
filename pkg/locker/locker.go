// Package locker provides lease-based distributed locks for coordinating
// operations across goroutines and service instances.
package locker

import (
	"context"
	"time"
)

// Locker is a single named distributed lock bound to one owner token.
// Implementations must be safe for concurrent use.
//
// Typical usage:
//
//	l := locker.NewLease(store, "lock.orders.42", owner, 10)
//	if !l.TryAcquire(ctx) {
//	    // Another owner holds the lease
//	    return nil
//	}
//	defer l.Release(ctx)
//
//	// Perform work while holding the lease
type Locker interface {
	// Name returns the store key of the lock.
	Name() string

	// TryAcquire makes a single acquisition attempt.
	TryAcquire(ctx context.Context) bool

	// TryAcquireWait retries until the lock is acquired or wait elapses.
	// It returns the context error if ctx is cancelled while waiting.
	TryAcquireWait(ctx context.Context, wait time.Duration) (bool, error)

	// IsLocked reports whether anyone currently holds the lock.
	IsLocked(ctx context.Context) bool

	// Release gives the lock up if this owner still holds it.
	Release(ctx context.Context)
}

// Store is the subset of store commands a Lease needs. It is satisfied by
// *router.Router.
type Store interface {
	SetNXEX(ctx context.Context, key, value string, seconds int64) bool
	Get(ctx context.Context, key string) string
	Exists(ctx context.Context, key string) bool
	Del(ctx context.Context, keys ...string) int64
	CompareAndDelete(ctx context.Context, key, value string) bool
}

// Factory builds the Locker guarding one call.
type Factory func(name string, owner Owner, decl Declaration) Locker
