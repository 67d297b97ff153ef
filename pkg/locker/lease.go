package locker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultAcquireWait bounds AcquireInterruptibly and Lock.
const DefaultAcquireWait = 3 * time.Second

// maxRetryJitter bounds the random pause between acquisition attempts.
const maxRetryJitter = 100 * time.Millisecond

// ReleaseMode selects how a lease is released.
type ReleaseMode int

const (
	// ReleaseCheckThenDelete reads the owner and deletes in two commands.
	// The lease may expire and be re-acquired between them.
	ReleaseCheckThenDelete ReleaseMode = iota
	// ReleaseAtomic compares and deletes in a single server-side script.
	ReleaseAtomic
)

// ParseReleaseMode parses "check_then_delete" or "atomic".
func ParseReleaseMode(s string) (ReleaseMode, error) {
	switch strings.ToLower(s) {
	case "", "check_then_delete":
		return ReleaseCheckThenDelete, nil
	case "atomic":
		return ReleaseAtomic, nil
	default:
		return 0, fmt.Errorf("unknown release mode %q", s)
	}
}

// LeaseOption configures a Lease.
type LeaseOption func(*Lease)

// WithReleaseMode sets how the lease is released.
func WithReleaseMode(mode ReleaseMode) LeaseOption {
	return func(l *Lease) {
		l.mode = mode
	}
}

// WithLogger sets the lease logger.
func WithLogger(logger *zap.Logger) LeaseOption {
	return func(l *Lease) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Lease is a Locker backed by a single store key written with SET NX EX.
// The key expires after expireSeconds whether or not it is released.
type Lease struct {
	store         Store
	name          string
	value         string
	expireSeconds int64
	mode          ReleaseMode
	logger        *zap.Logger
}

// NewLease creates a Lease for name owned by owner.
func NewLease(store Store, name string, owner Owner, expireSeconds int64, opts ...LeaseOption) *Lease {
	l := &Lease{
		store:         store,
		name:          name,
		value:         owner.Token(),
		expireSeconds: expireSeconds,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LeaseFactory returns a Factory building leases on store.
func LeaseFactory(store Store, logger *zap.Logger, mode ReleaseMode) Factory {
	return func(name string, owner Owner, decl Declaration) Locker {
		return NewLease(store, name, owner, decl.ExpireSeconds,
			WithReleaseMode(mode),
			WithLogger(logger),
		)
	}
}

// Name returns the lease key.
func (l *Lease) Name() string {
	return l.name
}

// Value returns the owner token written under the key.
func (l *Lease) Value() string {
	return l.value
}

// TryAcquire issues one SET NX EX and reports whether it succeeded.
// Store failures count as not acquired.
func (l *Lease) TryAcquire(ctx context.Context) bool {
	return l.store.SetNXEX(ctx, l.name, l.value, l.expireSeconds)
}

// TryAcquireWait retries TryAcquire with random pauses of up to 100ms until
// it succeeds or wait elapses.
func (l *Lease) TryAcquireWait(ctx context.Context, wait time.Duration) (bool, error) {
	ok, err := spin(ctx, wait, func() bool { return l.TryAcquire(ctx) })
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Warn("lease wait timed out",
			zap.String("key", l.name),
			zap.Duration("wait", wait),
		)
	}

	return ok, nil
}

// Acquire behaves like TryAcquireWait but does not report success; callers
// check IsLocked. Only cancellation of ctx is returned as an error.
func (l *Lease) Acquire(ctx context.Context, wait time.Duration) error {
	_, err := spin(ctx, wait, func() bool { return l.TryAcquire(ctx) })

	return err
}

// AcquireInterruptibly is Acquire with DefaultAcquireWait.
func (l *Lease) AcquireInterruptibly(ctx context.Context) error {
	return l.Acquire(ctx, DefaultAcquireWait)
}

// Lock is the non-interruptible form of AcquireInterruptibly: cancellation
// of ctx ends the wait but is not reported.
func (l *Lease) Lock(ctx context.Context) {
	if err := l.AcquireInterruptibly(ctx); err != nil {
		l.logger.Debug("lease wait interrupted",
			zap.String("key", l.name),
			zap.Error(err),
		)
	}
}

// IsLocked reports whether the key exists, regardless of owner.
func (l *Lease) IsLocked(ctx context.Context) bool {
	return l.store.Exists(ctx, l.name)
}

// Release deletes the key if it still holds this lease's token.
func (l *Lease) Release(ctx context.Context) {
	if ReleaseOwned(ctx, l.store, l.name, l.value, l.mode) {
		l.logger.Debug("lease released", zap.String("key", l.name))

		return
	}

	l.logger.Debug("lease not owned or already expired", zap.String("key", l.name))
}

// NewCondition is not supported by leases.
func (l *Lease) NewCondition() (*sync.Cond, error) {
	return nil, ErrUnsupportedOperation
}

// ReleaseOwned deletes key when its value equals token, ignoring case, and
// reports whether it did.
func ReleaseOwned(ctx context.Context, store Store, key, token string, mode ReleaseMode) bool {
	if mode == ReleaseAtomic {
		return store.CompareAndDelete(ctx, key, token)
	}

	current := store.Get(ctx, key)
	if current == "" || !strings.EqualFold(current, token) {
		return false
	}

	return store.Del(ctx, key) > 0
}

// spin calls try until it returns true or wait elapses, pausing a random
// 0-100ms between attempts. It returns ctx.Err() once ctx is done.
func spin(ctx context.Context, wait time.Duration, try func() bool) (bool, error) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if try() {
			return true, nil
		}

		timer := time.NewTimer(time.Duration(rand.Int63n(int64(maxRetryJitter))))
		select {
		case <-ctx.Done():
			timer.Stop()

			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return false, nil
}
