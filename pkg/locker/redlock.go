package locker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redlock is a Locker built on a Redsync mutex.
//
// Redsync implements the Redlock algorithm as described in Redis documentation:
// https://redis.io/docs/latest/develop/use/patterns/distributed-locks/
//
// The mutex value is the caller's owner token, so keys written by Redlock
// and by Lease are interchangeable. Release is always token-checked and
// atomic.
type Redlock struct {
	mutex  *redsync.Mutex
	store  Store
	logger *zap.Logger
}

// RedlockFactory returns a Factory building Redsync mutexes on client.
// store answers IsLocked.
func RedlockFactory(client redis.UniversalClient, store Store, logger *zap.Logger) Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	rs := redsync.New(goredis.NewPool(client))

	return func(name string, owner Owner, decl Declaration) Locker {
		token := owner.Token()
		mutex := rs.NewMutex(
			name,
			redsync.WithExpiry(time.Duration(decl.ExpireSeconds)*time.Second),
			redsync.WithTries(1), // retries are driven by TryAcquireWait
			redsync.WithGenValueFunc(func() (string, error) { return token, nil }),
		)

		return &Redlock{mutex: mutex, store: store, logger: logger}
	}
}

// Name returns the mutex key.
func (r *Redlock) Name() string {
	return r.mutex.Name()
}

// TryAcquire makes a single lock attempt.
// Contention and store errors both report false.
func (r *Redlock) TryAcquire(ctx context.Context) bool {
	err := r.mutex.TryLockContext(ctx)
	if err == nil {
		r.logger.Debug("redlock acquired", zap.String("key", r.Name()))

		return true
	}

	// Redsync reports contention either as ErrFailed or as a wrapped
	// "lock already taken, locked nodes: [X]" error.
	if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
		r.logger.Debug("redlock held by another owner", zap.String("key", r.Name()))
	} else {
		r.logger.Error("redlock acquire failed", zap.String("key", r.Name()), zap.Error(err))
	}

	return false
}

// TryAcquireWait retries TryAcquire with random pauses until wait elapses.
func (r *Redlock) TryAcquireWait(ctx context.Context, wait time.Duration) (bool, error) {
	return spin(ctx, wait, func() bool { return r.TryAcquire(ctx) })
}

// IsLocked reports whether the key exists, regardless of owner.
func (r *Redlock) IsLocked(ctx context.Context) bool {
	return r.store.Exists(ctx, r.Name())
}

// Release unlocks the mutex if it still carries this owner's token.
func (r *Redlock) Release(ctx context.Context) {
	ok, err := r.mutex.UnlockContext(ctx)
	switch {
	case err != nil && !errors.Is(err, redsync.ErrLockAlreadyExpired):
		r.logger.Warn("redlock release failed", zap.String("key", r.Name()), zap.Error(err))
	case ok:
		r.logger.Debug("redlock released", zap.String("key", r.Name()))
	default:
		r.logger.Debug("redlock not owned or already expired", zap.String("key", r.Name()))
	}
}
