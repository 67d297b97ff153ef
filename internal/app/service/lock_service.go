// Package service implements the application services exposed over HTTP.
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"dslock/internal/domain"
	"dslock/pkg/locker"
)

// LockService inspects and administers lock keys.
type LockService struct {
	store  domain.KeyValueStore
	locks  locker.Store
	prefix string
	mode   locker.ReleaseMode
	logger *zap.Logger
}

// NewLockService creates a LockService. store serves inspection reads,
// locks serves owner-checked releases.
func NewLockService(
	store domain.KeyValueStore,
	locks locker.Store,
	prefix string,
	mode locker.ReleaseMode,
	logger *zap.Logger,
) *LockService {
	return &LockService{
		store:  store,
		locks:  locks,
		prefix: prefix,
		mode:   mode,
		logger: logger,
	}
}

// Key qualifies name with the lock prefix unless it already carries it.
func (s *LockService) Key(name string) string {
	if strings.HasPrefix(name, s.prefix+".") {
		return name
	}

	return s.prefix + "." + name
}

// Status returns a snapshot of the lock named name.
func (s *LockService) Status(ctx context.Context, name string) domain.LockStatus {
	key := s.Key(name)
	status := domain.LockStatus{Key: key}
	if !s.store.Exists(ctx, key) {
		return status
	}

	status.Locked = true
	status.Owner = s.store.Get(ctx, key)
	status.TTL = s.store.TTL(ctx, key)

	return status
}

// Release deletes the lock if owner still holds it.
func (s *LockService) Release(ctx context.Context, name, owner string) bool {
	key := s.Key(name)
	released := locker.ReleaseOwned(ctx, s.locks, key, owner, s.mode)

	s.logger.Info("administrative lock release",
		zap.String("key", key),
		zap.Bool("released", released),
	)

	return released
}

// Count returns the number of live lock keys.
func (s *LockService) Count(ctx context.Context, scanCount int64) int {
	return len(s.store.ScanKeys(ctx, s.prefix+".*", scanCount))
}
