package domain

import (
	"context"
	"time"
)

// KeyValueStore is the store surface used by the application services.
// Implementations: pkg/router (Router)
type KeyValueStore interface {
	// HSet writes fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) int64

	// HIncrBy increments a hash field and returns the new value.
	HIncrBy(ctx context.Context, key, field string, n int64) int64

	// HGetAll reads the hash at key. Missing keys yield an empty map.
	HGetAll(ctx context.Context, key string) map[string]string

	// Expire sets a timeout in whole seconds on key.
	Expire(ctx context.Context, key string, seconds int64) bool

	// Get returns the string at key, or "".
	Get(ctx context.Context, key string) string

	// Exists reports whether key exists.
	Exists(ctx context.Context, key string) bool

	// TTL returns the remaining lifetime of key.
	TTL(ctx context.Context, key string) time.Duration

	// ScanKeys returns all keys matching pattern.
	ScanKeys(ctx context.Context, pattern string, count int64) []string
}

// Pinger checks store reachability.
// Implementations: pkg/router (Router)
type Pinger interface {
	Ping(ctx context.Context) error
}
