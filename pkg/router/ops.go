package router

import (
	"context"
	"strconv"
	"time"
)

// compareAndDeleteScript deletes KEYS[1] only when its value matches ARGV[1],
// compared case-insensitively.
const compareAndDeleteScript = `
local current = redis.call("GET", KEYS[1])
if current and string.lower(current) == string.lower(ARGV[1]) then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// SetNXEX sets key to value only if it does not exist, with an expiry in
// whole seconds. It returns true when the key was set.
func (r *Router) SetNXEX(ctx context.Context, key, value string, seconds int64) bool {
	return r.Execute(ctx, "set", key, value, "NX", "EX", seconds).Bool()
}

// Set stores value under key. A zero ttl stores it without expiry.
func (r *Router) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if ttl > 0 {
		return r.Execute(ctx, "set", key, value, "PX", ttl.Milliseconds()).Bool()
	}

	return r.Execute(ctx, "set", key, value).Bool()
}

// Get returns the value of key, or "" when missing.
func (r *Router) Get(ctx context.Context, key string) string {
	return r.Execute(ctx, "get", key).String()
}

// Exists reports whether key exists.
func (r *Router) Exists(ctx context.Context, key string) bool {
	return r.Execute(ctx, "exists", key).Int64() > 0
}

// Del removes keys and returns how many existed.
func (r *Router) Del(ctx context.Context, keys ...string) int64 {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	return r.Execute(ctx, "del", args...).Int64()
}

// TTL returns the remaining time to live of key. Negative values follow
// Redis: -1 for no expiry, -2 for a missing key. Failures return 0.
func (r *Router) TTL(ctx context.Context, key string) time.Duration {
	n := r.Execute(ctx, "ttl", key).Int64()
	if n < 0 {
		return time.Duration(n)
	}

	return time.Duration(n) * time.Second
}

// Type returns the Redis type of key ("none" when missing).
func (r *Router) Type(ctx context.Context, key string) string {
	return r.Execute(ctx, "type", key).String()
}

// StrLen returns the length of the string stored at key.
func (r *Router) StrLen(ctx context.Context, key string) int64 {
	return r.Execute(ctx, "strlen", key).Int64()
}

// Expire sets a timeout in whole seconds on key.
func (r *Router) Expire(ctx context.Context, key string, seconds int64) bool {
	return r.Execute(ctx, "expire", key, seconds).Bool()
}

// HSet writes field/value pairs into the hash at key.
func (r *Router) HSet(ctx context.Context, key string, fields map[string]string) int64 {
	args := make([]any, 0, 1+2*len(fields))
	args = append(args, key)
	for f, v := range fields {
		args = append(args, f, v)
	}

	return r.Execute(ctx, "hset", args...).Int64()
}

// HIncrBy increments field of the hash at key by n and returns the new value.
func (r *Router) HIncrBy(ctx context.Context, key, field string, n int64) int64 {
	return r.Execute(ctx, "hincrby", key, field, n).Int64()
}

// HGetAll returns all fields of the hash at key.
func (r *Router) HGetAll(ctx context.Context, key string) map[string]string {
	return r.Execute(ctx, "hgetall", key).StringMap()
}

// CompareAndDelete atomically deletes key when its value equals value.
func (r *Router) CompareAndDelete(ctx context.Context, key, value string) bool {
	return r.Execute(ctx, "eval", compareAndDeleteScript, 1, key, value).Int64() == 1
}

// ScanKeys iterates the keyspace with SCAN and returns every key matching
// pattern. It stops early when the context is done.
func (r *Router) ScanKeys(ctx context.Context, pattern string, count int64) []string {
	var keys []string
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return keys
		}

		reply := r.Execute(ctx, "scan", cursor, "MATCH", pattern, "COUNT", count)
		parts, ok := reply.Value().([]any)
		if !ok || len(parts) != 2 {
			return keys
		}

		cursor = Reply{val: parts[0]}.String()
		keys = append(keys, Reply{val: parts[1]}.Strings()...)
		if next, err := strconv.ParseInt(cursor, 10, 64); err != nil || next == 0 {
			return keys
		}
	}
}
