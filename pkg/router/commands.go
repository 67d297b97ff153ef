package router

import "strings"

// Role identifies which pool serves a command.
type Role int

const (
	// RolePrimary is the writable pool.
	RolePrimary Role = iota
	// RoleReplica is the read-only pool.
	RoleReplica
)

// String returns the pool label used in logs and metrics.
func (r Role) String() string {
	if r == RoleReplica {
		return "replica"
	}

	return "primary"
}

// readOnlyCommands lists the commands that are safe to serve from a replica.
// Anything not listed goes to the primary pool.
var readOnlyCommands = map[string]struct{}{
	"get":              {},
	"exists":           {},
	"type":             {},
	"ttl":              {},
	"getbit":           {},
	"getrange":         {},
	"substr":           {},
	"hget":             {},
	"hmget":            {},
	"hexists":          {},
	"hlen":             {},
	"hkeys":            {},
	"hvals":            {},
	"hgetall":          {},
	"llen":             {},
	"lrange":           {},
	"lindex":           {},
	"smembers":         {},
	"scard":            {},
	"sismember":        {},
	"srandmember":      {},
	"strlen":           {},
	"zrange":           {},
	"zrank":            {},
	"zrevrank":         {},
	"zcard":            {},
	"zscore":           {},
	"sort":             {},
	"zcount":           {},
	"zrangebyscore":    {},
	"zrevrangebyscore": {},
	"zlexcount":        {},
	"zrangebylex":      {},
	"zrevrangebylex":   {},
	"echo":             {},
	"bitcount":         {},
	"hscan":            {},
	"sscan":            {},
	"zscan":            {},
	"pfcount":          {},
}

// RoleFor classifies a command name. Matching is case-insensitive.
func RoleFor(command string) Role {
	if _, ok := readOnlyCommands[strings.ToLower(command)]; ok {
		return RoleReplica
	}

	return RolePrimary
}
