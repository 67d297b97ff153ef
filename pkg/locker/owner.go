package locker

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
)

// ownerSuffix terminates every owner token.
const ownerSuffix = "1"

// Owner identifies the caller holding a lease.
type Owner struct {
	Host       string
	Addr       string
	CallerID   string
	CallerName string
}

// Token renders the value stored under the lock key:
// host_addr_callerID_callerName_1.
func (o Owner) Token() string {
	var sb strings.Builder
	for _, part := range []string{o.Host, o.Addr, o.CallerID, o.CallerName} {
		sb.WriteString(part)
		sb.WriteByte('_')
	}
	sb.WriteString(ownerSuffix)

	return sb.String()
}

var hostIdentity = sync.OnceValues(func() (string, string) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	return host, resolveHostAddr(host)
})

func resolveHostAddr(host string) string {
	ips, err := net.LookupIP(host)
	if err == nil {
		for _, ip := range ips {
			if ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
		if len(ips) > 0 {
			return ips[0].String()
		}
	}

	return "127.0.0.1"
}

// LocalOwner returns an Owner for this host and the given caller.
func LocalOwner(callerID, callerName string) Owner {
	host, addr := hostIdentity()

	return Owner{Host: host, Addr: addr, CallerID: callerID, CallerName: callerName}
}

// Caller names the logical caller of a guarded operation.
type Caller struct {
	ID   string
	Name string
}

type callerKey struct{}

// WithCaller attaches a caller identity to ctx. Guarded calls made with the
// returned context share one owner token.
func WithCaller(ctx context.Context, id, name string) context.Context {
	return context.WithValue(ctx, callerKey{}, Caller{ID: id, Name: name})
}

// CallerFrom returns the caller identity stored in ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)

	return c, ok
}

type lockerKey struct{}

// NewContext returns a context carrying the lock held by the current call.
func NewContext(ctx context.Context, l Locker) context.Context {
	return context.WithValue(ctx, lockerKey{}, l)
}

// FromContext returns the lock held by the innermost guarded call, if any.
func FromContext(ctx context.Context) (Locker, bool) {
	l, ok := ctx.Value(lockerKey{}).(Locker)

	return l, ok
}
