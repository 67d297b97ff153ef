// Package router fronts a primary/replica Redis deployment. Read-only
// commands are sent to the replica pool, everything else to the primary.
// Store failures are logged and absorbed: callers always get a Reply whose
// accessors fall back to zero values.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"dslock/internal/metrics"
)

// ErrStoreUnavailable marks a command that could not reach the store. It is
// only ever logged; command helpers degrade to zero values instead.
var ErrStoreUnavailable = errors.New("store unavailable")

// PoolConfig addresses a single Redis node.
type PoolConfig struct {
	Addr     string
	Password string
	DB       int
}

// BreakerConfig holds circuit breaker settings applied to each pool.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// Config holds router configuration. Pool sizing applies to both pools.
type Config struct {
	Primary PoolConfig
	// Replica is optional; when Addr is empty the primary serves reads too.
	Replica PoolConfig

	PoolSize     int
	MinIdleConns int
	MaxIdleConns int
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Breaker BreakerConfig
}

type pool struct {
	role    Role
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[any]
}

// Router routes commands to the primary or replica pool.
type Router struct {
	primary *pool
	replica *pool
	logger  *zap.Logger
}

// New creates a Router. Connections are established lazily by go-redis.
func New(cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{logger: logger}
	r.primary = newPool(RolePrimary, cfg, cfg.Primary, logger)
	if cfg.Replica.Addr == "" || cfg.Replica.Addr == cfg.Primary.Addr {
		r.replica = r.primary
	} else {
		r.replica = newPool(RoleReplica, cfg, cfg.Replica, logger)
	}

	return r
}

func newPool(role Role, cfg Config, node PoolConfig, logger *zap.Logger) *pool {
	opts := &redis.Options{
		Addr:            node.Addr,
		DB:              node.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
	}
	// An empty password means no AUTH.
	if node.Password != "" {
		opts.Password = node.Password
	}

	return &pool{
		role:    role,
		client:  redis.NewClient(opts),
		breaker: newBreaker(role, cfg.Breaker, logger),
	}
}

func newBreaker(role Role, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}

	settings := gobreaker.Settings{
		Name:        "redis-" + role.String(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.FailureRatio <= 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= minRequests && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.BreakerStateGauge.WithLabelValues(role.String()).Set(float64(to))
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Caller cancellation says nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}

	return gobreaker.NewCircuitBreaker[any](settings)
}

// PrimaryOnly returns a view of the router that sends every command,
// reads included, to the primary pool.
func (r *Router) PrimaryOnly() *Router {
	return &Router{primary: r.primary, replica: r.primary, logger: r.logger}
}

func (r *Router) poolFor(command string) *pool {
	if RoleFor(command) == RoleReplica {
		return r.replica
	}

	return r.primary
}

// Execute runs a command on the pool its name maps to. A missing key and any
// failure both produce an empty Reply; failures are logged and counted.
func (r *Router) Execute(ctx context.Context, command string, args ...any) Reply {
	p := r.poolFor(command)
	metrics.StoreCommandCounter.WithLabelValues(p.role.String()).Inc()

	cmdArgs := make([]any, 0, len(args)+1)
	cmdArgs = append(cmdArgs, command)
	cmdArgs = append(cmdArgs, args...)

	val, err := p.breaker.Execute(func() (any, error) {
		v, err := p.client.Do(ctx, cmdArgs...).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		metrics.StoreFailureCounter.WithLabelValues(p.role.String(), command).Inc()
		r.logger.Error("store command failed",
			zap.String("command", command),
			zap.String("pool", p.role.String()),
			zap.Error(err),
		)

		return Reply{}
	}

	return Reply{val: val}
}

// Ping checks both pools. Unlike Execute, it reports failures.
func (r *Router) Ping(ctx context.Context) error {
	if err := r.primary.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping primary: %w", err)
	}
	if r.replica != r.primary {
		if err := r.replica.client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping replica: %w", err)
		}
	}

	return nil
}

// Stats returns connection pool statistics keyed by pool role.
func (r *Router) Stats() map[string]*redis.PoolStats {
	stats := map[string]*redis.PoolStats{
		RolePrimary.String(): r.primary.client.PoolStats(),
	}
	if r.replica != r.primary {
		stats[RoleReplica.String()] = r.replica.client.PoolStats()
	}

	return stats
}

// Client returns the underlying client of the primary pool.
func (r *Router) Client() *redis.Client {
	return r.primary.client
}

// Close closes both pools.
func (r *Router) Close() error {
	err := r.primary.client.Close()
	if r.replica != r.primary {
		err = errors.Join(err, r.replica.client.Close())
	}

	return err
}
