// Package guard wraps operations with distributed lock semantics.
//
// A wrapped operation acquires its lock before running, consults the
// declaration's rejection policy when the lock is held elsewhere, and
// releases the lock afterwards according to the lock type:
//
//	submit := guard.MustWrap(g,
//	    guard.Method{Type: "Orders", Name: "Submit", Params: []string{"id"}},
//	    locker.NewDeclaration(
//	        locker.WithName("#id"),
//	        locker.WithType(locker.Hold),
//	        locker.WithRejectPolicy(locker.RepeatAbort),
//	        locker.WithBlocking(false),
//	    ),
//	    func(ctx context.Context, args ...any) (*Receipt, error) { ... },
//	)
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"dslock/internal/metrics"
	"dslock/pkg/keyexpr"
	"dslock/pkg/locker"
)

var tracer = otel.Tracer("dslock/pkg/guard")

// DefaultKeyPrefix starts every lock key.
const DefaultKeyPrefix = "lock"

// Method identifies the guarded operation. Params name the positional
// arguments so name expressions can refer to them.
type Method struct {
	Type   string
	Name   string
	Params []string
}

// String returns "Type.Name".
func (m Method) String() string {
	return m.Type + "." + m.Name
}

// Func is a guarded operation.
type Func[T any] func(ctx context.Context, args ...any) (T, error)

// Option configures a Guard.
type Option func(*Guard)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(g *Guard) { g.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithOwnerFunc overrides how the owner token of a call is derived.
func WithOwnerFunc(fn func(ctx context.Context, m Method) locker.Owner) Option {
	return func(g *Guard) { g.owner = fn }
}

// Guard holds what wrapped operations share: the lock factory, the
// expression evaluator and the logger.
type Guard struct {
	factory locker.Factory
	eval    *keyexpr.Evaluator
	prefix  string
	owner   func(ctx context.Context, m Method) locker.Owner
	logger  *zap.Logger
}

// New creates a Guard.
func New(factory locker.Factory, eval *keyexpr.Evaluator, opts ...Option) *Guard {
	g := &Guard{
		factory: factory,
		eval:    eval,
		prefix:  DefaultKeyPrefix,
		owner:   defaultOwner,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// defaultOwner uses the caller stored in ctx, or a fresh id named after the
// method.
func defaultOwner(ctx context.Context, m Method) locker.Owner {
	if c, ok := locker.CallerFrom(ctx); ok {
		return locker.LocalOwner(c.ID, c.Name)
	}

	return locker.LocalOwner(uuid.NewString(), m.String())
}

// Wrap returns fn guarded by decl. It fails when decl is invalid or its name
// expression does not compile.
func Wrap[T any](g *Guard, m Method, decl locker.Declaration, fn Func[T]) (Func[T], error) {
	if err := decl.Validate(); err != nil {
		return nil, fmt.Errorf("guarding %s: %w", m, err)
	}
	if decl.Name != "" {
		if g.eval == nil {
			return nil, fmt.Errorf("guarding %s: name expression set without an evaluator", m)
		}
		if _, err := g.eval.Compile(decl.Name); err != nil {
			return nil, fmt.Errorf("guarding %s: %w", m, err)
		}
	}

	return func(ctx context.Context, args ...any) (T, error) {
		return invoke(ctx, g, m, decl, fn, args)
	}, nil
}

// MustWrap is like Wrap but panics on error.
func MustWrap[T any](g *Guard, m Method, decl locker.Declaration, fn Func[T]) Func[T] {
	wrapped, err := Wrap(g, m, decl, fn)
	if err != nil {
		panic(err)
	}

	return wrapped
}

// Key builds the lock key for a call of m with args.
func (g *Guard) Key(m Method, decl locker.Declaration, args []any) (string, error) {
	var suffix string
	if decl.Name == "" {
		suffix = uuid.NewString()
	} else {
		params := make(map[string]any, len(m.Params))
		for i, name := range m.Params {
			if i < len(args) {
				params[name] = args[i]
			}
		}

		resolved, err := g.eval.Evaluate(decl.Name, params)
		if err != nil {
			return "", err
		}
		suffix = resolved
	}

	return strings.Join([]string{g.prefix, m.Type, m.Name, suffix}, "."), nil
}

func invoke[T any](ctx context.Context, g *Guard, m Method, decl locker.Declaration, fn Func[T], args []any) (result T, err error) {
	start := time.Now()
	defer func() {
		metrics.GuardDuration.WithLabelValues(m.String()).Observe(time.Since(start).Seconds())
	}()

	key, err := g.Key(m, decl, args)
	if err != nil {
		return result, fmt.Errorf("resolving lock key for %s: %w", m, err)
	}

	ctx, span := tracer.Start(ctx, "guard."+m.String(), trace.WithAttributes(
		attribute.String("dslock.key", key),
		attribute.String("dslock.type", decl.Type.String()),
		attribute.String("dslock.policy", decl.RejectPolicy.String()),
		attribute.Bool("dslock.blocking", decl.Blocking),
	))
	defer span.End()

	logger := g.logger.With(zap.String("key", key), zap.String("operation", m.String()))
	lock := g.factory(key, g.owner(ctx, m), decl)

	acquired, err := acquire(ctx, lock, decl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock wait cancelled")
		logger.Debug("lock wait cancelled", zap.Error(err))

		return result, fmt.Errorf("waiting for lock %s: %w", key, err)
	}

	if !acquired {
		metrics.AcquireCounter.WithLabelValues("rejected").Inc()
		metrics.RejectCounter.WithLabelValues(decl.RejectPolicy.String()).Inc()
		span.AddEvent("rejected")

		outcome := decl.RejectPolicy.Resolve(decl, locker.RejectContext{
			Key:       key,
			Operation: m.String(),
			Logger:    logger,
		})
		if outcome.Skipped() {
			return result, nil
		}
		span.SetStatus(codes.Error, outcome.Err.Error())

		return result, outcome.Err
	}

	metrics.AcquireCounter.WithLabelValues("acquired").Inc()
	span.AddEvent("locked")
	logger.Debug("lock acquired")

	defer func() {
		if r := recover(); r != nil {
			release(ctx, lock, logger, "panic")
			panic(r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "guarded call failed")
			release(ctx, lock, logger, "failed")

			return
		}
		if decl.Type == locker.Auto {
			release(ctx, lock, logger, "completed")

			return
		}
		logger.Debug("lock held until lease expiry", zap.Int64("expire_seconds", decl.ExpireSeconds))
	}()

	return fn(locker.NewContext(ctx, lock), args...)
}

func acquire(ctx context.Context, lock locker.Locker, decl locker.Declaration) (bool, error) {
	if !decl.Blocking {
		return lock.TryAcquire(ctx), nil
	}

	return lock.TryAcquireWait(ctx, decl.WaitTimeout)
}

// release uses a context detached from cancellation so a cancelled caller
// still frees its lock.
func release(ctx context.Context, lock locker.Locker, logger *zap.Logger, reason string) {
	lock.Release(context.WithoutCancel(ctx))
	metrics.ReleaseCounter.WithLabelValues(reason).Inc()
	logger.Debug("lock released", zap.String("reason", reason))
}
