package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dslock/pkg/keyexpr"
	"dslock/pkg/locker"
	"dslock/pkg/router"
)

var submitMethod = Method{Type: "Orders", Name: "Submit", Params: []string{"id"}}

func setupTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := router.New(router.Config{Primary: router.PoolConfig{Addr: mr.Addr()}}, zap.NewNop())
	eval, err := keyexpr.New(keyexpr.DefaultConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		eval.Close()
	})

	factory := locker.LeaseFactory(store, zap.NewNop(), locker.ReleaseCheckThenDelete)

	return New(factory, eval, WithLogger(zap.NewNop())), mr
}

// blockingOp returns an operation that signals entered and then waits for
// release before returning "done".
func blockingOp(entered chan<- struct{}, release <-chan struct{}) Func[string] {
	return func(ctx context.Context, args ...any) (string, error) {
		entered <- struct{}{}
		<-release

		return "done", nil
	}
}

func okOp(calls *atomic.Int32) Func[string] {
	return func(ctx context.Context, args ...any) (string, error) {
		calls.Add(1)

		return "ok", nil
	}
}

func TestGuard_Key(t *testing.T) {
	g, _ := setupTestGuard(t)

	key, err := g.Key(submitMethod, locker.NewDeclaration(locker.WithName("#id")), []any{"42"})
	require.NoError(t, err)
	assert.Equal(t, "lock.Orders.Submit.42", key)

	key, err = g.Key(submitMethod, locker.NewDeclaration(locker.WithName("'l1' + #id")), []any{"abc"})
	require.NoError(t, err)
	assert.Equal(t, "lock.Orders.Submit.l1abc", key)

	random1, err := g.Key(submitMethod, locker.NewDeclaration(), []any{"42"})
	require.NoError(t, err)
	random2, err := g.Key(submitMethod, locker.NewDeclaration(), []any{"42"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(random1, "lock.Orders.Submit."))
	assert.NotEqual(t, random1, random2)
}

func TestGuard_KeyPrefix(t *testing.T) {
	g := New(nil, nil, WithKeyPrefix("jobs"))

	key, err := g.Key(Method{Type: "Audit", Name: "Run"}, locker.NewDeclaration(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "jobs.Audit.Run."))
}

func TestWrap_InvalidDeclaration(t *testing.T) {
	g, _ := setupTestGuard(t)
	var calls atomic.Int32

	_, err := Wrap(g, submitMethod, locker.NewDeclaration(locker.WithExpire(0)), okOp(&calls))
	assert.ErrorIs(t, err, locker.ErrInvalidDeclaration)

	_, err = Wrap(g, submitMethod, locker.NewDeclaration(locker.WithName("'a' +")), okOp(&calls))
	assert.ErrorIs(t, err, keyexpr.ErrInvalidExpression)

	assert.Panics(t, func() {
		MustWrap(g, submitMethod, locker.NewDeclaration(locker.WithExpire(-1)), okOp(&calls))
	})
}

func TestWrap_AutoReleasesAfterSuccess(t *testing.T) {
	g, mr := setupTestGuard(t)
	ctx := context.Background()
	var calls atomic.Int32

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithBlocking(false),
	), okOp(&calls))

	got, err := fn(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.False(t, mr.Exists("lock.Orders.Submit.42"))

	// Serial calls both run.
	_, err = fn(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWrap_RepeatAbort_ConcurrentCalls(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithRejectPolicy(locker.RepeatAbort),
		locker.WithBlocking(false),
	), blockingOp(entered, release))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err := fn(ctx, "42")
		assert.NoError(t, err)
		assert.Equal(t, "done", got)
	}()
	<-entered

	got, err := fn(ctx, "42")
	assert.ErrorIs(t, err, locker.ErrLockAcquisitionFailed)
	assert.EqualError(t, err, "duplicate submission")
	assert.Empty(t, got)

	var rejected *locker.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, locker.RepeatAbort, rejected.Policy)

	close(release)
	wg.Wait()
}

func TestWrap_Ignore_ReturnsZeroValue(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32

	count := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithRejectPolicy(locker.Ignore),
		locker.WithBlocking(false),
	), func(ctx context.Context, args ...any) (int, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-release

		return 7, nil
	})

	done := make(chan int)
	go func() {
		n, _ := count(ctx, "42")
		done <- n
	}()
	<-entered

	n, err := count(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)
	assert.Equal(t, 7, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWrap_HoldKeepsLeaseUntilExpiry(t *testing.T) {
	g, mr := setupTestGuard(t)
	ctx := context.Background()
	var calls atomic.Int32

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithType(locker.Hold),
		locker.WithRejectPolicy(locker.RepeatAbort),
		locker.WithExpire(2),
		locker.WithBlocking(false),
	), okOp(&calls))

	// Caller A acquires and returns; the lease stays.
	_, err := fn(ctx, "42")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock.Orders.Submit.42"))
	assert.Equal(t, 2*time.Second, mr.TTL("lock.Orders.Submit.42"))

	// Caller B within the lease is rejected.
	_, err = fn(ctx, "42")
	assert.ErrorIs(t, err, locker.ErrLockAcquisitionFailed)

	// Caller C after expiry runs.
	mr.FastForward(3 * time.Second)
	_, err = fn(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWrap_HoldIgnore(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()
	var calls atomic.Int32

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithType(locker.Hold),
		locker.WithRejectPolicy(locker.Ignore),
		locker.WithExpire(2),
	), okOp(&calls))

	got, err := fn(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	got, err = fn(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWrap_BlockingIgnore_WaitsThenSkips(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithRejectPolicy(locker.Ignore),
		locker.WithWaitTimeout(500*time.Millisecond),
	), blockingOp(entered, release))

	go func() { _, _ = fn(ctx, "42") }()
	<-entered
	defer close(release)

	start := time.Now()
	got, err := fn(ctx, "42")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestWrap_TimeoutAbort(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithRejectPolicy(locker.TimeoutAbort),
		locker.WithWaitTimeout(500*time.Millisecond),
		locker.WithMessage("order busy"),
	), blockingOp(entered, release))

	go func() { _, _ = fn(ctx, "42") }()
	<-entered
	defer close(release)

	_, err := fn(ctx, "42")
	assert.ErrorIs(t, err, locker.ErrLockWaitTimedOut)
	assert.EqualError(t, err, "order busy")
}

func TestWrap_BlockingAcquiresOnceReleased(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithRejectPolicy(locker.TimeoutAbort),
	), blockingOp(entered, release))

	go func() { _, _ = fn(ctx, "42") }()
	<-entered

	time.AfterFunc(200*time.Millisecond, func() { close(release) })

	got, err := fn(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestWrap_SerialBlockingCallsAllRun(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()
	var calls atomic.Int32

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithRejectPolicy(locker.TimeoutAbort),
	), okOp(&calls))

	for i := 0; i < 3; i++ {
		_, err := fn(ctx, "42")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestWrap_FailureReleasesHeldLock(t *testing.T) {
	g, mr := setupTestGuard(t)
	ctx := context.Background()
	boom := errors.New("boom")

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithType(locker.Hold),
		locker.WithBlocking(false),
	), func(ctx context.Context, args ...any) (string, error) {
		return "partial", boom
	})

	got, err := fn(ctx, "42")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", got)
	assert.False(t, mr.Exists("lock.Orders.Submit.42"))
}

func TestWrap_PanicReleasesLock(t *testing.T) {
	g, mr := setupTestGuard(t)
	ctx := context.Background()

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithType(locker.Hold),
		locker.WithBlocking(false),
	), func(ctx context.Context, args ...any) (string, error) {
		panic("kaboom")
	})

	assert.PanicsWithValue(t, "kaboom", func() { _, _ = fn(ctx, "42") })
	assert.False(t, mr.Exists("lock.Orders.Submit.42"))
}

func TestWrap_RandomKeysDoNotExclude(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithBlocking(false),
	), blockingOp(entered, release))

	go func() { _, _ = fn(ctx, "42") }()
	<-entered

	go func() { _, _ = fn(ctx, "42") }()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second call should not be excluded")
	}
	close(release)
}

func TestWrap_LockAvailableInContext(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
	), func(ctx context.Context, args ...any) (bool, error) {
		l, ok := locker.FromContext(ctx)
		if !ok {
			return false, errors.New("no lock in context")
		}

		return l.Name() == "lock.Orders.Submit.42" && l.IsLocked(ctx), nil
	})

	ok, err := fn(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWrap_NestedCallsRestoreOuterLock(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	inner := MustWrap(g, Method{Type: "Orders", Name: "Charge", Params: []string{"id"}},
		locker.NewDeclaration(locker.WithName("#id")),
		func(ctx context.Context, args ...any) (string, error) {
			l, _ := locker.FromContext(ctx)

			return l.Name(), nil
		})

	outer := MustWrap(g, submitMethod, locker.NewDeclaration(locker.WithName("#id")),
		func(ctx context.Context, args ...any) ([]string, error) {
			innerName, err := inner(ctx, args...)
			if err != nil {
				return nil, err
			}
			l, _ := locker.FromContext(ctx)

			return []string{innerName, l.Name()}, nil
		})

	names, err := outer(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"lock.Orders.Charge.42", "lock.Orders.Submit.42"}, names)
}

func TestWrap_CancelledWhileWaiting(t *testing.T) {
	g, _ := setupTestGuard(t)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithWaitTimeout(5*time.Second),
	), blockingOp(entered, release))

	go func() { _, _ = fn(context.Background(), "42") }()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fn(ctx, "42")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWrap_CallerOwnsLease(t *testing.T) {
	g, mr := setupTestGuard(t)
	ctx := locker.WithCaller(context.Background(), "req-9", "http")

	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithType(locker.Hold),
	), func(ctx context.Context, args ...any) (struct{}, error) {
		return struct{}{}, nil
	})

	_, err := fn(ctx, "42")
	require.NoError(t, err)

	value, err := mr.Get("lock.Orders.Submit.42")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(value, "_req-9_http_1"))
}

func TestWrap_MutualExclusion(t *testing.T) {
	g, _ := setupTestGuard(t)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithWaitTimeout(5*time.Second),
	), func(ctx context.Context, args ...any) (struct{}, error) {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inside.Add(-1)

		return struct{}{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fn(ctx, "42")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestWrap_RedlockBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := router.New(router.Config{Primary: router.PoolConfig{Addr: mr.Addr()}}, zap.NewNop())
	eval, err := keyexpr.New(keyexpr.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = store.Close()
		eval.Close()
	})

	g := New(locker.RedlockFactory(client, store, zap.NewNop()), eval)
	var calls atomic.Int32
	fn := MustWrap(g, submitMethod, locker.NewDeclaration(
		locker.WithName("#id"),
		locker.WithType(locker.Hold),
		locker.WithRejectPolicy(locker.RepeatAbort),
		locker.WithBlocking(false),
	), okOp(&calls))

	_, err = fn(context.Background(), "42")
	require.NoError(t, err)

	_, err = fn(context.Background(), "42")
	assert.ErrorIs(t, err, locker.ErrLockAcquisitionFailed)
	assert.Equal(t, int32(1), calls.Load())
}
