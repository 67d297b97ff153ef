package locker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dslock/pkg/router"
)

const testLockKey = "lock.Orders.Submit.42"

func setupTestStore(t *testing.T) (*router.Router, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := router.New(router.Config{Primary: router.PoolConfig{Addr: mr.Addr()}}, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func testOwner(id string) Owner {
	return Owner{Host: "host", Addr: "10.0.0.1", CallerID: id, CallerName: "worker"}
}

func TestOwner_Token(t *testing.T) {
	o := Owner{Host: "web-1", Addr: "10.0.0.7", CallerID: "42", CallerName: "http"}
	assert.Equal(t, "web-1_10.0.0.7_42_http_1", o.Token())
}

func TestLocalOwner(t *testing.T) {
	o := LocalOwner("7", "job")
	assert.NotEmpty(t, o.Host)
	assert.NotEmpty(t, o.Addr)
	assert.True(t, strings.HasSuffix(o.Token(), "_7_job_1"))
}

func TestLease_TryAcquire(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	a := NewLease(store, testLockKey, testOwner("a"), 10)
	b := NewLease(store, testLockKey, testOwner("b"), 10)

	assert.True(t, a.TryAcquire(ctx))
	assert.False(t, b.TryAcquire(ctx))
	mr.CheckGet(t, testLockKey, a.Value())
	assert.Equal(t, 10*time.Second, mr.TTL(testLockKey))
}

func TestLease_ExpiresWithoutRelease(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	a := NewLease(store, testLockKey, testOwner("a"), 2)
	b := NewLease(store, testLockKey, testOwner("b"), 2)

	require.True(t, a.TryAcquire(ctx))
	mr.FastForward(3 * time.Second)

	assert.False(t, a.IsLocked(ctx))
	assert.True(t, b.TryAcquire(ctx))
}

func TestLease_Release(t *testing.T) {
	for _, mode := range []ReleaseMode{ReleaseCheckThenDelete, ReleaseAtomic} {
		store, mr := setupTestStore(t)
		ctx := context.Background()

		a := NewLease(store, testLockKey, testOwner("a"), 10, WithReleaseMode(mode))
		b := NewLease(store, testLockKey, testOwner("b"), 10, WithReleaseMode(mode))

		require.True(t, a.TryAcquire(ctx))

		b.Release(ctx)
		assert.True(t, mr.Exists(testLockKey), "non-owner must not release")

		a.Release(ctx)
		assert.False(t, mr.Exists(testLockKey))

		// Releasing twice is harmless.
		a.Release(ctx)
		assert.True(t, b.TryAcquire(ctx))
	}
}

func TestReleaseOwned_IgnoresCase(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(testLockKey, "HOST_1"))

	assert.True(t, ReleaseOwned(ctx, store, testLockKey, "host_1", ReleaseCheckThenDelete))
	assert.False(t, mr.Exists(testLockKey))
	assert.False(t, ReleaseOwned(ctx, store, testLockKey, "host_1", ReleaseCheckThenDelete))
}

func TestLease_TryAcquireWait_Acquires(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	holder := NewLease(store, testLockKey, testOwner("a"), 10)
	waiter := NewLease(store, testLockKey, testOwner("b"), 10)
	require.True(t, holder.TryAcquire(ctx))

	go func() {
		time.Sleep(150 * time.Millisecond)
		holder.Release(ctx)
	}()

	acquired, err := waiter.TryAcquireWait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLease_TryAcquireWait_TimesOut(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	holder := NewLease(store, testLockKey, testOwner("a"), 10)
	waiter := NewLease(store, testLockKey, testOwner("b"), 10)
	require.True(t, holder.TryAcquire(ctx))

	start := time.Now()
	acquired, err := waiter.TryAcquireWait(ctx, 300*time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, acquired)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestLease_TryAcquireWait_Cancelled(t *testing.T) {
	store, _ := setupTestStore(t)

	holder := NewLease(store, testLockKey, testOwner("a"), 10)
	waiter := NewLease(store, testLockKey, testOwner("b"), 10)
	require.True(t, holder.TryAcquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	acquired, err := waiter.TryAcquireWait(ctx, 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, acquired)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLease_Acquire(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	l := NewLease(store, testLockKey, testOwner("a"), 10)
	require.NoError(t, l.Acquire(ctx, time.Second))
	assert.True(t, l.IsLocked(ctx))

	// Deadline passes without the lock; no error is reported.
	other := NewLease(store, testLockKey, testOwner("b"), 10)
	assert.NoError(t, other.Acquire(ctx, 200*time.Millisecond))
}

func TestLease_AcquireInterruptibly(t *testing.T) {
	store, _ := setupTestStore(t)

	holder := NewLease(store, testLockKey, testOwner("a"), 10)
	require.True(t, holder.TryAcquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	waiter := NewLease(store, testLockKey, testOwner("b"), 10)
	assert.ErrorIs(t, waiter.AcquireInterruptibly(ctx), context.DeadlineExceeded)
}

func TestLease_LockSwallowsCancellation(t *testing.T) {
	store, _ := setupTestStore(t)

	holder := NewLease(store, testLockKey, testOwner("a"), 10)
	require.True(t, holder.TryAcquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waiter := NewLease(store, testLockKey, testOwner("b"), 10)
	assert.NotPanics(t, func() { waiter.Lock(ctx) })

	free := NewLease(store, "lock.free", testOwner("c"), 10)
	free.Lock(context.Background())
	assert.True(t, free.IsLocked(context.Background()))
}

func TestLease_NewCondition(t *testing.T) {
	store, _ := setupTestStore(t)

	cond, err := NewLease(store, testLockKey, testOwner("a"), 10).NewCondition()
	assert.Nil(t, cond)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestLease_StoreDownFailsClosed(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	mr.Close()

	l := NewLease(store, testLockKey, testOwner("a"), 10)
	assert.False(t, l.TryAcquire(ctx))
	assert.False(t, l.IsLocked(ctx))
	assert.NotPanics(t, func() { l.Release(ctx) })
}

func TestLease_MutualExclusion(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewLease(store, testLockKey, testOwner(string(rune('a'+i))), 10)
			if l.TryAcquire(ctx) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestParseReleaseMode(t *testing.T) {
	mode, err := ParseReleaseMode("atomic")
	require.NoError(t, err)
	assert.Equal(t, ReleaseAtomic, mode)

	mode, err = ParseReleaseMode("")
	require.NoError(t, err)
	assert.Equal(t, ReleaseCheckThenDelete, mode)

	_, err = ParseReleaseMode("lua")
	assert.Error(t, err)
}

func TestContext_Locker(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	outer := NewLease(store, "lock.outer", testOwner("a"), 10)
	inner := NewLease(store, "lock.inner", testOwner("a"), 10)

	outerCtx := NewContext(ctx, outer)
	innerCtx := NewContext(outerCtx, inner)

	got, ok := FromContext(innerCtx)
	require.True(t, ok)
	assert.Equal(t, "lock.inner", got.Name())

	got, ok = FromContext(outerCtx)
	require.True(t, ok)
	assert.Equal(t, "lock.outer", got.Name())
}

func TestContext_Caller(t *testing.T) {
	ctx := WithCaller(context.Background(), "req-1", "http")

	c, ok := CallerFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, Caller{ID: "req-1", Name: "http"}, c)

	_, ok = CallerFrom(context.Background())
	assert.False(t, ok)
}
