package coordination_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/coordination"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestTryAcquire_OnlyOneOwnerWins(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	first := coordination.NewMutex(client, "example.com", time.Minute)
	second := coordination.NewMutex(client, "example.com", time.Minute)

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	held, err := first.IsHeld(ctx)
	require.NoError(t, err)
	require.True(t, held)

	held, err = second.IsHeld(ctx)
	require.NoError(t, err)
	require.False(t, held)
}

func TestTryAcquire_DifferentResourcesAreIndependent(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	a := coordination.NewMutex(client, "a.example.com", time.Minute)
	b := coordination.NewMutex(client, "b.example.com", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRelease_FreesTheLock(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	first := coordination.NewMutex(client, "example.com", time.Minute)
	second := coordination.NewMutex(client, "example.com", time.Minute)

	ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx))

	ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRelease_StaleOwnerCannotReleaseReacquiredLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	stale := coordination.NewMutex(client, "example.com", time.Minute)

	ok, err := stale.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The lock expires and another worker takes it.
	mr.FastForward(2 * time.Minute)

	current := coordination.NewMutex(client, "example.com", time.Minute)
	ok, err = current.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, stale.Release(ctx), coordination.ErrMutexNotHeld)

	held, err := current.IsHeld(ctx)
	require.NoError(t, err)
	require.True(t, held)
}

func TestExtend_RefreshesOnlyWhileHeld(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	m := coordination.NewMutex(client, "example.com", time.Minute)

	ok, err := m.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Extend(ctx, 5*time.Minute))

	mr.FastForward(10 * time.Minute)

	require.ErrorIs(t, m.Extend(ctx, time.Minute), coordination.ErrMutexNotHeld)
}

func TestAcquireWithRetry_SucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	holder := coordination.NewMutex(client, "example.com", time.Minute)
	waiter := coordination.NewMutex(client, "example.com", time.Minute)

	ok, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		done <- waiter.AcquireWithRetry(ctx, 5*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, holder.Release(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the mutex")
	}

	held, err := waiter.IsHeld(ctx)
	require.NoError(t, err)
	require.True(t, held)
}

func TestAcquireWithRetry_DeadlineExpires(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	holder := coordination.NewMutex(client, "example.com", time.Minute)
	waiter := coordination.NewMutex(client, "example.com", time.Minute)

	ok, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = waiter.AcquireWithRetry(ctx, 300*time.Millisecond)
	require.ErrorIs(t, err, coordination.ErrMutexNotAcquired)
}
