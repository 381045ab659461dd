package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/ratelimit"
)

func newController(t *testing.T) (*miniredis.Miniredis, *ratelimit.Controller) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, ratelimit.NewController(client)
}

func TestAllow_DrainsBucketThenDenies(t *testing.T) {
	ctx := context.Background()
	_, c := newController(t)

	for i := 0; i < 3; i++ {
		allowed, err := c.Allow(ctx, "example.com", 3, 0.001)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should pass", i)
	}

	allowed, err := c.Allow(ctx, "example.com", 3, 0.001)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestAllow_DomainsHaveSeparateBuckets(t *testing.T) {
	ctx := context.Background()
	_, c := newController(t)

	allowed, err := c.Allow(ctx, "a.example.com", 1, 0.001)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = c.Allow(ctx, "a.example.com", 1, 0.001)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = c.Allow(ctx, "b.example.com", 1, 0.001)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestAllowWindow_CapsRequestsInWindow(t *testing.T) {
	ctx := context.Background()
	_, c := newController(t)

	for i := 0; i < 2; i++ {
		allowed, err := c.AllowWindow(ctx, "example.com", time.Minute, 2)
		require.NoError(t, err)
		require.True(t, allowed, "request %d should pass", i)
	}

	allowed, err := c.AllowWindow(ctx, "example.com", time.Minute, 2)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestStatus_MissingStateReportsFullBucket(t *testing.T) {
	ctx := context.Background()
	_, c := newController(t)

	status, err := c.Status(ctx, "fresh.example.com", 10)
	require.NoError(t, err)
	require.Equal(t, "fresh.example.com", status.Domain)
	require.InDelta(t, 10.0, status.Tokens, 1e-9)
	require.Zero(t, status.WindowCount)
}

func TestStatus_ReflectsConsumption(t *testing.T) {
	ctx := context.Background()
	_, c := newController(t)

	allowed, err := c.Allow(ctx, "example.com", 10, 0.001)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = c.AllowWindow(ctx, "example.com", time.Minute, 5)
	require.NoError(t, err)
	require.True(t, allowed)

	status, err := c.Status(ctx, "example.com", 10)
	require.NoError(t, err)
	require.Less(t, status.Tokens, 10.0)
	require.Equal(t, int64(1), status.WindowCount)
	require.NotZero(t, status.LastRefillMs)
}

func TestReset_RestoresFullBucket(t *testing.T) {
	ctx := context.Background()
	_, c := newController(t)

	allowed, err := c.Allow(ctx, "example.com", 1, 0.001)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = c.Allow(ctx, "example.com", 1, 0.001)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, c.Reset(ctx, "example.com"))

	allowed, err = c.Allow(ctx, "example.com", 1, 0.001)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRefillForCrawlDelay(t *testing.T) {
	require.Equal(t, ratelimit.DefaultRefillPerSec, ratelimit.RefillForCrawlDelay(0))
	require.InDelta(t, 0.5, ratelimit.RefillForCrawlDelay(2*time.Second), 1e-9)
	require.InDelta(t, 2.0, ratelimit.RefillForCrawlDelay(500*time.Millisecond), 1e-9)
}
