package frontier_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/frontier"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestBFS_ShallowerFirst(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.BFS{}

	shallow, err := strategy.Priority(ctx, frontier.Signals{Depth: 1})
	require.NoError(t, err)

	deep, err := strategy.Priority(ctx, frontier.Signals{Depth: 3})
	require.NoError(t, err)

	require.Greater(t, shallow, deep)
	require.Equal(t, -1.0, shallow)
	require.Equal(t, -3.0, deep)
}

func TestBestFirst_Formula(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.BestFirst{}

	got, err := strategy.Priority(ctx, frontier.Signals{
		Depth:           1,
		PageRank:        0.4,
		DomainAuthority: 0.8,
	})
	require.NoError(t, err)

	want := (0.7*0.4 + 0.3*0.8) * 1000 / 2
	require.InDelta(t, want, got, 1e-9)
}

func TestFocused_ContentPathsOutrankPlainPaths(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.NewFocused(nil)

	article, err := strategy.Priority(ctx, frontier.Signals{
		URL:   "https://example.com/article/go-basics",
		Depth: 2,
	})
	require.NoError(t, err)

	plain, err := strategy.Priority(ctx, frontier.Signals{
		URL:   "https://example.com/about",
		Depth: 2,
	})
	require.NoError(t, err)

	require.Greater(t, article, plain)
}

func TestFocused_Penalties(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.NewFocused(nil)

	base, err := strategy.Priority(ctx, frontier.Signals{
		URL: "https://example.com/a/b", Depth: 0,
	})
	require.NoError(t, err)

	deep, err := strategy.Priority(ctx, frontier.Signals{
		URL: "https://example.com/a/b/c/d/e/f/g", Depth: 0,
	})
	require.NoError(t, err)
	require.InDelta(t, base*0.8, deep, 1e-9)

	queried, err := strategy.Priority(ctx, frontier.Signals{
		URL: "https://example.com/a/b?page=2", Depth: 0,
	})
	require.NoError(t, err)
	require.InDelta(t, base*0.9, queried, 1e-9)
}

func TestFocused_HighValueDomainBoost(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.NewFocused([]string{"docs.example.org"})

	boosted, err := strategy.Priority(ctx, frontier.Signals{
		URL: "https://docs.example.org/page", Depth: 1,
	})
	require.NoError(t, err)

	ordinary, err := strategy.Priority(ctx, frontier.Signals{
		URL: "https://other.example.org/page", Depth: 1,
	})
	require.NoError(t, err)

	require.InDelta(t, ordinary*2, boosted, 1e-9)
}

func TestOPIC_NewURLCarriesInitialCash(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.NewOPIC(newTestRedis(t))

	cash, err := strategy.Cash(ctx, "https://example.com/fresh")
	require.NoError(t, err)
	require.Equal(t, 1.0, cash)

	got, err := strategy.Priority(ctx, frontier.Signals{
		URL:             "https://example.com/fresh",
		Depth:           0,
		DomainAuthority: 0.5,
	})
	require.NoError(t, err)

	want := 1.0 * 0.5 * 1.0 / math.Log(2)
	require.InDelta(t, want, got, 1e-9)
}

func TestOPIC_DistributeSplitsCashEvenly(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.NewOPIC(newTestRedis(t))

	source := "https://example.com/hub"
	children := []string{
		"https://example.com/a",
		"https://example.com/b",
	}

	require.NoError(t, strategy.Distribute(ctx, source, children))

	// The source forwarded its full initial grant and now holds zero.
	cash, err := strategy.Cash(ctx, source)
	require.NoError(t, err)
	require.Zero(t, cash)

	for _, child := range children {
		cash, err = strategy.Cash(ctx, child)
		require.NoError(t, err)
		require.InDelta(t, 0.5, cash, 1e-9)
	}
}

func TestOPIC_DistributeNoChildrenForfeitsCash(t *testing.T) {
	ctx := context.Background()
	strategy := frontier.NewOPIC(newTestRedis(t))

	require.NoError(t, strategy.Distribute(ctx, "https://example.com/leaf", nil))

	cash, err := strategy.Cash(ctx, "https://example.com/leaf")
	require.NoError(t, err)
	require.Zero(t, cash)
}

func TestNewStrategy_Unknown(t *testing.T) {
	_, err := frontier.NewStrategy("pagerank-first", nil, nil)
	require.Error(t, err)
}

func TestBackoffDelay_GrowsAndStaysBounded(t *testing.T) {
	first := frontier.BackoffDelay(0)
	require.GreaterOrEqual(t, first, 22*time.Second)
	require.LessOrEqual(t, first, 45*time.Second)

	capped := frontier.BackoffDelay(20)
	require.LessOrEqual(t, capped, 90*time.Minute)
}
