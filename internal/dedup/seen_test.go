package dedup_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/dedup"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestURLSeen_CheckAndMark(t *testing.T) {
	ctx := context.Background()
	seen := dedup.NewURLSeen(newTestRedis(t), 1000, 0.01)

	const url = "https://example.com/article"

	found, err := seen.Check(ctx, url)
	require.NoError(t, err)
	require.False(t, found, "fresh URL should not be seen")

	require.NoError(t, seen.MarkSeen(ctx, url))

	found, err = seen.Check(ctx, url)
	require.NoError(t, err)
	require.True(t, found, "marked URL should be seen")

	require.True(t, seen.MightContain(url), "bloom layer should contain marked URL")
}

func TestURLSeen_BloomFallsThroughToRedis(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	seen := dedup.NewURLSeen(client, 1000, 0.01)

	const url = "https://example.com/page"
	require.NoError(t, seen.MarkSeen(ctx, url))

	// A fresh instance has an empty Bloom filter and cannot answer from the
	// authoritative bits until it is rebuilt, so every startup must rebuild
	// before serving checks.
	restarted := dedup.NewURLSeen(client, 1000, 0.01)

	found, err := restarted.Check(ctx, url)
	require.NoError(t, err)
	require.False(t, found, "cold filter answers not-seen before rebuild")

	loaded, err := restarted.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	found, err = restarted.Check(ctx, url)
	require.NoError(t, err)
	require.True(t, found, "seen bit should survive restart via rebuild")
}

func TestURLSeen_Stats(t *testing.T) {
	ctx := context.Background()
	seen := dedup.NewURLSeen(newTestRedis(t), 1000, 0.01)

	for _, u := range []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"} {
		require.NoError(t, seen.MarkSeen(ctx, u))
	}

	stats := seen.Stats()
	require.NotZero(t, stats.CapacityBits)
	require.NotZero(t, stats.HashFunctions)
	require.Less(t, stats.ExpectedFPR, 0.01)
}

func TestLSHIndex_NearDuplicateLookup(t *testing.T) {
	ctx := context.Background()
	index := dedup.NewLSHIndex(newTestRedis(t), 0, 0, 0)

	base := dedup.SimHash(articleText)
	require.NoError(t, index.Store(ctx, "hash-original", base))

	// Flip two bits: still within threshold, and at least one 16-bit band is
	// untouched, so the candidate survives banding.
	near := base ^ (1 << 3) ^ (1 << 40)

	match, err := index.FindNearDuplicate(ctx, near)
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, "hash-original", match.URLHash)
	require.Equal(t, 2, match.Distance)
}

func TestLSHIndex_NovelFingerprint(t *testing.T) {
	ctx := context.Background()
	index := dedup.NewLSHIndex(newTestRedis(t), 0, 0, 0)

	require.NoError(t, index.Store(ctx, "hash-a", dedup.SimHash(articleText)))

	far := dedup.SimHash("completely different words about gardening tips and tomato varieties for cold climates")

	match, err := index.FindNearDuplicate(ctx, far)
	require.NoError(t, err)
	require.Nil(t, match)
}
