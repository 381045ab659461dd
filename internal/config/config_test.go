package config_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/config"
)

func loadWithDefaults(t *testing.T) *config.Config {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults()

	cfg, err := config.Load()
	require.NoError(t, err)

	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadWithDefaults(t)

	require.Equal(t, "crawld", cfg.App.Name)
	require.Equal(t, "bfs", cfg.Crawler.Strategy)
	require.Equal(t, 3, cfg.Crawler.MaxDepth)
	require.Equal(t, 100, cfg.Crawler.SchedulerBatch)
	require.Equal(t, 4, cfg.Crawler.FetchConcurrency)
	require.Equal(t, uint(10_000_000), cfg.Crawler.BloomCapacity)
	require.InDelta(t, 0.01, cfg.Crawler.BloomFPR, 1e-12)
	require.InDelta(t, 0.85, cfg.Ranker.Damping, 1e-12)
	require.Equal(t, 100, cfg.Ranker.MaxIterations)
	require.Contains(t, cfg.Crawler.TrackingParams, "fbclid")
}

func TestLoad_OverridesWinOverDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	viper.Set("crawler.strategy", "opic")
	viper.Set("crawler.max_depth", 5)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "opic", cfg.Crawler.Strategy)
	require.Equal(t, 5, cfg.Crawler.MaxDepth)
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	viper.Set("crawler.strategy", "depth-charge")

	_, err := config.Load()
	require.ErrorContains(t, err, "invalid strategy")
}

func TestValidate_RejectsBadDamping(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	viper.Set("ranker.damping", 1.5)

	_, err := config.Load()
	require.ErrorContains(t, err, "damping")
}
