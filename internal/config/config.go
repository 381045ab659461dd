// Package config provides typed access to the crawler configuration, loaded
// by viper from config file, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AppConfig identifies the running application.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig configures the KV store and message bus.
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	StreamPrefix string `mapstructure:"stream_prefix"`
}

// DatabaseConfig configures the PostgreSQL state store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ElasticsearchConfig configures the full-text document store.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	APIKey    string   `mapstructure:"api_key"`
	IndexName string   `mapstructure:"index_name"`
}

// CrawlerConfig holds the crawl pipeline options.
type CrawlerConfig struct {
	UserAgent               string        `mapstructure:"user_agent"`
	MaxDepth                int           `mapstructure:"max_depth"`
	MaxRetries              int           `mapstructure:"max_retries"`
	SchedulerBatch          int           `mapstructure:"scheduler_batch"`
	SchedulerInterval       time.Duration `mapstructure:"scheduler_interval"`
	FetchConcurrency        int           `mapstructure:"fetch_concurrency"`
	IngestConcurrency       int           `mapstructure:"ingest_concurrency"`
	IndexConcurrency        int           `mapstructure:"index_concurrency"`
	MaxBodyBytes            int64         `mapstructure:"max_body_bytes"`
	BloomCapacity           uint          `mapstructure:"bloom_capacity"`
	BloomFPR                float64       `mapstructure:"bloom_fpr"`
	SimhashHammingThreshold int           `mapstructure:"simhash_hamming_threshold"`
	LSHBands                int           `mapstructure:"lsh_bands"`
	LSHBandBits             int           `mapstructure:"lsh_band_bits"`
	Strategy                string        `mapstructure:"strategy"`
	TrackingParams          []string      `mapstructure:"tracking_params"`
	HighValueDomains        []string      `mapstructure:"high_value_domains"`
	RateLimitCapacity       int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillPerSec   float64       `mapstructure:"rate_limit_refill_per_sec"`
	WindowSeconds           int           `mapstructure:"window_seconds"`
	WindowMaxRequests       int           `mapstructure:"window_max_requests"`
}

// RankerConfig holds the PageRank batch job options.
type RankerConfig struct {
	Damping            float64 `mapstructure:"damping"`
	ConvergenceEpsilon float64 `mapstructure:"convergence_epsilon"`
	MaxIterations      int     `mapstructure:"max_iterations"`
	Schedule           string  `mapstructure:"schedule"`
}

// Config is the root configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Ranker        RankerConfig        `mapstructure:"ranker"`
}

// Load unmarshals the already-initialized viper state into a typed Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a worker.
func (c *Config) Validate() error {
	switch c.Crawler.Strategy {
	case "bfs", "best-first", "opic", "focused":
	default:
		return fmt.Errorf("invalid strategy %q", c.Crawler.Strategy)
	}

	if c.Crawler.MaxDepth < 0 {
		return errors.New("max_depth must be >= 0")
	}
	if c.Crawler.BloomFPR <= 0 || c.Crawler.BloomFPR >= 1 {
		return errors.New("bloom_fpr must be in (0, 1)")
	}
	if c.Ranker.Damping <= 0 || c.Ranker.Damping >= 1 {
		return errors.New("damping must be in (0, 1)")
	}

	return nil
}

// SetDefaults registers production-safe defaults on the global viper.
func SetDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "crawld",
		"version":     "1.0.0",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"output_paths": []string{"stdout"},
	})

	viper.SetDefault("server", map[string]any{
		"address":       ":8080",
		"read_timeout":  "15s",
		"write_timeout": "15s",
		"idle_timeout":  "60s",
	})

	viper.SetDefault("redis", map[string]any{
		"addr":          "127.0.0.1:6379",
		"db":            0,
		"stream_prefix": "crawld",
	})

	viper.SetDefault("database", map[string]any{
		"host":    "127.0.0.1",
		"port":    "5432",
		"user":    "crawld",
		"dbname":  "crawld",
		"sslmode": "disable",
	})

	viper.SetDefault("elasticsearch", map[string]any{
		"addresses":  []string{"http://127.0.0.1:9200"},
		"index_name": "web_documents",
	})

	viper.SetDefault("crawler", map[string]any{
		"user_agent":                "crawld/1.0 (+https://seekerlabs.dev/bot)",
		"max_depth":                 3,
		"max_retries":               3,
		"scheduler_batch":           100,
		"scheduler_interval":        "10s",
		"fetch_concurrency":         4,
		"ingest_concurrency":        2,
		"index_concurrency":         2,
		"max_body_bytes":            5 * 1024 * 1024,
		"bloom_capacity":            10_000_000,
		"bloom_fpr":                 0.01,
		"simhash_hamming_threshold": 3,
		"lsh_bands":                 4,
		"lsh_band_bits":             16,
		"strategy":                  "bfs",
		"tracking_params":           []string{"fbclid", "gclid", "msclkid", "_ga", "mc_cid", "mc_eid"},
		"high_value_domains":        []string{},
		"rate_limit_capacity":       10,
		"rate_limit_refill_per_sec": 1.0,
		"window_seconds":            60,
		"window_max_requests":       60,
	})

	viper.SetDefault("ranker", map[string]any{
		"damping":             0.85,
		"convergence_epsilon": 1e-4,
		"max_iterations":      100,
		"schedule":            "0 */6 * * *",
	})
}
