package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/seekerlabs/crawld/internal/config"
	"github.com/seekerlabs/crawld/internal/database"
	"github.com/seekerlabs/crawld/internal/dedup"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/storage"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

// needs declares which backing services a command requires beyond Redis,
// which every command uses.
type needs struct {
	Database      bool
	Elasticsearch bool
}

// runtime bundles the shared dependencies a command wires its pipeline
// components from.
type runtime struct {
	cfg      *config.Config
	log      logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	redis    *redis.Client
	streams  *queue.StreamsClient
	producer *queue.Producer

	db *sqlx.DB
	es *storage.Store
}

// newRuntime loads configuration and connects the requested backing services.
// The caller owns the returned runtime and must Close it.
func newRuntime(ctx context.Context, n needs) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.Logger.Development,
		OutputPaths: cfg.Logger.OutputPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	streams, err := queue.NewStreamsClient(queue.StreamsConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.StreamPrefix,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	rt := &runtime{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  metrics.New(registry),
		redis:    streams.Client(),
		streams:  streams,
		producer: queue.NewProducer(streams, queue.ProducerConfig{}),
	}

	if n.Database {
		db, dbErr := database.NewPostgresConnection(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if dbErr != nil {
			rt.Close()
			return nil, dbErr
		}

		if migrateErr := database.Migrate(ctx, db); migrateErr != nil {
			_ = db.Close()
			rt.Close()
			return nil, migrateErr
		}

		rt.db = db
	}

	if n.Elasticsearch {
		es, esErr := storage.NewStore(storage.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
			APIKey:    cfg.Elasticsearch.APIKey,
			IndexName: cfg.Elasticsearch.IndexName,
		})
		if esErr != nil {
			rt.Close()
			return nil, esErr
		}

		rt.es = es
	}

	return rt, nil
}

// Close releases the runtime's connections.
func (r *runtime) Close() {
	if r.db != nil {
		_ = r.db.Close()
	}
	if r.streams != nil {
		_ = r.streams.Close()
	}
	_ = r.log.Sync()
}

// strategy builds the configured frontier strategy.
func (r *runtime) strategy() (frontier.Strategy, error) {
	return frontier.NewStrategy(r.cfg.Crawler.Strategy, r.redis, r.cfg.Crawler.HighValueDomains)
}

// frontier builds a frontier over the relational job store.
func (r *runtime) frontier() (*frontier.Frontier, error) {
	strategy, err := r.strategy()
	if err != nil {
		return nil, err
	}

	return frontier.New(database.NewCrawlURLRepository(r.db), strategy), nil
}

// normalizer builds the URL normalizer with the configured tracking-parameter
// set.
func (r *runtime) normalizer() *urlnorm.Normalizer {
	return urlnorm.New(r.cfg.Crawler.TrackingParams)
}

// seenSet builds the URL seen-set and warms its Bloom filter from the
// authoritative Redis keys, so a restarted process does not readmit URLs it
// already crawled.
func (r *runtime) seenSet(ctx context.Context) (*dedup.URLSeen, error) {
	seen := dedup.NewURLSeen(r.redis, r.cfg.Crawler.BloomCapacity, r.cfg.Crawler.BloomFPR)

	loaded, err := seen.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild seen set: %w", err)
	}

	r.log.Info("seen set rebuilt", logger.Int("urls", loaded))

	return seen, nil
}

// consumer creates a consumer-group reader on a topic. The consumer ID is
// unique per process so pending-entry reclaim works across restarts.
func (r *runtime) consumer(ctx context.Context, topic, group string) (*queue.Consumer, error) {
	return queue.NewConsumer(ctx, r.streams, queue.ConsumerConfig{
		Topic:      topic,
		Group:      group,
		ConsumerID: consumerID(),
	})
}

// consumerID derives a process-unique consumer name.
func consumerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "crawld"
	}
	return host + "-" + uuid.NewString()[:8]
}

// portFromAddress extracts the numeric port from a listen address like
// ":8080" or "0.0.0.0:8080".
func portFromAddress(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0
	}

	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0
	}

	return port
}
