// Package queue provides the Redis Streams message bus between pipeline
// stages: fetch requests, page content, discovered links, and a dead-letter
// stream for messages that exhaust their retries.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus topics.
const (
	TopicCrawlRequests = "crawl-requests"
	TopicPages         = "pages"
	TopicNewLinks      = "new-links"
	TopicDeadLetter    = "dead-letter-queue"
)

const (
	// defaultConnectionTimeout bounds the startup ping.
	defaultConnectionTimeout = 2 * time.Second

	// defaultPrefix namespaces all stream keys.
	defaultPrefix = "crawld"
)

// StreamsClient wraps a Redis client with streams-specific operations.
type StreamsClient struct {
	client *redis.Client
	prefix string
}

// StreamsConfig holds configuration for the Redis Streams client.
type StreamsConfig struct {
	Addr     string
	Password string `json:"-"`
	DB       int
	Prefix   string
}

// NewStreamsClient creates a new Redis Streams client and verifies
// connectivity.
func NewStreamsClient(cfg StreamsConfig) (*StreamsClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStreamsClientFromRedis(client, cfg.Prefix), nil
}

// NewStreamsClientFromRedis creates a StreamsClient from an existing Redis
// client.
func NewStreamsClientFromRedis(client *redis.Client, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &StreamsClient{
		client: client,
		prefix: prefix,
	}
}

// StreamName returns the full stream key for a topic.
func (c *StreamsClient) StreamName(topic string) string {
	return c.prefix + ":" + topic
}

// Close closes the underlying Redis client.
func (c *StreamsClient) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *StreamsClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for advanced operations.
func (c *StreamsClient) Client() *redis.Client {
	return c.client
}

// CreateConsumerGroup creates a consumer group for a topic if it doesn't
// exist, creating the stream as needed.
func (c *StreamsClient) CreateConsumerGroup(ctx context.Context, topic, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, c.StreamName(topic), group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// XAdd appends a message to a topic's stream, trimming approximately to
// maxLen when positive.
func (c *StreamsClient) XAdd(ctx context.Context, topic string, maxLen int64, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: c.StreamName(topic),
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	return c.client.XAdd(ctx, args).Result()
}

// XReadGroup reads messages from a topic using a consumer group.
func (c *StreamsClient) XReadGroup(
	ctx context.Context, group, consumer, topic string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{c.StreamName(topic), ">"},
		Count:    count,
		Block:    block,
	}).Result()
}

// XAck acknowledges messages in a topic.
func (c *StreamsClient) XAck(ctx context.Context, topic, group string, ids ...string) error {
	return c.client.XAck(ctx, c.StreamName(topic), group, ids...).Err()
}

// XPendingExt returns detailed pending entries for a topic.
func (c *StreamsClient) XPendingExt(
	ctx context.Context, topic, group string, count int64,
) ([]redis.XPendingExt, error) {
	return c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.StreamName(topic),
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// XClaim claims pending messages for a consumer.
func (c *StreamsClient) XClaim(
	ctx context.Context, topic, group, consumer string, minIdle time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	return c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.StreamName(topic),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// XLen returns the length of a topic's stream.
func (c *StreamsClient) XLen(ctx context.Context, topic string) (int64, error) {
	return c.client.XLen(ctx, c.StreamName(topic)).Result()
}
