package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultBlockTimeout is how long a read blocks waiting for messages.
	defaultBlockTimeout = 5 * time.Second

	// defaultBatchSize is the number of messages read per call.
	defaultBatchSize = 10

	// defaultClaimMinIdle is the idle time after which another consumer's
	// pending message is reclaimed.
	defaultClaimMinIdle = 5 * time.Minute

	// maxPendingCheck caps how many pending entries are inspected per read.
	maxPendingCheck = 100
)

// Message is one delivery from a topic stream.
type Message struct {
	ID          string
	Topic       string
	Key         string
	Payload     []byte
	PublishedAt time.Time
}

// Consumer reads one topic through a consumer group with manual
// acknowledgement. Unacknowledged messages idle in the pending entries list
// until this or another consumer reclaims them.
type Consumer struct {
	client       *StreamsClient
	topic        string
	group        string
	consumerID   string
	blockTimeout time.Duration
	batchSize    int64
	claimMinIdle time.Duration
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Topic        string
	Group        string
	ConsumerID   string        // unique per process/worker
	BlockTimeout time.Duration // 0 = default
	BatchSize    int64         // 0 = default
	ClaimMinIdle time.Duration // 0 = default
}

// NewConsumer creates a consumer and ensures its group exists.
func NewConsumer(ctx context.Context, client *StreamsClient, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.Group == "" {
		return nil, errors.New("consumer group is required")
	}
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	if err := client.CreateConsumerGroup(ctx, cfg.Topic, cfg.Group); err != nil {
		return nil, err
	}

	return &Consumer{
		client:       client,
		topic:        cfg.Topic,
		group:        cfg.Group,
		consumerID:   cfg.ConsumerID,
		blockTimeout: blockTimeout,
		batchSize:    batchSize,
		claimMinIdle: claimMinIdle,
	}, nil
}

// Read returns the next batch of messages. Stale pending messages from dead
// consumers are reclaimed before new ones are read. An empty slice means the
// block timeout elapsed with nothing to deliver.
func (c *Consumer) Read(ctx context.Context) ([]*Message, error) {
	if reclaimed := c.reclaimPending(ctx); len(reclaimed) > 0 {
		return reclaimed, nil
	}

	streams, err := c.client.XReadGroup(ctx, c.group, c.consumerID, c.topic, c.batchSize, c.blockTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from %s: %w", c.topic, err)
	}

	return c.parseStreams(streams), nil
}

// Ack acknowledges a processed message, removing it from the pending list.
func (c *Consumer) Ack(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}

	if err := c.client.XAck(ctx, c.topic, c.group, msg.ID); err != nil {
		return fmt.Errorf("failed to ack %s: %w", msg.ID, err)
	}

	return nil
}

// PendingCount returns how many delivered-but-unacknowledged messages the
// group holds.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	entries, err := c.client.XPendingExt(ctx, c.topic, c.group, maxPendingCheck)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}

	return int64(len(entries)), nil
}

// reclaimPending claims messages another consumer left idle past the
// threshold. Errors here degrade to an empty result; the regular read path
// still runs.
func (c *Consumer) reclaimPending(ctx context.Context) []*Message {
	pending, err := c.client.XPendingExt(ctx, c.topic, c.group, maxPendingCheck)
	if err != nil {
		return nil
	}

	var ids []string
	for _, entry := range pending {
		if entry.Idle >= c.claimMinIdle {
			ids = append(ids, entry.ID)
		}
	}

	if len(ids) == 0 {
		return nil
	}

	claimed, err := c.client.XClaim(ctx, c.topic, c.group, c.consumerID, c.claimMinIdle, ids...)
	if err != nil {
		return nil
	}

	messages := make([]*Message, 0, len(claimed))
	for _, raw := range claimed {
		if msg := c.parseMessage(raw); msg != nil {
			messages = append(messages, msg)
		}
	}

	return messages
}

// parseStreams flattens XREADGROUP results into messages, skipping
// malformed entries.
func (c *Consumer) parseStreams(streams []redis.XStream) []*Message {
	var messages []*Message

	for _, stream := range streams {
		for _, raw := range stream.Messages {
			if msg := c.parseMessage(raw); msg != nil {
				messages = append(messages, msg)
			}
		}
	}

	return messages
}

// parseMessage converts one raw stream entry, returning nil when the payload
// field is missing.
func (c *Consumer) parseMessage(raw redis.XMessage) *Message {
	payload, ok := raw.Values[PayloadField].(string)
	if !ok {
		return nil
	}

	msg := &Message{
		ID:      raw.ID,
		Topic:   c.topic,
		Payload: []byte(payload),
	}

	if key, hasKey := raw.Values[KeyField].(string); hasKey {
		msg.Key = key
	}

	if published, hasTime := raw.Values[PublishedAtField].(string); hasTime {
		if t, parseErr := time.Parse(time.RFC3339, published); parseErr == nil {
			msg.PublishedAt = t
		}
	}

	return msg
}

// Group returns the consumer group name.
func (c *Consumer) Group() string {
	return c.group
}

// ConsumerID returns the consumer identifier.
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}
