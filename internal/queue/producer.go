package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Stream message field names.
const (
	KeyField         = "key"
	PayloadField     = "payload"
	PublishedAtField = "published_at"

	// Dead-letter header fields.
	OriginalTopicField = "original_topic"
	FailureCountField  = "failure_count"
	LastErrorField     = "last_error"
)

// defaultMaxStreamLen bounds stream growth; roughly 7 days of traffic at the
// default crawl rate.
const defaultMaxStreamLen = 1_000_000

// Producer publishes pipeline events to topic streams.
type Producer struct {
	client       *StreamsClient
	maxStreamLen int64
}

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	MaxStreamLen int64 // maximum per-stream length (0 = default)
}

// NewProducer creates a new producer.
func NewProducer(client *StreamsClient, cfg ProducerConfig) *Producer {
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}

	return &Producer{
		client:       client,
		maxStreamLen: maxLen,
	}
}

// Publish serializes the payload as JSON and appends it to the topic. The
// key carries the partitioning identity (registrable domain or URL) and
// travels with the message for consumers that need it.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize payload: %w", err)
	}

	values := map[string]any{
		KeyField:         key,
		PayloadField:     string(data),
		PublishedAtField: time.Now().UTC().Format(time.RFC3339),
	}

	id, addErr := p.client.XAdd(ctx, topic, p.maxStreamLen, values)
	if addErr != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", topic, addErr)
	}

	return id, nil
}

// PublishDeadLetter copies a failed message onto the dead-letter stream with
// its failure provenance headers.
func (p *Producer) PublishDeadLetter(ctx context.Context, msg *Message, failureCount int, lastError string) (string, error) {
	values := map[string]any{
		KeyField:           msg.Key,
		PayloadField:       string(msg.Payload),
		PublishedAtField:   time.Now().UTC().Format(time.RFC3339),
		OriginalTopicField: msg.Topic,
		FailureCountField:  failureCount,
		LastErrorField:     lastError,
	}

	id, err := p.client.XAdd(ctx, TopicDeadLetter, p.maxStreamLen, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish dead letter: %w", err)
	}

	return id, nil
}

// QueueDepth returns the current length of a topic's stream.
func (p *Producer) QueueDepth(ctx context.Context, topic string) (int64, error) {
	return p.client.XLen(ctx, topic)
}
