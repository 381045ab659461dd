package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/queue"
)

func newTestStreams(t *testing.T) (*queue.StreamsClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return queue.NewStreamsClientFromRedis(client, "crawld"), mr
}

type testEvent struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	streams, _ := newTestStreams(t)

	producer := queue.NewProducer(streams, queue.ProducerConfig{})
	consumer, err := queue.NewConsumer(ctx, streams, queue.ConsumerConfig{
		Topic:        queue.TopicCrawlRequests,
		Group:        "fetchers",
		ConsumerID:   "fetcher-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	event := testEvent{URL: "https://example.com/", Depth: 0}

	id, err := producer.Publish(ctx, queue.TopicCrawlRequests, "example.com", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	messages, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	require.Equal(t, "example.com", msg.Key)
	require.Equal(t, queue.TopicCrawlRequests, msg.Topic)

	var decoded testEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, event, decoded)

	require.NoError(t, consumer.Ack(ctx, msg))

	pending, err := consumer.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestConsumer_UnackedStaysPending(t *testing.T) {
	ctx := context.Background()
	streams, _ := newTestStreams(t)

	producer := queue.NewProducer(streams, queue.ProducerConfig{})
	consumer, err := queue.NewConsumer(ctx, streams, queue.ConsumerConfig{
		Topic:        queue.TopicNewLinks,
		Group:        "ingestors",
		ConsumerID:   "ingestor-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = producer.Publish(ctx, queue.TopicNewLinks, "example.com", testEvent{URL: "https://example.com/a"})
	require.NoError(t, err)

	messages, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	pending, err := consumer.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)
}

func TestConsumer_ReclaimsIdlePending(t *testing.T) {
	ctx := context.Background()
	streams, mr := newTestStreams(t)

	producer := queue.NewProducer(streams, queue.ProducerConfig{})

	crashed, err := queue.NewConsumer(ctx, streams, queue.ConsumerConfig{
		Topic:        queue.TopicCrawlRequests,
		Group:        "fetchers",
		ConsumerID:   "fetcher-crashed",
		BlockTimeout: 50 * time.Millisecond,
		ClaimMinIdle: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = producer.Publish(ctx, queue.TopicCrawlRequests, "example.com", testEvent{URL: "https://example.com/"})
	require.NoError(t, err)

	// Deliver to the first consumer and never ack, simulating a crash.
	messages, err := crashed.Read(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// miniredis's FastForward only advances TTLs; SetTime is what moves the
	// clock that stream pending idle times are measured against.
	mr.SetTime(time.Now().Add(time.Second))

	survivor, err := queue.NewConsumer(ctx, streams, queue.ConsumerConfig{
		Topic:        queue.TopicCrawlRequests,
		Group:        "fetchers",
		ConsumerID:   "fetcher-survivor",
		BlockTimeout: 50 * time.Millisecond,
		ClaimMinIdle: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	reclaimed, err := survivor.Read(ctx)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, messages[0].ID, reclaimed[0].ID)
}

func TestProducer_DeadLetterCarriesProvenance(t *testing.T) {
	ctx := context.Background()
	streams, _ := newTestStreams(t)

	producer := queue.NewProducer(streams, queue.ProducerConfig{})

	msg := &queue.Message{
		ID:      "1-0",
		Topic:   queue.TopicCrawlRequests,
		Key:     "example.com",
		Payload: []byte(`{"url":"https://example.com/"}`),
	}

	_, err := producer.PublishDeadLetter(ctx, msg, 3, "fetch network: connection refused")
	require.NoError(t, err)

	dlq, err := queue.NewConsumer(ctx, streams, queue.ConsumerConfig{
		Topic:        queue.TopicDeadLetter,
		Group:        "dlq-readers",
		ConsumerID:   "reader-1",
		BlockTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	messages, err := dlq.Read(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "example.com", messages[0].Key)
	require.JSONEq(t, string(msg.Payload), string(messages[0].Payload))

	depth, err := producer.QueueDepth(ctx, queue.TopicDeadLetter)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}
