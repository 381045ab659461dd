package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

// DefaultConcurrency is the number of indexing goroutines.
const DefaultConcurrency = 2

// MessageSource delivers bus messages with manual acknowledgement.
type MessageSource interface {
	Read(ctx context.Context) ([]*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
}

// DeadLetterer routes unprocessable messages to the dead-letter stream.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, msg *queue.Message, failureCount int, lastError string) (string, error)
}

// DocumentStore writes searchable documents keyed by canonical URL hash.
type DocumentStore interface {
	IndexDocument(ctx context.Context, urlHash string, doc any) error
}

// GraphStore maintains the page nodes and link edges read by the ranker.
type GraphStore interface {
	UpsertNode(ctx context.Context, url, urlHash string) (int64, error)
	UpsertEdge(ctx context.Context, sourceID, targetID int64, anchorText string) error
}

// Config holds the indexer tunables.
type Config struct {
	Concurrency int
}

// Indexer consumes content events, writes each page into the document store,
// and records its outbound edges in the link graph. Indexing is idempotent:
// documents are keyed by URL hash and edges are unique per pair, so
// redelivered events converge on the same state.
type Indexer struct {
	source  MessageSource
	deadLet DeadLetterer
	store   DocumentStore
	graph   GraphStore
	metrics *metrics.Metrics
	log     logger.Logger

	concurrency int
}

// New wires an indexer. Zero config fields fall back to defaults.
func New(
	source MessageSource,
	deadLet DeadLetterer,
	store DocumentStore,
	graph GraphStore,
	m *metrics.Metrics,
	log logger.Logger,
	cfg Config,
) *Indexer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Indexer{
		source:      source,
		deadLet:     deadLet,
		store:       store,
		graph:       graph,
		metrics:     m,
		log:         log,
		concurrency: concurrency,
	}
}

// Run starts the indexing goroutines and blocks until the context is
// cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.log.Info("indexer starting", logger.Int("concurrency", ix.concurrency))

	g, ctx := errgroup.WithContext(ctx)

	for range ix.concurrency {
		g.Go(func() error {
			ix.loop(ctx)
			return nil
		})
	}

	err := g.Wait()
	ix.log.Info("indexer stopped")

	return err
}

// loop reads and processes batches until cancellation.
func (ix *Indexer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := ix.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ix.log.Error("read content events failed", logger.Error(err))
			continue
		}

		for _, msg := range messages {
			ix.Process(ctx, msg)
		}
	}
}

// Process indexes one content event. Store failures leave the message
// unacknowledged so the bus redelivers it; malformed payloads dead-letter.
func (ix *Indexer) Process(ctx context.Context, msg *queue.Message) {
	var event domain.ContentEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		ix.deadLetter(ctx, msg, fmt.Sprintf("malformed content event: %v", err))
		ix.ack(ctx, msg)
		return
	}

	urlHash := urlnorm.HashCanonical(event.URL)
	doc := buildDocument(&event)

	if err := ix.store.IndexDocument(ctx, urlHash, doc); err != nil {
		ix.log.Error("index document failed",
			logger.String("url", event.URL), logger.Error(err))
		return
	}

	if err := ix.updateGraph(ctx, &event, urlHash); err != nil {
		ix.log.Error("update link graph failed",
			logger.String("url", event.URL), logger.Error(err))
		return
	}

	ix.metrics.DocumentsIndexedTotal.Inc()
	ix.ack(ctx, msg)
}

// buildDocument maps a content event onto the document store contract. Tokens
// come from the title and body so heading terms are searchable even when the
// body is thin.
func buildDocument(event *domain.ContentEvent) *domain.WebDocument {
	return &domain.WebDocument{
		URL:             event.URL,
		Title:           event.Title,
		MetaDescription: event.MetaDescription,
		Content:         event.Text,
		Tokens:          Tokenize(event.Title + " " + event.Text),
		OutboundLinks:   event.OutboundLinks,
		Language:        event.Language,
		ContentHash:     event.ContentHash,
		CrawledAt:       event.CrawledAt,
		SizeBytes:       int64(event.HTMLLength),
	}
}

// updateGraph upserts the source node and one edge per outbound link.
func (ix *Indexer) updateGraph(ctx context.Context, event *domain.ContentEvent, urlHash string) error {
	sourceID, err := ix.graph.UpsertNode(ctx, event.URL, urlHash)
	if err != nil {
		return err
	}

	for _, target := range event.OutboundLinks {
		targetID, nodeErr := ix.graph.UpsertNode(ctx, target, urlnorm.HashCanonical(target))
		if nodeErr != nil {
			return nodeErr
		}

		if edgeErr := ix.graph.UpsertEdge(ctx, sourceID, targetID, ""); edgeErr != nil {
			return edgeErr
		}
	}

	return nil
}

// ack acknowledges the message, logging on failure.
func (ix *Indexer) ack(ctx context.Context, msg *queue.Message) {
	if err := ix.source.Ack(ctx, msg); err != nil {
		ix.log.Error("ack failed", logger.String("message_id", msg.ID), logger.Error(err))
	}
}

// deadLetter copies the message to the dead-letter stream.
func (ix *Indexer) deadLetter(ctx context.Context, msg *queue.Message, lastError string) {
	if _, err := ix.deadLet.PublishDeadLetter(ctx, msg, 0, lastError); err != nil {
		ix.log.Error("dead letter publish failed",
			logger.String("message_id", msg.ID), logger.Error(err))
		return
	}

	ix.metrics.DeadLettersTotal.WithLabelValues(msg.Topic).Inc()
}
