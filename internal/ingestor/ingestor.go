// Package ingestor admits discovered links into the frontier. It consumes
// link-discovery events, applies the depth and seen-set gates, scores each
// survivor with the active strategy, and inserts it as a pending crawl job.
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

// DefaultConcurrency is the number of ingest goroutines.
const DefaultConcurrency = 2

// Drop reason labels for metrics.
const (
	dropMaxDepth   = "max_depth"
	dropInvalidURL = "invalid_url"
	dropSeen       = "seen"
)

// MessageSource delivers bus messages with manual acknowledgement.
type MessageSource interface {
	Read(ctx context.Context) ([]*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
}

// DeadLetterer routes unprocessable messages to the dead-letter stream.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, msg *queue.Message, failureCount int, lastError string) (string, error)
}

// SeenSet answers and records URL membership.
type SeenSet interface {
	Check(ctx context.Context, canonicalURL string) (bool, error)
	MarkSeen(ctx context.Context, canonicalURL string) error
}

// AuthoritySource provides per-domain authority scores for prioritization.
type AuthoritySource interface {
	Authority(ctx context.Context, domainName string) (float64, error)
}

// DomainCounter tracks per-domain discovery counts.
type DomainCounter interface {
	IncrementDiscovered(ctx context.Context, domainName string) error
}

// Config holds the ingestor tunables.
type Config struct {
	Concurrency int
	MaxDepth    int
	MaxRetries  int
}

// Ingestor filters and enqueues discovered links.
type Ingestor struct {
	source    MessageSource
	deadLet   DeadLetterer
	frontier  *frontier.Frontier
	norm      *urlnorm.Normalizer
	seen      SeenSet
	authority AuthoritySource
	counter   DomainCounter
	metrics   *metrics.Metrics
	log       logger.Logger

	concurrency int
	maxDepth    int
	maxRetries  int
}

// New wires a link ingestor. A nil normalizer uses the default
// tracking-parameter set; zero config fields fall back to defaults.
func New(
	source MessageSource,
	deadLet DeadLetterer,
	f *frontier.Frontier,
	norm *urlnorm.Normalizer,
	seen SeenSet,
	authority AuthoritySource,
	counter DomainCounter,
	m *metrics.Metrics,
	log logger.Logger,
	cfg Config,
) *Ingestor {
	if norm == nil {
		norm = urlnorm.New(nil)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = domain.DefaultMaxDepth
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	return &Ingestor{
		source:      source,
		deadLet:     deadLet,
		frontier:    f,
		norm:        norm,
		seen:        seen,
		authority:   authority,
		counter:     counter,
		metrics:     m,
		log:         log,
		concurrency: concurrency,
		maxDepth:    maxDepth,
		maxRetries:  maxRetries,
	}
}

// Run starts the ingest goroutines and blocks until the context is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	i.log.Info("link ingestor starting", logger.Int("concurrency", i.concurrency))

	g, ctx := errgroup.WithContext(ctx)

	for range i.concurrency {
		g.Go(func() error {
			i.loop(ctx)
			return nil
		})
	}

	err := g.Wait()
	i.log.Info("link ingestor stopped")

	return err
}

// loop reads and processes batches until cancellation.
func (i *Ingestor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := i.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			i.log.Error("read link events failed", logger.Error(err))
			continue
		}

		for _, msg := range messages {
			i.Process(ctx, msg)
		}
	}
}

// Process handles one link-discovery event. Every path acknowledges the
// message: dropped links are deliberate, and enqueue failures requeue through
// bus redelivery only when the store write itself failed.
func (i *Ingestor) Process(ctx context.Context, msg *queue.Message) {
	var event domain.LinkDiscoveryEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		i.deadLetter(ctx, msg, fmt.Sprintf("malformed link event: %v", err))
		i.ack(ctx, msg)
		return
	}

	if event.Depth > i.maxDepth {
		i.drop(ctx, msg, dropMaxDepth)
		return
	}

	canonical, err := i.norm.Normalize(event.URL)
	if err != nil {
		i.drop(ctx, msg, dropInvalidURL)
		return
	}

	alreadySeen, err := i.seen.Check(ctx, canonical)
	if err != nil {
		// Seen-set down: leave unacked so the message is redelivered.
		i.log.Error("seen check failed", logger.String("url", canonical), logger.Error(err))
		return
	}
	if alreadySeen {
		i.drop(ctx, msg, dropSeen)
		return
	}

	if enqueueErr := i.enqueue(ctx, &event, canonical); enqueueErr != nil {
		i.log.Error("enqueue failed", logger.String("url", canonical), logger.Error(enqueueErr))
		return
	}

	i.metrics.LinksDiscoveredTotal.Inc()
	i.ack(ctx, msg)
}

// enqueue scores the link and inserts it as a pending job, then records it in
// the seen set and the per-domain counters.
func (i *Ingestor) enqueue(ctx context.Context, event *domain.LinkDiscoveryEvent, canonical string) error {
	domainName := event.Domain
	if domainName == "" {
		var derr error
		domainName, derr = urlnorm.RegistrableDomain(canonical)
		if derr != nil {
			return derr
		}
	}

	authority, err := i.authority.Authority(ctx, domainName)
	if err != nil {
		return fmt.Errorf("domain authority: %w", err)
	}

	job := &domain.CrawlJob{
		URL:           canonical,
		URLHash:       urlnorm.HashCanonical(canonical),
		NormalizedURL: canonical,
		Domain:        domainName,
		Depth:         event.Depth,
		MaxDepth:      i.maxDepth,
		MaxRetries:    i.maxRetries,
		ScheduledAt:   time.Now(),
	}

	sig := frontier.Signals{
		URL:             canonical,
		Depth:           event.Depth,
		DomainAuthority: authority,
	}

	if err := i.frontier.Enqueue(ctx, job, sig); err != nil {
		return err
	}

	if seenErr := i.seen.MarkSeen(ctx, canonical); seenErr != nil {
		i.log.Error("mark seen failed", logger.String("url", canonical), logger.Error(seenErr))
	}

	if countErr := i.counter.IncrementDiscovered(ctx, domainName); countErr != nil {
		i.log.Error("increment discovered failed",
			logger.String("domain", domainName), logger.Error(countErr))
	}

	return nil
}

// drop counts a dropped link and acknowledges the message.
func (i *Ingestor) drop(ctx context.Context, msg *queue.Message, reason string) {
	i.metrics.LinksDroppedTotal.WithLabelValues(reason).Inc()
	i.ack(ctx, msg)
}

// ack acknowledges the message, logging on failure.
func (i *Ingestor) ack(ctx context.Context, msg *queue.Message) {
	if err := i.source.Ack(ctx, msg); err != nil {
		i.log.Error("ack failed", logger.String("message_id", msg.ID), logger.Error(err))
	}
}

// deadLetter copies the message to the dead-letter stream.
func (i *Ingestor) deadLetter(ctx context.Context, msg *queue.Message, lastError string) {
	if _, err := i.deadLet.PublishDeadLetter(ctx, msg, 0, lastError); err != nil {
		i.log.Error("dead letter publish failed",
			logger.String("message_id", msg.ID), logger.Error(err))
		return
	}

	i.metrics.DeadLettersTotal.WithLabelValues(msg.Topic).Inc()
}
