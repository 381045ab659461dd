package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seekerlabs/crawld/internal/breaker"
	"github.com/seekerlabs/crawld/internal/dedup"
	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/ratelimit"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

const (
	// DefaultConcurrency is the number of worker goroutines.
	DefaultConcurrency = 4

	// DefaultMutexTTL is the domain lock lifetime per fetch.
	DefaultMutexTTL = 30 * time.Second

	// mutexAcquireBudget is how long a worker waits for the domain lock
	// before requeueing the job.
	mutexAcquireBudget = 10 * time.Second

	// rateLimitedRequeueDelay reschedules a job whose domain bucket is empty.
	rateLimitedRequeueDelay = 5 * time.Second

	// sweepInterval is how often idle circuit breakers are evicted.
	sweepInterval = 10 * time.Minute
)

// Fetch outcome labels for metrics.
const (
	outcomeSuccess     = "success"
	outcomeNotModified = "not_modified"
	outcomeDuplicate   = "duplicate"
	outcomeFailed      = "failed"
	outcomeRequeued    = "requeued"
	outcomeSkipped     = "skipped"
)

// JobStore is the slice of the frontier repository the worker needs.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.CrawlJob, error)
	GetByHash(ctx context.Context, urlHash string) (*domain.CrawlJob, error)
	MarkCompleted(ctx context.Context, id string, etag, lastModified *string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	Requeue(ctx context.Context, id string, scheduledAt time.Time, lastError string) error
}

// HistoryWriter appends crawl audit rows.
type HistoryWriter interface {
	Insert(ctx context.Context, record *domain.CrawlHistoryRecord) error
}

// DomainProfiles records per-domain crawl counters.
type DomainProfiles interface {
	RecordCrawl(ctx context.Context, domainName string, succeeded bool, responseTime time.Duration) error
}

// MessageSource delivers bus messages with manual acknowledgement.
type MessageSource interface {
	Read(ctx context.Context) ([]*queue.Message, error)
	Ack(ctx context.Context, msg *queue.Message) error
}

// Bus publishes pipeline events and dead letters.
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload any) (string, error)
	PublishDeadLetter(ctx context.Context, msg *queue.Message, failureCount int, lastError string) (string, error)
}

// TokenLimiter consumes per-domain fetch tokens.
type TokenLimiter interface {
	Allow(ctx context.Context, domain string, capacity, refillPerSec float64) (bool, error)
}

// CrawlDelaySource reports the robots.txt crawl-delay a domain declares, or
// zero when none is set. A declared delay overrides the static bucket refill
// rate.
type CrawlDelaySource interface {
	CrawlDelay(ctx context.Context, domain string) (time.Duration, error)
}

// CircuitExecutor runs a call under the domain's circuit breaker.
type CircuitExecutor interface {
	Execute(ctx context.Context, domainName string, fn func() error) error
	Sweep() int
}

// DomainLock serializes fetches for one registrable domain.
type DomainLock interface {
	AcquireWithRetry(ctx context.Context, deadline time.Duration) error
	Release(ctx context.Context) error
}

// LockFactory builds a fresh lock (with its own owner token) per fetch.
type LockFactory func(domainName string) DomainLock

// NearDupIndex is the SimHash fingerprint index.
type NearDupIndex interface {
	FindNearDuplicate(ctx context.Context, fingerprint uint64) (*dedup.Match, error)
	Store(ctx context.Context, urlHash string, fingerprint uint64) error
}

// CashDistributor forwards a completed page's priority cash to its links.
// Wired only when the OPIC strategy is active.
type CashDistributor interface {
	Distribute(ctx context.Context, sourceURL string, outboundURLs []string) error
}

// WorkerConfig holds the tunables for the fetch worker pool.
type WorkerConfig struct {
	Concurrency      int
	MaxRetries       int
	MutexTTL         time.Duration
	RateCapacity     float64
	RateRefillPerSec float64
}

// Worker consumes fetch requests and drives each job to a terminal state:
// completed, requeued with backoff, or dead-lettered.
type Worker struct {
	source   MessageSource
	bus      Bus
	fetcher  *Fetcher
	extract  *Extractor
	jobs     JobStore
	history  HistoryWriter
	profiles DomainProfiles
	limiter  TokenLimiter
	delays   CrawlDelaySource
	circuit  CircuitExecutor
	locks    LockFactory
	neardup  NearDupIndex
	cash     CashDistributor
	metrics  *metrics.Metrics
	log      logger.Logger

	concurrency  int
	maxRetries   int
	mutexTTL     time.Duration
	rateCapacity float64
	rateRefill   float64
}

// NewWorker wires a fetch worker pool. cash may be nil when the active
// strategy does not track link cash; delays may be nil to always use the
// static refill rate.
func NewWorker(
	source MessageSource,
	bus Bus,
	fetcher *Fetcher,
	extractor *Extractor,
	jobs JobStore,
	history HistoryWriter,
	profiles DomainProfiles,
	limiter TokenLimiter,
	delays CrawlDelaySource,
	circuit CircuitExecutor,
	locks LockFactory,
	neardup NearDupIndex,
	cash CashDistributor,
	m *metrics.Metrics,
	log logger.Logger,
	cfg WorkerConfig,
) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	mutexTTL := cfg.MutexTTL
	if mutexTTL <= 0 {
		mutexTTL = DefaultMutexTTL
	}

	return &Worker{
		source:       source,
		bus:          bus,
		fetcher:      fetcher,
		extract:      extractor,
		jobs:         jobs,
		history:      history,
		profiles:     profiles,
		limiter:      limiter,
		delays:       delays,
		circuit:      circuit,
		locks:        locks,
		neardup:      neardup,
		cash:         cash,
		metrics:      m,
		log:          log,
		concurrency:  concurrency,
		maxRetries:   maxRetries,
		mutexTTL:     mutexTTL,
		rateCapacity: cfg.RateCapacity,
		rateRefill:   cfg.RateRefillPerSec,
	}
}

// Run starts the worker goroutines and blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("fetch workers starting", logger.Int("concurrency", w.concurrency))

	g, ctx := errgroup.WithContext(ctx)

	for i := range w.concurrency {
		workerID := i

		g.Go(func() error {
			w.loop(ctx, workerID)
			return nil
		})
	}

	g.Go(func() error {
		w.sweepLoop(ctx)
		return nil
	})

	err := g.Wait()
	w.log.Info("fetch workers stopped")

	return err
}

// loop reads and processes batches until cancellation.
func (w *Worker) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("read fetch requests failed",
				logger.Int("worker_id", workerID), logger.Error(err))
			continue
		}

		for _, msg := range messages {
			w.Process(ctx, msg)
		}
	}
}

// sweepLoop periodically evicts idle circuit breakers.
func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.circuit.Sweep()
		}
	}
}

// Process handles one fetch request to a terminal decision. The message is
// always acknowledged; retryable failures re-enter through the frontier with
// backoff, not through bus redelivery, so the pending list stays small.
func (w *Worker) Process(ctx context.Context, msg *queue.Message) {
	var req domain.FetchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.deadLetter(ctx, msg, 0, fmt.Sprintf("malformed fetch request: %v", err))
		w.ack(ctx, msg)
		return
	}

	job, err := w.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		// Unknown job: the row was deleted or the message predates a reset.
		w.log.Warn("fetch request for unknown job",
			logger.String("job_id", req.JobID), logger.Error(err))
		w.ack(ctx, msg)
		return
	}

	// Idempotency: a duplicate delivery after completion is a no-op.
	if job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusBlocked {
		w.metrics.FetchesTotal.WithLabelValues(outcomeSkipped).Inc()
		w.ack(ctx, msg)
		return
	}

	if req.RetryCount >= w.maxRetries {
		w.terminate(ctx, msg, job, &req, nil, domain.NewError(domain.KindFetchNetwork,
			fmt.Errorf("retry budget exhausted after %d attempts", req.RetryCount)))
		return
	}

	lock := w.locks(req.Domain)
	if lockErr := lock.AcquireWithRetry(ctx, mutexAcquireBudget); lockErr != nil {
		w.requeue(ctx, msg, job, domain.NewError(domain.KindMutexUnavailable, lockErr))
		return
	}
	defer w.releaseLock(ctx, lock, req.Domain)

	allowed, limitErr := w.limiter.Allow(ctx, req.Domain, w.rateCapacity, w.refillFor(ctx, req.Domain))
	if limitErr != nil {
		w.requeue(ctx, msg, job, domain.NewError(domain.KindStoreUnavailable, limitErr))
		return
	}
	if !allowed {
		w.requeueAfter(ctx, msg, job, rateLimitedRequeueDelay,
			domain.NewError(domain.KindRateLimited, fmt.Errorf("token bucket empty for %s", req.Domain)))
		return
	}

	var result *Result

	fetchErr := w.circuit.Execute(ctx, req.Domain, func() error {
		var innerErr error
		result, innerErr = w.fetcher.Fetch(ctx, req.URL, job.ETag, job.LastModified)
		return innerErr
	})

	w.recordProfile(ctx, req.Domain, fetchErr == nil, result)

	if fetchErr != nil {
		w.handleFetchError(ctx, msg, job, &req, result, fetchErr)
		return
	}

	if result.NotModified {
		w.handleNotModified(ctx, msg, job, &req, result)
		return
	}

	w.handleSuccess(ctx, msg, job, &req, result)
}

// refillFor resolves the bucket refill rate for a domain. A robots.txt
// crawl-delay overrides the static rate; lookup failures fall back to it.
func (w *Worker) refillFor(ctx context.Context, domainName string) float64 {
	if w.delays == nil {
		return w.rateRefill
	}

	delay, err := w.delays.CrawlDelay(ctx, domainName)
	if err != nil || delay <= 0 {
		return w.rateRefill
	}

	return ratelimit.RefillForCrawlDelay(delay)
}

// handleFetchError routes a classified fetch failure: retryable kinds go back
// to the frontier with backoff until the budget runs out, terminal kinds fail
// the job immediately.
func (w *Worker) handleFetchError(
	ctx context.Context,
	msg *queue.Message,
	job *domain.CrawlJob,
	req *domain.FetchRequest,
	result *Result,
	fetchErr error,
) {
	if domain.IsRetryable(fetchErr) && req.RetryCount+1 < w.maxRetries {
		delay := frontier.BackoffDelay(job.RetryCount)

		// A rejected call never reaches the breaker's probe window before
		// its open timeout elapses, so an earlier retry would be rejected
		// again.
		if domain.KindOf(fetchErr) == domain.KindCircuitOpen && delay < breaker.OpenTimeout {
			delay = breaker.OpenTimeout
		}

		w.requeueAfter(ctx, msg, job, delay, fetchErr)
		return
	}

	w.terminate(ctx, msg, job, req, result, fetchErr)
}

// handleNotModified completes the job without re-extracting: the stored
// document is still current.
func (w *Worker) handleNotModified(
	ctx context.Context,
	msg *queue.Message,
	job *domain.CrawlJob,
	req *domain.FetchRequest,
	result *Result,
) {
	if err := w.jobs.MarkCompleted(ctx, job.ID, job.ETag, job.LastModified); err != nil {
		w.log.Error("mark completed failed", logger.String("job_id", job.ID), logger.Error(err))
	}

	w.writeHistory(ctx, job, req, &domain.CrawlHistoryRecord{
		StatusCode:  result.StatusCode,
		ContentType: result.ContentType,
		DurationMs:  result.Duration.Milliseconds(),
	})

	w.metrics.RecordFetch(outcomeNotModified, result.Duration.Seconds(), 0)
	w.ack(ctx, msg)
}

// handleSuccess extracts the page, applies near-duplicate detection, and
// emits content and link-discovery events.
func (w *Worker) handleSuccess(
	ctx context.Context,
	msg *queue.Message,
	job *domain.CrawlJob,
	req *domain.FetchRequest,
	result *Result,
) {
	content, extractErr := w.extract.Extract(req.URL, result.Body)
	if extractErr != nil {
		w.terminate(ctx, msg, job, req, result, extractErr)
		return
	}

	fingerprint := dedup.SimHash(content.Text)

	match, dupErr := w.neardup.FindNearDuplicate(ctx, fingerprint)
	if dupErr != nil {
		w.requeue(ctx, msg, job, domain.NewError(domain.KindStoreUnavailable, dupErr))
		return
	}

	if match != nil {
		w.completeDuplicate(ctx, msg, job, req, result, content, match)
		return
	}

	if storeErr := w.neardup.Store(ctx, job.URLHash, fingerprint); storeErr != nil {
		w.log.Error("fingerprint store failed",
			logger.String("url", req.URL), logger.Error(storeErr))
	}

	event := domain.ContentEvent{
		URL:             req.URL,
		Title:           content.Title,
		MetaDescription: content.MetaDescription,
		Text:            content.Text,
		HTMLLength:      content.HTMLLength,
		OutboundLinks:   content.LinkURLs(),
		StatusCode:      result.StatusCode,
		ContentType:     result.ContentType,
		Language:        content.Language,
		CrawledAt:       time.Now().UTC(),
		ContentHash:     content.ContentHash,
	}

	if _, pubErr := w.bus.Publish(ctx, queue.TopicPages, req.URL, event); pubErr != nil {
		w.requeue(ctx, msg, job, domain.NewError(domain.KindBusUnavailable, pubErr))
		return
	}

	w.publishLinks(ctx, req, content.Links)
	w.distributeCash(ctx, req.URL, content.LinkURLs())
	w.complete(ctx, job, result)

	w.writeHistory(ctx, job, req, &domain.CrawlHistoryRecord{
		StatusCode:    result.StatusCode,
		ContentType:   result.ContentType,
		ContentSize:   int64(content.HTMLLength),
		ContentHash:   &content.ContentHash,
		DurationMs:    result.Duration.Milliseconds(),
		OutboundLinks: len(content.Links),
	})

	w.metrics.RecordFetch(outcomeSuccess, result.Duration.Seconds(), int64(len(result.Body)))
	w.ack(ctx, msg)
}

// completeDuplicate finishes a near-duplicate page: the job completes and its
// links still enter the frontier, but no content event is published and the
// fingerprint is not stored.
func (w *Worker) completeDuplicate(
	ctx context.Context,
	msg *queue.Message,
	job *domain.CrawlJob,
	req *domain.FetchRequest,
	result *Result,
	content *ExtractedContent,
	match *dedup.Match,
) {
	duplicateOf := match.URLHash
	if original, err := w.jobs.GetByHash(ctx, match.URLHash); err == nil {
		duplicateOf = original.URL
	}

	w.publishLinks(ctx, req, content.Links)
	w.complete(ctx, job, result)

	w.writeHistory(ctx, job, req, &domain.CrawlHistoryRecord{
		StatusCode:     result.StatusCode,
		ContentType:    result.ContentType,
		ContentSize:    int64(content.HTMLLength),
		ContentHash:    &content.ContentHash,
		DurationMs:     result.Duration.Milliseconds(),
		OutboundLinks:  len(content.Links),
		DuplicateOfURL: &duplicateOf,
	})

	w.metrics.DuplicatesTotal.Inc()
	w.metrics.RecordFetch(outcomeDuplicate, result.Duration.Seconds(), int64(len(result.Body)))
	w.log.Debug("near-duplicate page",
		logger.String("url", req.URL),
		logger.String("duplicate_of", duplicateOf),
		logger.Int("distance", match.Distance),
	)
	w.ack(ctx, msg)
}

// publishLinks emits one discovery event per outbound link at depth+1. A
// publish failure drops that link; re-discovery from another page recovers it.
func (w *Worker) publishLinks(ctx context.Context, req *domain.FetchRequest, links []Link) {
	now := time.Now().UTC()

	for _, link := range links {
		targetDomain, err := urlnorm.RegistrableDomain(link.URL)
		if err != nil {
			continue
		}

		event := domain.LinkDiscoveryEvent{
			URL:          link.URL,
			SourceURL:    req.URL,
			Domain:       targetDomain,
			AnchorText:   link.AnchorText,
			Depth:        req.Depth + 1,
			DiscoveredAt: now,
		}

		if _, pubErr := w.bus.Publish(ctx, queue.TopicNewLinks, targetDomain, event); pubErr != nil {
			w.log.Error("link discovery publish failed",
				logger.String("url", link.URL), logger.Error(pubErr))
		}
	}
}

// distributeCash forwards the page's cash to its links when OPIC is active.
func (w *Worker) distributeCash(ctx context.Context, sourceURL string, outbound []string) {
	if w.cash == nil {
		return
	}

	if err := w.cash.Distribute(ctx, sourceURL, outbound); err != nil {
		w.log.Error("cash distribution failed",
			logger.String("url", sourceURL), logger.Error(err))
	}
}

// complete marks the job completed with its conditional-request headers.
func (w *Worker) complete(ctx context.Context, job *domain.CrawlJob, result *Result) {
	var etag, lastModified *string
	if result.ETag != "" {
		etag = &result.ETag
	}
	if result.LastModified != "" {
		lastModified = &result.LastModified
	}

	if err := w.jobs.MarkCompleted(ctx, job.ID, etag, lastModified); err != nil {
		w.log.Error("mark completed failed", logger.String("job_id", job.ID), logger.Error(err))
	}
}

// terminate fails the job permanently, records history, and dead-letters the
// message when the failure was retryable but the budget ran out.
func (w *Worker) terminate(
	ctx context.Context,
	msg *queue.Message,
	job *domain.CrawlJob,
	req *domain.FetchRequest,
	result *Result,
	cause error,
) {
	if err := w.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		w.log.Error("mark failed failed", logger.String("job_id", job.ID), logger.Error(err))
	}

	record := &domain.CrawlHistoryRecord{}
	if result != nil {
		record.StatusCode = result.StatusCode
		record.ContentType = result.ContentType
		record.DurationMs = result.Duration.Milliseconds()
	}

	message := cause.Error()
	record.ErrorMessage = &message

	if kind := domain.KindOf(cause); kind != "" {
		kindStr := string(kind)
		record.ErrorType = &kindStr
	}

	w.writeHistory(ctx, job, req, record)

	if domain.IsRetryable(cause) {
		w.deadLetter(ctx, msg, req.RetryCount, cause.Error())
	}

	w.metrics.RecordFetch(outcomeFailed, 0, 0)
	w.log.Warn("job failed",
		logger.String("url", req.URL), logger.Error(cause))
	w.ack(ctx, msg)
}

// requeue pushes the job back with exponential backoff and acks the message.
func (w *Worker) requeue(ctx context.Context, msg *queue.Message, job *domain.CrawlJob, cause error) {
	w.requeueAfter(ctx, msg, job, frontier.BackoffDelay(job.RetryCount), cause)
}

// requeueAfter pushes the job back with an explicit delay.
func (w *Worker) requeueAfter(
	ctx context.Context,
	msg *queue.Message,
	job *domain.CrawlJob,
	delay time.Duration,
	cause error,
) {
	if err := w.jobs.Requeue(ctx, job.ID, time.Now().Add(delay), cause.Error()); err != nil {
		w.log.Error("requeue failed", logger.String("job_id", job.ID), logger.Error(err))
	}

	w.metrics.FetchesTotal.WithLabelValues(outcomeRequeued).Inc()
	w.ack(ctx, msg)
}

// writeHistory appends the audit row, filling in the job identity fields.
func (w *Worker) writeHistory(
	ctx context.Context,
	job *domain.CrawlJob,
	req *domain.FetchRequest,
	record *domain.CrawlHistoryRecord,
) {
	record.CrawlURLID = job.ID
	record.URL = req.URL
	if record.CrawledAt.IsZero() {
		record.CrawledAt = time.Now().UTC()
	}

	if err := w.history.Insert(ctx, record); err != nil {
		w.log.Error("history insert failed", logger.String("job_id", job.ID), logger.Error(err))
	}
}

// recordProfile updates the per-domain counters after a fetch attempt.
func (w *Worker) recordProfile(ctx context.Context, domainName string, succeeded bool, result *Result) {
	var duration time.Duration
	if result != nil {
		duration = result.Duration
	}

	if err := w.profiles.RecordCrawl(ctx, domainName, succeeded, duration); err != nil {
		w.log.Error("record crawl counters failed",
			logger.String("domain", domainName), logger.Error(err))
	}
}

// releaseLock releases the domain lock, tolerating expiry.
func (w *Worker) releaseLock(ctx context.Context, lock DomainLock, domainName string) {
	if err := lock.Release(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Debug("lock release",
			logger.String("domain", domainName), logger.Error(err))
	}
}

// ack acknowledges the message, logging on failure.
func (w *Worker) ack(ctx context.Context, msg *queue.Message) {
	if err := w.source.Ack(ctx, msg); err != nil {
		w.log.Error("ack failed", logger.String("message_id", msg.ID), logger.Error(err))
	}
}

// deadLetter copies the message to the dead-letter stream.
func (w *Worker) deadLetter(ctx context.Context, msg *queue.Message, failureCount int, lastError string) {
	if _, err := w.bus.PublishDeadLetter(ctx, msg, failureCount, lastError); err != nil {
		w.log.Error("dead letter publish failed",
			logger.String("message_id", msg.ID), logger.Error(err))
		return
	}

	w.metrics.DeadLettersTotal.WithLabelValues(msg.Topic).Inc()
}
