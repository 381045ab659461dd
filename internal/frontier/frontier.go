package frontier

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/seekerlabs/crawld/internal/domain"
)

const (
	// DefaultPollLimit is the scheduler's per-tick batch size.
	DefaultPollLimit = 100

	// backoffBase is the first retry delay; each retry doubles it.
	backoffBase = 30 * time.Second

	// backoffCap bounds the exponential growth.
	backoffCap = time.Hour
)

// Store is the persistence contract the frontier runs on. The relational
// crawl_urls repository satisfies it.
type Store interface {
	InsertPending(ctx context.Context, job *domain.CrawlJob) error
	PollReady(ctx context.Context, limit int) ([]domain.CrawlJob, error)
	TransitionStatus(ctx context.Context, id string, from, to string) error
	Requeue(ctx context.Context, id string, scheduledAt time.Time, lastError string) error
	MarkBlocked(ctx context.Context, id string, reason string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
}

// Frontier is the persistent priority queue of pending crawl jobs. Priority
// is assigned at enqueue time by the active strategy and stored on the job,
// so polling is a pure ORDER BY over the pending set. The strategy can be
// swapped at runtime; already-queued jobs keep their old scores.
type Frontier struct {
	store Store

	mu       sync.RWMutex
	strategy Strategy
}

// New creates a frontier over the given store and prioritization strategy.
func New(store Store, strategy Strategy) *Frontier {
	return &Frontier{store: store, strategy: strategy}
}

// StrategyName reports the active prioritization strategy.
func (f *Frontier) StrategyName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.strategy.Name()
}

// SetStrategy swaps the prioritization strategy for future enqueues.
func (f *Frontier) SetStrategy(strategy Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.strategy = strategy
}

// Enqueue scores the job with the active strategy and inserts it in PENDING
// status. Duplicate URL hashes are absorbed by the store's upsert.
func (f *Frontier) Enqueue(ctx context.Context, job *domain.CrawlJob, sig Signals) error {
	f.mu.RLock()
	strategy := f.strategy
	f.mu.RUnlock()

	priority, err := strategy.Priority(ctx, sig)
	if err != nil {
		return fmt.Errorf("frontier priority: %w", err)
	}

	job.Priority = priority
	job.Status = domain.JobStatusPending

	if err := f.store.InsertPending(ctx, job); err != nil {
		return fmt.Errorf("frontier enqueue: %w", err)
	}

	return nil
}

// EnqueueWithPriority inserts the job in PENDING status with an explicit
// priority, bypassing the strategy. Used for operator-seeded URLs.
func (f *Frontier) EnqueueWithPriority(ctx context.Context, job *domain.CrawlJob, priority float64) error {
	job.Priority = priority
	job.Status = domain.JobStatusPending

	if err := f.store.InsertPending(ctx, job); err != nil {
		return fmt.Errorf("frontier enqueue: %w", err)
	}

	return nil
}

// PollReady returns up to limit top-priority pending jobs whose scheduled
// time has arrived.
func (f *Frontier) PollReady(ctx context.Context, limit int) ([]domain.CrawlJob, error) {
	if limit <= 0 {
		limit = DefaultPollLimit
	}

	jobs, err := f.store.PollReady(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("frontier poll: %w", err)
	}

	return jobs, nil
}

// MarkInProgress transitions a job from PENDING to IN_PROGRESS. The store
// compares the old status, so a job another scheduler instance already
// claimed fails the transition.
func (f *Frontier) MarkInProgress(ctx context.Context, job *domain.CrawlJob) error {
	if err := f.store.TransitionStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusInProgress); err != nil {
		return fmt.Errorf("frontier mark in progress: %w", err)
	}

	job.Status = domain.JobStatusInProgress

	return nil
}

// RequeueWithBackoff pushes a job back to PENDING with an exponentially
// delayed, jittered scheduled time derived from its retry count.
func (f *Frontier) RequeueWithBackoff(ctx context.Context, job *domain.CrawlJob, cause error) error {
	delay := BackoffDelay(job.RetryCount)

	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	if err := f.store.Requeue(ctx, job.ID, time.Now().Add(delay), lastError); err != nil {
		return fmt.Errorf("frontier requeue: %w", err)
	}

	return nil
}

// MarkBlocked records that robots rules forbid the job's URL.
func (f *Frontier) MarkBlocked(ctx context.Context, job *domain.CrawlJob, reason string) error {
	if err := f.store.MarkBlocked(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("frontier mark blocked: %w", err)
	}

	job.Status = domain.JobStatusBlocked

	return nil
}

// BackoffDelay computes the retry delay for the given attempt count with
// +/-25% jitter, capped at one hour.
func BackoffDelay(retryCount int) time.Duration {
	delay := backoffBase << uint(retryCount)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	jitter := time.Duration(rand.Int63n(int64(delay) / 2))

	return delay*3/4 + jitter
}
