// Package scheduler drains the frontier on a fixed tick, applies robots and
// rate-limit gates, and dispatches fetch requests onto the bus.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/queue"
)

const (
	// DefaultInterval is the tick period.
	DefaultInterval = 10 * time.Second

	// DefaultBatchSize is the number of jobs polled per tick.
	DefaultBatchSize = 100
)

// RobotsChecker gates URLs on robots.txt rules.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, canonicalURL string) (bool, error)
}

// WindowLimiter enforces the per-domain minute budget.
type WindowLimiter interface {
	AllowWindow(ctx context.Context, domain string, window time.Duration, maxRequests int) (bool, error)
}

// Publisher emits fetch requests onto the bus.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) (string, error)
}

// Config holds scheduler settings.
type Config struct {
	Interval          time.Duration
	BatchSize         int
	WindowSeconds     int
	WindowMaxRequests int
}

// Scheduler runs the dispatch loop.
type Scheduler struct {
	frontier  *frontier.Frontier
	robots    RobotsChecker
	limiter   WindowLimiter
	publisher Publisher
	metrics   *metrics.Metrics
	log       logger.Logger

	interval   time.Duration
	batchSize  int
	window     time.Duration
	windowMax  int
}

// New creates a scheduler. Zero config fields fall back to defaults.
func New(
	f *frontier.Frontier,
	robots RobotsChecker,
	limiter WindowLimiter,
	publisher Publisher,
	m *metrics.Metrics,
	log logger.Logger,
	cfg Config,
) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	windowSeconds := cfg.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	windowMax := cfg.WindowMaxRequests
	if windowMax <= 0 {
		windowMax = 60
	}

	return &Scheduler{
		frontier:  f,
		robots:    robots,
		limiter:   limiter,
		publisher: publisher,
		metrics:   m,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
		window:    time.Duration(windowSeconds) * time.Second,
		windowMax: windowMax,
	}
}

// Run executes ticks until the context is cancelled. The in-flight tick
// finishes its database writes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler starting",
		logger.Duration("interval", s.interval),
		logger.Int("batch_size", s.batchSize),
		logger.String("strategy", s.frontier.StrategyName()),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			// The tick runs on a background context so cancellation drains
			// the current batch instead of abandoning half-written state.
			if err := s.Tick(context.WithoutCancel(ctx)); err != nil {
				s.log.Error("scheduler tick failed", logger.Error(err))
			}
		}
	}
}

// Tick polls one batch and dispatches each job.
func (s *Scheduler) Tick(ctx context.Context) error {
	jobs, err := s.frontier.PollReady(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("scheduler poll: %w", err)
	}

	for i := range jobs {
		s.dispatch(ctx, &jobs[i])
	}

	return nil
}

// dispatch pushes one job through the robots and rate-limit gates and onto
// the bus. Failures are job-local: they are logged and the loop moves on.
func (s *Scheduler) dispatch(ctx context.Context, job *domain.CrawlJob) {
	allowed, err := s.robots.IsAllowed(ctx, job.URL)
	if err != nil {
		s.log.Warn("robots check failed, requeueing",
			logger.String("url", job.URL), logger.Error(err))
		s.requeue(ctx, job, "robots_error", err)
		return
	}

	if !allowed {
		if blockErr := s.frontier.MarkBlocked(ctx, job, "disallowed by robots.txt"); blockErr != nil {
			s.log.Error("failed to mark job blocked",
				logger.String("job_id", job.ID), logger.Error(blockErr))
			return
		}
		s.metrics.JobsBlockedTotal.Inc()
		s.log.Debug("job blocked by robots", logger.String("url", job.URL))
		return
	}

	withinBudget, err := s.limiter.AllowWindow(ctx, job.Domain, s.window, s.windowMax)
	if err != nil {
		s.requeue(ctx, job, "limiter_error", err)
		return
	}

	if !withinBudget {
		s.requeue(ctx, job, "rate_limited",
			domain.NewError(domain.KindRateLimited, fmt.Errorf("minute budget exhausted for %s", job.Domain)))
		return
	}

	request := domain.FetchRequest{
		JobID:      job.ID,
		URL:        job.URL,
		Domain:     job.Domain,
		Depth:      job.Depth,
		MaxDepth:   job.MaxDepth,
		Priority:   job.Priority,
		RetryCount: job.RetryCount,
		Timestamp:  time.Now().UTC(),
	}

	if _, err = s.publisher.Publish(ctx, queue.TopicCrawlRequests, job.Domain, request); err != nil {
		s.requeue(ctx, job, "bus_error",
			domain.NewError(domain.KindBusUnavailable, err))
		return
	}

	if err = s.frontier.MarkInProgress(ctx, job); err != nil {
		// Another scheduler instance claimed the job between poll and CAS.
		// The fetcher's idempotency check absorbs the duplicate message.
		s.log.Debug("job already claimed", logger.String("job_id", job.ID))
		return
	}

	s.metrics.JobsScheduledTotal.Inc()
}

// requeue pushes a job back with backoff, logging on failure.
func (s *Scheduler) requeue(ctx context.Context, job *domain.CrawlJob, reason string, cause error) {
	if err := s.frontier.RequeueWithBackoff(ctx, job, cause); err != nil {
		s.log.Error("failed to requeue job",
			logger.String("job_id", job.ID), logger.Error(err))
		return
	}

	s.metrics.JobsRequeuedTotal.WithLabelValues(reason).Inc()
}
