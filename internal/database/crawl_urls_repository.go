package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/seekerlabs/crawld/internal/domain"
)

// ErrJobNotFound is returned when a crawl job lookup or guarded update
// matches no row. Callers should check with errors.Is().
var ErrJobNotFound = errors.New("crawl job not found")

// ErrStatusConflict is returned when a compare-and-set status transition
// finds the job in a different status than expected.
var ErrStatusConflict = errors.New("crawl job status conflict")

// crawlURLColumns lists the columns for SELECT queries on crawl_urls.
const crawlURLColumns = `id, url, url_hash, normalized_url, domain, status, priority, depth,
	max_depth, retry_count, max_retries, scheduled_at, crawled_at, last_error,
	etag, last_modified, created_at`

// CrawlURLRepository handles database operations for the crawl frontier.
type CrawlURLRepository struct {
	db *sqlx.DB
}

// NewCrawlURLRepository creates a new crawl URL repository.
func NewCrawlURLRepository(db *sqlx.DB) *CrawlURLRepository {
	return &CrawlURLRepository{db: db}
}

// InsertPending upserts a job in pending status. On conflict (same url_hash)
// the existing row wins: a URL already in the frontier, in flight, or
// completed is not re-queued.
func (r *CrawlURLRepository) InsertPending(ctx context.Context, job *domain.CrawlJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}

	query := `
		INSERT INTO crawl_urls (id, url, url_hash, normalized_url, domain, status, priority,
			depth, max_depth, retry_count, max_retries, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (url_hash) DO NOTHING
	`

	_, err := r.db.ExecContext(
		ctx, query,
		job.ID, job.URL, job.URLHash, job.NormalizedURL, job.Domain,
		domain.JobStatusPending, job.Priority, job.Depth, job.MaxDepth,
		job.RetryCount, job.MaxRetries, job.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crawl job: %w", err)
	}

	return nil
}

// PollReady selects up to limit top-priority pending jobs whose scheduled
// time has arrived. Concurrent scheduler instances may poll overlapping
// batches; the compare-and-set transition to in_progress decides which
// instance claims each job.
func (r *CrawlURLRepository) PollReady(ctx context.Context, limit int) ([]domain.CrawlJob, error) {
	query := `
		SELECT ` + crawlURLColumns + `
		FROM crawl_urls
		WHERE status = $1 AND scheduled_at <= NOW()
		ORDER BY priority DESC, depth ASC, created_at ASC
		LIMIT $2
	`

	var jobs []domain.CrawlJob
	if err := r.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to poll ready jobs: %w", err)
	}

	return jobs, nil
}

// GetByHash returns the job for a canonical URL hash.
func (r *CrawlURLRepository) GetByHash(ctx context.Context, urlHash string) (*domain.CrawlJob, error) {
	query := `SELECT ` + crawlURLColumns + ` FROM crawl_urls WHERE url_hash = $1`

	var job domain.CrawlJob
	err := r.db.GetContext(ctx, &job, query, urlHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl job: %w", err)
	}

	return &job, nil
}

// GetByID returns the job with the given id.
func (r *CrawlURLRepository) GetByID(ctx context.Context, id string) (*domain.CrawlJob, error) {
	query := `SELECT ` + crawlURLColumns + ` FROM crawl_urls WHERE id = $1`

	var job domain.CrawlJob
	err := r.db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl job: %w", err)
	}

	return &job, nil
}

// TransitionStatus moves a job from one status to another with a
// compare-and-set on the old status.
func (r *CrawlURLRepository) TransitionStatus(ctx context.Context, id string, from, to string) error {
	query := `UPDATE crawl_urls SET status = $1 WHERE id = $2 AND status = $3`

	result, execErr := r.db.ExecContext(ctx, query, to, id, from)

	return execRequireRows(result, execErr, fmt.Errorf("%w: %s not in %s", ErrStatusConflict, id, from))
}

// Requeue returns a job to pending with a new scheduled time, incrementing
// its retry count and recording the error that caused the requeue.
func (r *CrawlURLRepository) Requeue(ctx context.Context, id string, scheduledAt time.Time, lastError string) error {
	query := `
		UPDATE crawl_urls
		SET status = $1,
			scheduled_at = $2,
			retry_count = retry_count + 1,
			last_error = NULLIF($3, '')
		WHERE id = $4
	`

	result, execErr := r.db.ExecContext(ctx, query, domain.JobStatusPending, scheduledAt, lastError, id)

	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrJobNotFound, id))
}

// MarkCompleted records a successful crawl with its conditional-request
// headers for revisits.
func (r *CrawlURLRepository) MarkCompleted(ctx context.Context, id string, etag, lastModified *string) error {
	query := `
		UPDATE crawl_urls
		SET status = $1,
			crawled_at = NOW(),
			last_error = NULL,
			etag = $2,
			last_modified = $3
		WHERE id = $4
	`

	result, execErr := r.db.ExecContext(ctx, query, domain.JobStatusCompleted, etag, lastModified, id)

	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrJobNotFound, id))
}

// MarkFailed records a terminal failure.
func (r *CrawlURLRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE crawl_urls
		SET status = $1, last_error = $2, crawled_at = NOW()
		WHERE id = $3
	`

	result, execErr := r.db.ExecContext(ctx, query, domain.JobStatusFailed, lastError, id)

	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrJobNotFound, id))
}

// MarkBlocked records that robots rules forbid the URL.
func (r *CrawlURLRepository) MarkBlocked(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE crawl_urls
		SET status = $1, last_error = $2
		WHERE id = $3
	`

	result, execErr := r.db.ExecContext(ctx, query, domain.JobStatusBlocked, reason, id)

	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrJobNotFound, id))
}

// CountsByStatus returns the number of jobs per status.
func (r *CrawlURLRepository) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM crawl_urls GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", scanErr)
		}
		counts[status] = count
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", rowsErr)
	}

	return counts, nil
}

// PendingCount returns the frontier size.
func (r *CrawlURLRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64

	query := `SELECT COUNT(*) FROM crawl_urls WHERE status = $1`
	if err := r.db.GetContext(ctx, &count, query, domain.JobStatusPending); err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}

	return count, nil
}
