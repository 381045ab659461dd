package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/seekerlabs/crawld/internal/domain"
)

// HistoryRepository appends and reads crawl history records.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Insert appends an audit row for a terminal fetch outcome.
func (r *HistoryRepository) Insert(ctx context.Context, record *domain.CrawlHistoryRecord) error {
	query := `
		INSERT INTO crawl_history (crawl_url_id, url, status_code, content_type,
			content_size_bytes, content_hash, crawled_at, duration_ms,
			outbound_links_count, error_message, error_type, duplicate_of_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.db.QueryRowContext(
		ctx, query,
		record.CrawlURLID, record.URL, record.StatusCode, record.ContentType,
		record.ContentSize, record.ContentHash, record.CrawledAt, record.DurationMs,
		record.OutboundLinks, record.ErrorMessage, record.ErrorType, record.DuplicateOfURL,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert crawl history: %w", err)
	}

	return nil
}

// ListByJob returns the history rows for one crawl job, newest first.
func (r *HistoryRepository) ListByJob(ctx context.Context, crawlURLID string) ([]domain.CrawlHistoryRecord, error) {
	query := `
		SELECT id, crawl_url_id, url, status_code, content_type, content_size_bytes,
			content_hash, crawled_at, duration_ms, outbound_links_count,
			error_message, error_type, duplicate_of_url
		FROM crawl_history
		WHERE crawl_url_id = $1
		ORDER BY crawled_at DESC
	`

	var records []domain.CrawlHistoryRecord
	if err := r.db.SelectContext(ctx, &records, query, crawlURLID); err != nil {
		return nil, fmt.Errorf("failed to list crawl history: %w", err)
	}

	return records, nil
}
