package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seekerlabs/crawld/internal/domain"
)

// DefaultDomainAuthority is the authority score for an unknown domain.
const DefaultDomainAuthority = 0.5

// Authority uplifts for institutional top-level domains.
const (
	eduAuthorityUplift = 0.35
	govAuthorityUplift = 0.30
)

// domainMetadataColumns lists columns for SELECT queries on domain_metadata.
const domainMetadataColumns = `id, domain, robots_txt_content, robots_txt_fetched_at,
	robots_txt_expires_at, crawl_delay_seconds, disallowed_paths, sitemap_urls,
	total_urls_discovered, total_urls_crawled, total_urls_failed, last_crawl_at,
	requests_per_minute, domain_authority_score, avg_response_time_ms`

// DomainMetadataRepository handles per-domain crawl state.
type DomainMetadataRepository struct {
	db *sqlx.DB
}

// NewDomainMetadataRepository creates a new domain metadata repository.
func NewDomainMetadataRepository(db *sqlx.DB) *DomainMetadataRepository {
	return &DomainMetadataRepository{db: db}
}

// Get returns the profile for a domain, or nil when none is recorded.
func (r *DomainMetadataRepository) Get(ctx context.Context, domainName string) (*domain.DomainProfile, error) {
	query := `SELECT ` + domainMetadataColumns + ` FROM domain_metadata WHERE domain = $1`

	var profile domain.DomainProfile
	err := r.db.GetContext(ctx, &profile, query, domainName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain metadata: %w", err)
	}

	return &profile, nil
}

// Authority returns the domain's authority score. Unknown domains get the
// default with institutional TLD uplifts applied.
func (r *DomainMetadataRepository) Authority(ctx context.Context, domainName string) (float64, error) {
	profile, err := r.Get(ctx, domainName)
	if err != nil {
		return 0, err
	}

	if profile != nil {
		return profile.AuthorityScore, nil
	}

	return BaselineAuthority(domainName), nil
}

// BaselineAuthority computes the authority for a domain absent any recorded
// profile.
func BaselineAuthority(domainName string) float64 {
	score := DefaultDomainAuthority

	switch {
	case strings.HasSuffix(domainName, ".edu"):
		score += eduAuthorityUplift
	case strings.HasSuffix(domainName, ".gov"):
		score += govAuthorityUplift
	}

	return score
}

// RecordRobots upserts the cached robots.txt data for a domain.
func (r *DomainMetadataRepository) RecordRobots(
	ctx context.Context,
	domainName, robotsContent string,
	expiresAt time.Time,
	crawlDelaySeconds float64,
	sitemapURLs []string,
) error {
	query := `
		INSERT INTO domain_metadata (domain, robots_txt_content, robots_txt_fetched_at,
			robots_txt_expires_at, crawl_delay_seconds, sitemap_urls, domain_authority_score)
		VALUES ($1, $2, NOW(), $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (domain) DO UPDATE SET
			robots_txt_content = EXCLUDED.robots_txt_content,
			robots_txt_fetched_at = EXCLUDED.robots_txt_fetched_at,
			robots_txt_expires_at = EXCLUDED.robots_txt_expires_at,
			crawl_delay_seconds = EXCLUDED.crawl_delay_seconds,
			sitemap_urls = EXCLUDED.sitemap_urls
	`

	_, err := r.db.ExecContext(
		ctx, query,
		domainName, robotsContent, expiresAt, crawlDelaySeconds,
		strings.Join(sitemapURLs, "\n"), BaselineAuthority(domainName),
	)
	if err != nil {
		return fmt.Errorf("failed to record robots metadata: %w", err)
	}

	return nil
}

// IncrementDiscovered bumps the discovered-URL counter for a domain,
// creating the profile on first sight.
func (r *DomainMetadataRepository) IncrementDiscovered(ctx context.Context, domainName string) error {
	query := `
		INSERT INTO domain_metadata (domain, total_urls_discovered, domain_authority_score)
		VALUES ($1, 1, $2)
		ON CONFLICT (domain) DO UPDATE SET
			total_urls_discovered = domain_metadata.total_urls_discovered + 1
	`

	if _, err := r.db.ExecContext(ctx, query, domainName, BaselineAuthority(domainName)); err != nil {
		return fmt.Errorf("failed to increment discovered count: %w", err)
	}

	return nil
}

// RecordCrawl updates the per-domain counters after a fetch attempt.
func (r *DomainMetadataRepository) RecordCrawl(ctx context.Context, domainName string, succeeded bool, responseTime time.Duration) error {
	query := `
		INSERT INTO domain_metadata (domain, total_urls_crawled, total_urls_failed,
			last_crawl_at, avg_response_time_ms, domain_authority_score)
		VALUES ($1, $2, $3, NOW(), $4, $5)
		ON CONFLICT (domain) DO UPDATE SET
			total_urls_crawled = domain_metadata.total_urls_crawled + $2,
			total_urls_failed = domain_metadata.total_urls_failed + $3,
			last_crawl_at = NOW(),
			avg_response_time_ms = (domain_metadata.avg_response_time_ms + $4) / 2
	`

	crawled, failed := 0, 1
	if succeeded {
		crawled, failed = 1, 0
	}

	_, err := r.db.ExecContext(
		ctx, query,
		domainName, crawled, failed, float64(responseTime.Milliseconds()),
		BaselineAuthority(domainName),
	)
	if err != nil {
		return fmt.Errorf("failed to record crawl counters: %w", err)
	}

	return nil
}

// SetAuthority overrides a domain's authority score.
func (r *DomainMetadataRepository) SetAuthority(ctx context.Context, domainName string, score float64) error {
	query := `
		INSERT INTO domain_metadata (domain, domain_authority_score)
		VALUES ($1, $2)
		ON CONFLICT (domain) DO UPDATE SET domain_authority_score = $2
	`

	if _, err := r.db.ExecContext(ctx, query, domainName, score); err != nil {
		return fmt.Errorf("failed to set domain authority: %w", err)
	}

	return nil
}
