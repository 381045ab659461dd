package domain

import "time"

// PageNode is a vertex in the link graph. PageRank fields are mutated only by
// the ranker; everything else is written when a page completes.
type PageNode struct {
	ID               int64      `db:"id"                   json:"id"`
	URL              string     `db:"url"                  json:"url"`
	URLHash          string     `db:"url_hash"             json:"url_hash"`
	PageRankScore    float64    `db:"pagerank_score"       json:"pagerank_score"`
	PreviousScore    float64    `db:"previous_score"       json:"previous_score"`
	InboundLinks     int        `db:"inbound_links_count"  json:"inbound_links_count"`
	OutboundLinks    int        `db:"outbound_links_count" json:"outbound_links_count"`
	LastCalculatedAt *time.Time `db:"last_calculated_at"   json:"last_calculated_at,omitempty"`
}

// LinkEdge is a directed edge between two page nodes. Immutable once written;
// unique on (source, target).
type LinkEdge struct {
	ID           int64  `db:"id"             json:"id"`
	SourcePageID int64  `db:"source_page_id" json:"source_page_id"`
	TargetPageID int64  `db:"target_page_id" json:"target_page_id"`
	AnchorText   string `db:"anchor_text"    json:"anchor_text"`
}

// DomainProfile tracks per-registrable-domain crawl state: cached robots.txt,
// politeness settings, and rolling counters.
type DomainProfile struct {
	ID                 int64      `db:"id"                    json:"id"`
	Domain             string     `db:"domain"                json:"domain"`
	RobotsTxtContent   *string    `db:"robots_txt_content"    json:"robots_txt_content,omitempty"`
	RobotsTxtFetchedAt *time.Time `db:"robots_txt_fetched_at" json:"robots_txt_fetched_at,omitempty"`
	RobotsTxtExpiresAt *time.Time `db:"robots_txt_expires_at" json:"robots_txt_expires_at,omitempty"`
	CrawlDelaySeconds  float64    `db:"crawl_delay_seconds"   json:"crawl_delay_seconds"`
	DisallowedPaths    *string    `db:"disallowed_paths"      json:"disallowed_paths,omitempty"`
	SitemapURLs        *string    `db:"sitemap_urls"          json:"sitemap_urls,omitempty"`
	TotalDiscovered    int64      `db:"total_urls_discovered" json:"total_urls_discovered"`
	TotalCrawled       int64      `db:"total_urls_crawled"    json:"total_urls_crawled"`
	TotalFailed        int64      `db:"total_urls_failed"     json:"total_urls_failed"`
	LastCrawlAt        *time.Time `db:"last_crawl_at"         json:"last_crawl_at,omitempty"`
	RequestsPerMinute  int        `db:"requests_per_minute"   json:"requests_per_minute"`
	AuthorityScore     float64    `db:"domain_authority_score" json:"domain_authority_score"`
	AvgResponseTimeMs  float64    `db:"avg_response_time_ms"  json:"avg_response_time_ms"`
}

// CrawlHistoryRecord is the append-only audit row written on every terminal
// fetch outcome.
type CrawlHistoryRecord struct {
	ID             int64     `db:"id"                   json:"id"`
	CrawlURLID     string    `db:"crawl_url_id"         json:"crawl_url_id"`
	URL            string    `db:"url"                  json:"url"`
	StatusCode     int       `db:"status_code"          json:"status_code"`
	ContentType    string    `db:"content_type"         json:"content_type"`
	ContentSize    int64     `db:"content_size_bytes"   json:"content_size_bytes"`
	ContentHash    *string   `db:"content_hash"         json:"content_hash,omitempty"`
	CrawledAt      time.Time `db:"crawled_at"           json:"crawled_at"`
	DurationMs     int64     `db:"duration_ms"          json:"duration_ms"`
	OutboundLinks  int       `db:"outbound_links_count" json:"outbound_links_count"`
	ErrorMessage   *string   `db:"error_message"        json:"error_message,omitempty"`
	ErrorType      *string   `db:"error_type"           json:"error_type,omitempty"`
	DuplicateOfURL *string   `db:"duplicate_of_url"     json:"duplicate_of_url,omitempty"`
}
