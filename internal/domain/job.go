// Package domain holds the core entities of the ingestion pipeline. Each
// logical entity has exactly one in-memory representation; store and bus
// adapters convert at the edges.
package domain

import "time"

// CrawlJob status constants.
const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusBlocked    = "blocked"
)

// DefaultMaxRetries is the retry budget for a crawl job.
const DefaultMaxRetries = 3

// DefaultMaxDepth is the hard drop depth for discovered links.
const DefaultMaxDepth = 3

// CrawlJob is one URL's lifecycle from discovery to terminal state. The URL
// is always in canonical form; url_hash is unique across the frontier.
type CrawlJob struct {
	ID            string     `db:"id"             json:"id"`
	URL           string     `db:"url"            json:"url"`
	URLHash       string     `db:"url_hash"       json:"url_hash"`
	NormalizedURL string     `db:"normalized_url" json:"normalized_url"`
	Domain        string     `db:"domain"         json:"domain"`
	Status        string     `db:"status"         json:"status"`
	Priority      float64    `db:"priority"       json:"priority"`
	Depth         int        `db:"depth"          json:"depth"`
	MaxDepth      int        `db:"max_depth"      json:"max_depth"`
	RetryCount    int        `db:"retry_count"    json:"retry_count"`
	MaxRetries    int        `db:"max_retries"    json:"max_retries"`
	ScheduledAt   time.Time  `db:"scheduled_at"   json:"scheduled_at"`
	CrawledAt     *time.Time `db:"crawled_at"     json:"crawled_at,omitempty"`
	LastError     *string    `db:"last_error"     json:"last_error,omitempty"`
	ETag          *string    `db:"etag"           json:"etag,omitempty"`
	LastModified  *string    `db:"last_modified"  json:"last_modified,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *CrawlJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusBlocked:
		return true
	case JobStatusFailed:
		return j.RetryCount >= j.MaxRetries
	default:
		return false
	}
}
