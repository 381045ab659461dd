package domain

import "time"

// FetchRequest is the message the scheduler publishes on the crawl-requests
// stream. The stream key is the registrable domain so all fetches for a
// domain land on one consumer.
type FetchRequest struct {
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	Domain     string    `json:"domain"`
	Depth      int       `json:"depth"`
	MaxDepth   int       `json:"maxDepth"`
	Priority   float64   `json:"priority"`
	RetryCount int       `json:"retryCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// ContentEvent is published on the pages stream for every fetched page that
// is not a near-duplicate. Keyed by canonical URL.
type ContentEvent struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"metaDescription"`
	Text            string    `json:"text"`
	HTMLLength      int       `json:"htmlLen"`
	OutboundLinks   []string  `json:"outboundLinks"`
	StatusCode      int       `json:"statusCode"`
	ContentType     string    `json:"contentType"`
	Language        string    `json:"language"`
	CrawledAt       time.Time `json:"crawledAt"`
	ContentHash     string    `json:"contentHash"`
}

// LinkDiscoveryEvent is published on the new-links stream for every outbound
// link found on a fetched page. Keyed by the target's registrable domain.
type LinkDiscoveryEvent struct {
	URL           string    `json:"url"`
	SourceURL     string    `json:"sourceUrl"`
	Domain        string    `json:"domain"`
	AnchorText    string    `json:"anchor"`
	Depth         int       `json:"depth"`
	IsMainContent bool      `json:"isMainContent"`
	DiscoveredAt  time.Time `json:"discoveredAt"`
}

// WebDocument is the contract with the external full-text store.
type WebDocument struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"metaDescription"`
	Content         string    `json:"content"`
	Tokens          []string  `json:"tokens"`
	OutboundLinks   []string  `json:"outboundLinks"`
	Language        string    `json:"language"`
	ContentHash     string    `json:"contentHash"`
	PageRank        float64   `json:"pagerank"`
	CrawledAt       time.Time `json:"crawledAt"`
	SizeBytes       int64     `json:"sizeBytes"`
}
