// Package robots caches, parses, and evaluates robots.txt rules per
// registrable domain. The raw body is cached in Redis so all workers share
// one fetch; parsed rules are additionally cached in-process to avoid
// reparsing on every check.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/temoto/robotstxt"

	"github.com/seekerlabs/crawld/internal/urlnorm"
)

const (
	// DefaultCacheTTL is how long a robots.txt body stays cached.
	DefaultCacheTTL = 24 * time.Hour

	// DefaultFetchTimeout bounds the robots.txt fetch.
	DefaultFetchTimeout = 10 * time.Second

	// maxBodyBytes caps how much of a robots.txt response is read.
	maxBodyBytes = 500 * 1024

	// robotsKeyPrefix namespaces cached bodies in Redis.
	robotsKeyPrefix = "robots:"

	// robotsTxtPath is the well-known robots.txt location.
	robotsTxtPath = "/robots.txt"
)

// MetadataRecorder persists a freshly fetched robots.txt alongside the
// domain's metadata row.
type MetadataRecorder interface {
	RecordRobots(ctx context.Context, domainName, robotsContent string, expiresAt time.Time,
		crawlDelaySeconds float64, sitemapURLs []string) error
}

// Registry evaluates robots.txt rules for canonical URLs.
type Registry struct {
	client     *redis.Client
	httpClient *http.Client
	userAgent  string
	cacheTTL   time.Duration
	recorder   MetadataRecorder

	mu     sync.RWMutex
	parsed map[string]*parsedEntry // keyed by registrable domain
}

// parsedEntry holds parsed robots data with its expiry.
type parsedEntry struct {
	data      *robotstxt.RobotsData
	expiresAt time.Time
}

// NewRegistry creates a robots registry. A zero cacheTTL uses the 24-hour
// default; a nil httpClient gets a client with the default fetch timeout.
func NewRegistry(client *redis.Client, httpClient *http.Client, userAgent string, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultFetchTimeout}
	}

	return &Registry{
		client:     client,
		httpClient: httpClient,
		userAgent:  userAgent,
		cacheTTL:   cacheTTL,
		parsed:     make(map[string]*parsedEntry),
	}
}

// SetRecorder wires a metadata recorder. Each fresh robots.txt fetch then
// lands its body, crawl-delay, and sitemap URLs on the domain's metadata row.
func (r *Registry) SetRecorder(rec MetadataRecorder) {
	r.recorder = rec
}

// IsAllowed reports whether the registry's user agent may fetch the URL.
// Missing, unparseable, or errored robots.txt defaults to allow.
func (r *Registry) IsAllowed(ctx context.Context, canonicalURL string) (bool, error) {
	parsed, err := url.Parse(canonicalURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}

	domain, domainErr := urlnorm.RegistrableDomain(canonicalURL)
	if domainErr != nil {
		return false, fmt.Errorf("robots: %w", domainErr)
	}

	data, entryErr := r.entry(ctx, domain)
	if entryErr != nil {
		return false, entryErr
	}

	pathWithQuery := parsed.Path
	if parsed.RawQuery != "" {
		pathWithQuery += "?" + parsed.RawQuery
	}

	return data.TestAgent(pathWithQuery, r.userAgent), nil
}

// CrawlDelay returns the crawl-delay the domain declares for the registry's
// user agent, or 0 when none is set.
func (r *Registry) CrawlDelay(ctx context.Context, domain string) (time.Duration, error) {
	data, err := r.entry(ctx, domain)
	if err != nil {
		return 0, err
	}

	group := data.FindGroup(r.userAgent)
	if group == nil {
		return 0, nil
	}

	return group.CrawlDelay, nil
}

// Sitemaps returns the sitemap URLs the domain's robots.txt declares.
func (r *Registry) Sitemaps(ctx context.Context, domain string) ([]string, error) {
	data, err := r.entry(ctx, domain)
	if err != nil {
		return nil, err
	}

	return data.Sitemaps, nil
}

// entry returns parsed robots data for a domain, consulting the in-process
// cache, then Redis, then the network.
func (r *Registry) entry(ctx context.Context, domain string) (*robotstxt.RobotsData, error) {
	if data, ok := r.cachedParsed(domain); ok {
		return data, nil
	}

	body, found, redisErr := r.cachedBody(ctx, domain)
	if redisErr != nil {
		return nil, redisErr
	}

	if !found {
		var fetchErr error
		body, fetchErr = r.fetchAndCache(ctx, domain)
		if fetchErr != nil {
			return nil, fetchErr
		}
	}

	data, parseErr := robotstxt.FromBytes(body)
	if parseErr != nil {
		// Unparseable robots.txt defaults to allow.
		data = allowAllData()
	}

	if !found {
		r.record(ctx, domain, body, data)
	}

	r.mu.Lock()
	r.parsed[domain] = &parsedEntry{data: data, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()

	return data, nil
}

// record persists a freshly fetched robots.txt on the domain metadata row.
// Recording is best effort; a failed write is retried at the next refetch
// when the cache expires.
func (r *Registry) record(ctx context.Context, domain string, body []byte, data *robotstxt.RobotsData) {
	if r.recorder == nil {
		return
	}

	var delaySeconds float64
	if group := data.FindGroup(r.userAgent); group != nil {
		delaySeconds = group.CrawlDelay.Seconds()
	}

	_ = r.recorder.RecordRobots(ctx, domain, string(body),
		time.Now().Add(r.cacheTTL), delaySeconds, data.Sitemaps)
}

// cachedParsed returns the in-process parsed entry when fresh.
func (r *Registry) cachedParsed(domain string) (*robotstxt.RobotsData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.parsed[domain]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.data, true
}

// cachedBody looks up the cached robots.txt body in Redis.
func (r *Registry) cachedBody(ctx context.Context, domain string) ([]byte, bool, error) {
	body, err := r.client.Get(ctx, robotsKeyPrefix+domain).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("robots cache get: %w", err)
	}

	return body, true, nil
}

// fetchAndCache fetches robots.txt for the domain and caches the body in
// Redis. Network failures and non-2xx statuses cache an empty body, which
// evaluates as allow-all.
func (r *Registry) fetchAndCache(ctx context.Context, domain string) ([]byte, error) {
	body := r.doFetch(ctx, domain)

	if err := r.client.Set(ctx, robotsKeyPrefix+domain, body, r.cacheTTL).Err(); err != nil {
		return nil, fmt.Errorf("robots cache set: %w", err)
	}

	return body, nil
}

// doFetch performs the HTTP GET. Any failure degrades to an empty body.
func (r *Registry) doFetch(ctx context.Context, domain string) []byte {
	robotsURL := "https://" + domain + robotsTxtPath

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if reqErr != nil {
		return nil
	}

	req.Header.Set("User-Agent", r.userAgent)

	resp, doErr := r.httpClient.Do(req)
	if doErr != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil
	}

	limited := io.LimitReader(resp.Body, maxBodyBytes)

	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil
	}

	return body
}

// allowAllData builds a RobotsData that permits everything.
func allowAllData() *robotstxt.RobotsData {
	data, err := robotstxt.FromString("")
	if err != nil {
		// An empty body always parses.
		panic("robots: empty robots.txt failed to parse: " + err.Error())
	}
	return data
}

// Invalidate drops the cached state for a domain, forcing a refetch on the
// next check.
func (r *Registry) Invalidate(ctx context.Context, domain string) error {
	r.mu.Lock()
	delete(r.parsed, domain)
	r.mu.Unlock()

	if err := r.client.Del(ctx, robotsKeyPrefix+domain).Err(); err != nil {
		return fmt.Errorf("robots invalidate: %w", err)
	}

	return nil
}
