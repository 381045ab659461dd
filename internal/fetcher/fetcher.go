package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/seekerlabs/crawld/internal/domain"
)

const (
	// DefaultConnectTimeout bounds TCP connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds the whole request including body read.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxBodyBytes is the response size cap.
	DefaultMaxBodyBytes = 5 * 1024 * 1024

	// maxRedirects bounds redirect chains.
	maxRedirects = 5

	// acceptHeader advertises that only HTML is wanted.
	acceptHeader = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1"
)

// Result is the outcome of one fetch. On HTTP status errors the result is
// still returned alongside the classified error so callers can record the
// status code.
type Result struct {
	StatusCode   int
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
	Duration     time.Duration
	NotModified  bool
}

// Fetcher performs polite HTTP GETs with size and redirect bounds.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewFetcher creates a fetcher. Zero values use the defaults.
func NewFetcher(userAgent string, maxBodyBytes int64, requestTimeout time.Duration) *Fetcher {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	client := &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: DefaultConnectTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: 4,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:       client,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch GETs the URL. etag and lastModified, when non-nil, are sent as
// conditional headers; a 304 comes back as NotModified with no error.
// Failures carry a classified pipeline error kind.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, etag, lastModified *string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidURL, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	if etag != nil && *etag != "" {
		req.Header.Set("If-None-Match", *etag)
	}
	if lastModified != nil && *lastModified != "" {
		req.Header.Set("If-Modified-Since", *lastModified)
	}

	start := time.Now()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindFetchNetwork, fmt.Errorf("http fetch: %w", err))
	}
	defer resp.Body.Close()

	result := &Result{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		result.Duration = time.Since(start)
		return result, nil
	}

	if statusErr := classifyStatus(resp.StatusCode); statusErr != nil {
		// Drain so the connection can be reused, but keep nothing.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBodyBytes))
		result.Duration = time.Since(start)
		return result, statusErr
	}

	// Read one byte past the cap to detect oversized bodies.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	result.Duration = time.Since(start)

	if readErr != nil {
		return result, domain.NewError(domain.KindFetchNetwork, fmt.Errorf("read response body: %w", readErr))
	}

	if int64(len(body)) > f.maxBodyBytes {
		return result, domain.NewError(domain.KindFetchTooLarge,
			fmt.Errorf("response exceeds %d bytes", f.maxBodyBytes))
	}

	result.Body = body

	return result, nil
}

// classifyStatus maps a non-success HTTP status onto the error taxonomy.
// 429 is rate limiting, other 4xx are terminal, 5xx are retryable.
func classifyStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return domain.NewError(domain.KindRateLimited, fmt.Errorf("http status %d", statusCode))
	case statusCode >= 400 && statusCode < 500:
		return domain.NewError(domain.KindFetchHTTP4xx, fmt.Errorf("http status %d", statusCode))
	case statusCode >= 500:
		return domain.NewError(domain.KindFetchHTTP5xx, fmt.Errorf("http status %d", statusCode))
	default:
		// 3xx reaching here means the redirect chain was cut off.
		return domain.NewError(domain.KindFetchNetwork, fmt.Errorf("unexpected http status %d", statusCode))
	}
}
