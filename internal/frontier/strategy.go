// Package frontier holds the persistent priority queue of pending crawl jobs
// and the pluggable prioritization strategies that order it.
package frontier

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Strategy names accepted by configuration.
const (
	StrategyBFS       = "bfs"
	StrategyBestFirst = "best-first"
	StrategyOPIC      = "opic"
	StrategyFocused   = "focused"
)

// Signals carries the ranking inputs available when a URL is prioritized.
// Fields a strategy does not use are simply ignored.
type Signals struct {
	URL             string
	Depth           int
	PageRank        float64
	DomainAuthority float64
	ChangeFreq      float64
}

// Strategy scores a discovered URL. Higher priorities are scheduled sooner;
// ties are broken by lower depth, then earlier creation.
type Strategy interface {
	Name() string
	Priority(ctx context.Context, sig Signals) (float64, error)
}

// NewStrategy builds the configured strategy. The Redis client is only
// required for opic, which keeps its cash ledger in the KV store.
func NewStrategy(name string, client *redis.Client, highValueDomains []string) (Strategy, error) {
	switch name {
	case StrategyBFS:
		return BFS{}, nil
	case StrategyBestFirst:
		return BestFirst{}, nil
	case StrategyOPIC:
		if client == nil {
			return nil, fmt.Errorf("strategy %q requires a redis client", name)
		}
		return NewOPIC(client), nil
	case StrategyFocused:
		return NewFocused(highValueDomains), nil
	default:
		return nil, fmt.Errorf("unknown frontier strategy %q", name)
	}
}

// BFS visits shallower pages first.
type BFS struct{}

func (BFS) Name() string { return StrategyBFS }

func (BFS) Priority(_ context.Context, sig Signals) (float64, error) {
	return -float64(sig.Depth), nil
}

// BestFirst blends link popularity with domain authority, discounted by depth.
type BestFirst struct{}

func (BestFirst) Name() string { return StrategyBestFirst }

func (BestFirst) Priority(_ context.Context, sig Signals) (float64, error) {
	score := 0.7*sig.PageRank + 0.3*sig.DomainAuthority
	return score * 1000 / float64(sig.Depth+1), nil
}

// Focused steers the crawl toward content-bearing URLs on valuable domains.
type Focused struct {
	highValue map[string]struct{}
}

// NewFocused creates a focused strategy with an allowlist of domains that
// receive a 2x boost.
func NewFocused(highValueDomains []string) *Focused {
	allow := make(map[string]struct{}, len(highValueDomains))
	for _, d := range highValueDomains {
		allow[strings.ToLower(d)] = struct{}{}
	}
	return &Focused{highValue: allow}
}

func (f *Focused) Name() string { return StrategyFocused }

func (f *Focused) Priority(_ context.Context, sig Signals) (float64, error) {
	baseQuality := 1.0 + sig.PageRank
	freshnessBoost := 1.0 + sig.ChangeFreq/10

	domainBoost := 1.0
	if _, ok := f.highValue[domainOf(sig.URL)]; ok {
		domainBoost = 2.0
	}

	score := baseQuality * domainBoost * freshnessBoost * patternScore(sig.URL)

	return score / math.Sqrt(float64(sig.Depth)+1), nil
}

// contentPathMarkers are URL substrings that usually indicate article-style
// content worth prioritizing.
var contentPathMarkers = []string{"/article/", "/post/", "/tutorial/", "/doc/"}

// maxPathDepth is the segment count beyond which a URL is penalized.
const maxPathDepth = 6

// patternScore rewards content-looking paths and penalizes deep or
// query-string URLs.
func patternScore(rawURL string) float64 {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 1.0
	}

	score := 1.0

	lowerPath := strings.ToLower(parsed.Path)
	for _, marker := range contentPathMarkers {
		if strings.Contains(lowerPath, marker) {
			score += 0.5
			break
		}
	}

	if pathDepth(parsed.Path) > maxPathDepth {
		score *= 0.8
	}

	if parsed.RawQuery != "" {
		score *= 0.9
	}

	return score
}

// pathDepth counts non-empty path segments.
func pathDepth(p string) int {
	depth := 0
	for _, segment := range strings.Split(p, "/") {
		if segment != "" {
			depth++
		}
	}
	return depth
}

// domainOf extracts the lowercased host of a URL, or "" when unparseable.
func domainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
