// Package dedup provides URL and content deduplication: a two-layer URL
// seen-set (in-process Bloom filter over an authoritative Redis key set) and
// a SimHash/LSH near-duplicate index for page text.
package dedup

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/seekerlabs/crawld/internal/urlnorm"
)

const (
	// DefaultBloomCapacity sizes the Bloom filter for expected insertions.
	DefaultBloomCapacity = 10_000_000

	// DefaultBloomFPR is the target false-positive rate at capacity.
	DefaultBloomFPR = 0.01

	// SeenTTL is how long an authoritative seen bit lives in Redis.
	SeenTTL = 30 * 24 * time.Hour

	// seenKeyPrefix namespaces authoritative seen bits.
	seenKeyPrefix = "seen:"

	// rebuildScanCount is the SCAN batch size during startup rebuild.
	rebuildScanCount = 1000
)

// URLSeen answers "has this URL entered the system?". The Bloom filter is an
// optimization only; Redis is authoritative. A negative Bloom answer is
// definitive, a positive one is verified against Redis.
type URLSeen struct {
	client   *redis.Client
	capacity uint
	fpr      float64

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewURLSeen creates a seen-set sized for the given capacity and
// false-positive rate. Zero values use the defaults.
func NewURLSeen(client *redis.Client, capacity uint, fpr float64) *URLSeen {
	if capacity == 0 {
		capacity = DefaultBloomCapacity
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultBloomFPR
	}

	return &URLSeen{
		client:   client,
		capacity: capacity,
		fpr:      fpr,
		filter:   bloom.NewWithEstimates(capacity, fpr),
	}
}

// Check reports whether the canonical URL has been seen. The Bloom filter
// short-circuits definite negatives; possible positives fall through to the
// authoritative Redis bit.
func (s *URLSeen) Check(ctx context.Context, canonicalURL string) (bool, error) {
	hash := urlnorm.HashCanonical(canonicalURL)

	s.mu.RLock()
	might := s.filter.Test([]byte(hash))
	s.mu.RUnlock()

	if !might {
		return false, nil
	}

	exists, err := s.client.Exists(ctx, seenKeyPrefix+hash).Result()
	if err != nil {
		return false, fmt.Errorf("seen check: %w", err)
	}

	return exists > 0, nil
}

// MarkSeen records the canonical URL in both layers. The Redis bit carries a
// 30-day TTL; the Bloom bit lives until process restart.
func (s *URLSeen) MarkSeen(ctx context.Context, canonicalURL string) error {
	hash := urlnorm.HashCanonical(canonicalURL)

	if err := s.client.Set(ctx, seenKeyPrefix+hash, 1, SeenTTL).Err(); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}

	s.mu.Lock()
	s.filter.Add([]byte(hash))
	s.mu.Unlock()

	return nil
}

// MightContain exposes the Bloom-only answer, mainly for tests and stats.
func (s *URLSeen) MightContain(canonicalURL string) bool {
	hash := urlnorm.HashCanonical(canonicalURL)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filter.Test([]byte(hash))
}

// Rebuild repopulates the Bloom filter from the authoritative Redis keys.
// Run at startup; until it finishes, lookups simply fall through to Redis.
func (s *URLSeen) Rebuild(ctx context.Context) (int, error) {
	fresh := bloom.NewWithEstimates(s.capacity, s.fpr)

	var cursor uint64
	var loaded int

	for {
		keys, next, err := s.client.Scan(ctx, cursor, seenKeyPrefix+"*", rebuildScanCount).Result()
		if err != nil {
			return loaded, fmt.Errorf("seen rebuild scan: %w", err)
		}

		for _, key := range keys {
			fresh.Add([]byte(key[len(seenKeyPrefix):]))
			loaded++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.mu.Lock()
	s.filter = fresh
	s.mu.Unlock()

	return loaded, nil
}

// Stats describes the approximate state of the seen-set.
type Stats struct {
	ApproximateCount uint32  `json:"approximate_count"`
	CapacityBits     uint    `json:"capacity_bits"`
	HashFunctions    uint    `json:"hash_functions"`
	ExpectedFPR      float64 `json:"expected_fpr"`
}

// Stats returns the Bloom filter's approximate cardinality and sizing. The
// expected false-positive rate is the analytical (1 - e^(-kn/m))^k for the
// current approximate count.
func (s *URLSeen) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := float64(s.filter.ApproximatedSize())
	m := float64(s.filter.Cap())
	k := float64(s.filter.K())

	fpr := 0.0
	if m > 0 {
		fpr = math.Pow(1-math.Exp(-k*n/m), k)
	}

	return Stats{
		ApproximateCount: s.filter.ApproximatedSize(),
		CapacityBits:     s.filter.Cap(),
		HashFunctions:    s.filter.K(),
		ExpectedFPR:      fpr,
	}
}
