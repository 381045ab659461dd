package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLSHBands is the number of bands the fingerprint is split into.
	DefaultLSHBands = 4

	// DefaultLSHBandBits is the width of each band.
	DefaultLSHBandBits = 16

	// fingerprintTTL matches the seen-set TTL so the two indexes age together.
	fingerprintTTL = 30 * 24 * time.Hour

	// simhashKeyPrefix stores the full fingerprint per URL hash.
	simhashKeyPrefix = "simhash:"

	// lshKeyPrefix namespaces band-segment buckets.
	lshKeyPrefix = "lsh:"
)

// Match describes a near-duplicate hit.
type Match struct {
	URLHash  string
	Distance int
}

// LSHIndex finds near-duplicate documents without pairwise comparison. The
// 64-bit fingerprint is split into bands; two documents within the Hamming
// threshold agree exactly on at least one band, so candidate lookup is a
// union of band-bucket members followed by exact verification.
type LSHIndex struct {
	client    *redis.Client
	bands     int
	bandBits  int
	threshold int
}

// NewLSHIndex creates an LSH index. Zero values use the 4x16 default split
// and Hamming threshold 3.
func NewLSHIndex(client *redis.Client, bands, bandBits, threshold int) *LSHIndex {
	if bands <= 0 {
		bands = DefaultLSHBands
	}
	if bandBits <= 0 {
		bandBits = DefaultLSHBandBits
	}
	if threshold <= 0 {
		threshold = DefaultHammingThreshold
	}

	return &LSHIndex{
		client:    client,
		bands:     bands,
		bandBits:  bandBits,
		threshold: threshold,
	}
}

// FindNearDuplicate returns the closest stored fingerprint within the Hamming
// threshold, or nil when the document is novel.
func (l *LSHIndex) FindNearDuplicate(ctx context.Context, fingerprint uint64) (*Match, error) {
	candidates, err := l.candidates(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	return l.verify(ctx, fingerprint, candidates)
}

// Store records a fingerprint under the URL hash and inserts it into every
// band bucket.
func (l *LSHIndex) Store(ctx context.Context, urlHash string, fingerprint uint64) error {
	pipe := l.client.TxPipeline()

	pipe.Set(ctx, simhashKeyPrefix+urlHash, strconv.FormatUint(fingerprint, 10), fingerprintTTL)

	for band := range l.bands {
		key := l.bandKey(band, l.segment(fingerprint, band))
		pipe.SAdd(ctx, key, urlHash)
		pipe.Expire(ctx, key, fingerprintTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lsh store: %w", err)
	}

	return nil
}

// candidates unions the members of every band bucket for the fingerprint.
func (l *LSHIndex) candidates(ctx context.Context, fingerprint uint64) ([]string, error) {
	seen := make(map[string]struct{})
	var all []string

	for band := range l.bands {
		key := l.bandKey(band, l.segment(fingerprint, band))

		members, err := l.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("lsh candidates: %w", err)
		}

		for _, m := range members {
			if _, dup := seen[m]; !dup {
				seen[m] = struct{}{}
				all = append(all, m)
			}
		}
	}

	return all, nil
}

// verify checks each candidate's exact Hamming distance and returns the
// closest one within the threshold.
func (l *LSHIndex) verify(ctx context.Context, fingerprint uint64, candidates []string) (*Match, error) {
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = simhashKeyPrefix + c
	}

	values, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("lsh verify: %w", err)
	}

	var best *Match

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // fingerprint expired out from under the bucket
		}

		stored, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			continue
		}

		distance := HammingDistance(fingerprint, stored)
		if distance > l.threshold {
			continue
		}

		if best == nil || distance < best.Distance {
			best = &Match{URLHash: candidates[i], Distance: distance}
		}
	}

	return best, nil
}

// segment extracts the band'th slice of the fingerprint.
func (l *LSHIndex) segment(fingerprint uint64, band int) uint64 {
	mask := uint64(1)<<uint(l.bandBits) - 1
	return (fingerprint >> (uint(band) * uint(l.bandBits))) & mask
}

// bandKey builds the Redis key for a band segment bucket.
func (l *LSHIndex) bandKey(band int, segment uint64) string {
	return lshKeyPrefix + strconv.Itoa(band) + ":" + strconv.FormatUint(segment, 16)
}
