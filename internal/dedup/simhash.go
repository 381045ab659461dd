package dedup

import (
	"math/bits"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// fingerprintBits is the SimHash width.
	fingerprintBits = 64

	// shingleSize is the number of words per shingle.
	shingleSize = 5

	// DefaultHammingThreshold is the near-duplicate cutoff: fingerprints
	// within this Hamming distance describe ~95% similar documents.
	DefaultHammingThreshold = 3
)

// SimHash computes a 64-bit locality-sensitive fingerprint of text. Two
// near-identical documents produce fingerprints within a small Hamming
// distance of each other. The computation is deterministic: the same text
// always yields the same fingerprint.
func SimHash(text string) uint64 {
	shingles := shingle(text)
	if len(shingles) == 0 {
		return 0
	}

	var vector [fingerprintBits]int64

	for s, weight := range shingles {
		h := xxhash.Sum64String(s)

		for i := range fingerprintBits {
			if h&(1<<uint(i)) != 0 {
				vector[i] += weight
			} else {
				vector[i] -= weight
			}
		}
	}

	var fingerprint uint64
	for i := range fingerprintBits {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}

	return fingerprint
}

// HammingDistance counts differing bits between two fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// shingle tokenizes text into lowercased 5-word shingles after stripping
// non-alphanumerics, weighting each by its frequency.
func shingle(text string) map[string]int64 {
	words := tokenizeWords(text)
	if len(words) == 0 {
		return nil
	}

	shingles := make(map[string]int64)

	if len(words) < shingleSize {
		shingles[strings.Join(words, " ")] = 1
		return shingles
	}

	for i := 0; i+shingleSize <= len(words); i++ {
		shingles[strings.Join(words[i:i+shingleSize], " ")]++
	}

	return shingles
}

// tokenizeWords lowercases text and splits on runs of non-alphanumerics.
func tokenizeWords(text string) []string {
	lower := strings.ToLower(text)

	return strings.FieldsFunc(lower, func(r rune) bool {
		return !isAlphanumeric(r)
	})
}

// isAlphanumeric reports whether r is an ASCII letter or digit.
func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z')
}
