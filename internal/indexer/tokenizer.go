// Package indexer turns content events into searchable documents and keeps
// the link graph current for the ranker.
package indexer

import (
	"strings"
	"unicode"
)

const (
	// minTokenLen drops tokens too short to be useful search terms.
	minTokenLen = 3

	// maxTokenLen drops degenerate tokens (minified blobs, hashes).
	maxTokenLen = 49

	// maxDistinctTokens caps the token list per document.
	maxDistinctTokens = 1000
)

// stopwords are dropped during tokenization. Stemming happens in the search
// store's analyzer, not here; the token list carries exact terms only.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "all": {}, "also": {}, "an": {},
	"and": {}, "any": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"because": {}, "been": {}, "but": {}, "by": {}, "can": {}, "could": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "had": {},
	"has": {}, "have": {}, "he": {}, "her": {}, "his": {}, "how": {},
	"if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"just": {}, "more": {}, "most": {}, "my": {}, "no": {}, "not": {},
	"of": {}, "on": {}, "one": {}, "only": {}, "or": {}, "other": {},
	"our": {}, "out": {}, "over": {}, "she": {}, "so": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"up": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {}, "would": {},
	"you": {}, "your": {},
}

// Tokenize extracts the distinct index terms of a text: lowercased words with
// stopwords, numerics, and out-of-range lengths removed, in first-seen order,
// capped at 1000 terms.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{})
	tokens := make([]string, 0, min(len(words), maxDistinctTokens))

	for _, word := range words {
		if len(word) < minTokenLen || len(word) > maxTokenLen {
			continue
		}

		if _, stop := stopwords[word]; stop {
			continue
		}

		if isNumeric(word) {
			continue
		}

		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}

		tokens = append(tokens, word)
		if len(tokens) == maxDistinctTokens {
			break
		}
	}

	return tokens
}

// isNumeric reports whether the word consists only of digits.
func isNumeric(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}

	return true
}
