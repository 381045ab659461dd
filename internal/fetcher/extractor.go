// Package fetcher downloads pages, extracts their content, and drives each
// crawl job to a terminal state. Workers consume fetch requests from the bus
// and emit content and link-discovery events.
package fetcher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

const (
	// maxTextChars bounds extracted body text.
	maxTextChars = 100_000

	// nonContentSelectors are stripped before body text extraction.
	nonContentSelectors = "script, style, nav, header, footer, aside, iframe"

	// untitledFallback is used when a page has no title or heading.
	untitledFallback = "Untitled"

	// defaultLanguage is assumed when the page declares none.
	defaultLanguage = "en"
)

// Link is one outbound link with the anchor text it was found under.
type Link struct {
	URL        string
	AnchorText string
}

// ExtractedContent is the parsed representation of a fetched page.
type ExtractedContent struct {
	Title           string
	MetaDescription string
	Text            string
	Language        string
	Links           []Link
	HTMLLength      int
	ContentHash     string
}

// LinkURLs returns just the canonical URLs of the outbound links.
func (e *ExtractedContent) LinkURLs() []string {
	urls := make([]string, len(e.Links))
	for i, l := range e.Links {
		urls[i] = l.URL
	}

	return urls
}

// Extractor parses HTML pages into their indexable content.
type Extractor struct{}

// NewExtractor creates a content extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract parses the page body. baseURL must be the page's canonical URL; it
// anchors relative link resolution. Unparseable HTML is a parse_failure.
func (e *Extractor) Extract(baseURL string, body []byte) (*ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.KindParseFailure, fmt.Errorf("parse html: %w", err))
	}

	// Links come first: stripping nav and footer would lose the links they
	// carry.
	links := extractLinks(doc, baseURL)
	language := extractLanguage(doc)
	title := extractTitle(doc)
	description := extractMetaDescription(doc)

	doc.Find(nonContentSelectors).Remove()
	text := extractBodyText(doc)

	sum := sha256.Sum256([]byte(text))

	return &ExtractedContent{
		Title:           title,
		MetaDescription: description,
		Text:            text,
		Language:        language,
		Links:           links,
		HTMLLength:      len(body),
		ContentHash:     hex.EncodeToString(sum[:]),
	}, nil
}

// extractTitle prefers the <title> element, then og:title, then the first
// <h1>, then the fallback.
func extractTitle(doc *goquery.Document) string {
	if title := collapseWhitespace(doc.Find("title").First().Text()); title != "" {
		return title
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if title := collapseWhitespace(og); title != "" {
			return title
		}
	}

	if h1 := collapseWhitespace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}

	return untitledFallback
}

// extractMetaDescription reads the meta description, falling back to
// og:description.
func extractMetaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if cleaned := collapseWhitespace(desc); cleaned != "" {
			return cleaned
		}
	}

	if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		return collapseWhitespace(og)
	}

	return ""
}

// extractLanguage reads the declared page language: the <html lang> attribute,
// then the content-language meta, defaulting to "en". Only the primary subtag
// is kept, so "en-US" becomes "en".
func extractLanguage(doc *goquery.Document) string {
	lang, ok := doc.Find("html").Attr("lang")
	if !ok || strings.TrimSpace(lang) == "" {
		lang, _ = doc.Find(`meta[http-equiv="content-language"]`).Attr("content")
	}

	lang = strings.TrimSpace(strings.ToLower(lang))
	if lang == "" {
		return defaultLanguage
	}

	if idx := strings.IndexAny(lang, "-_,"); idx > 0 {
		lang = lang[:idx]
	}

	return lang
}

// extractBodyText returns the page's visible text, preferring <article> over
// <body>, with whitespace collapsed and length bounded.
func extractBodyText(doc *goquery.Document) string {
	text := doc.Find("article").First().Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Find("body").Text()
	}

	return truncateRunes(collapseWhitespace(text), maxTextChars)
}

// extractLinks resolves every <a href> against the base URL, keeping http(s)
// links only. Links are deduplicated on canonical form; the first anchor text
// wins.
func extractLinks(doc *goquery.Document, baseURL string) []Link {
	seen := make(map[string]struct{})
	var links []Link

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}

		canonical, err := urlnorm.Resolve(baseURL, strings.TrimSpace(href))
		if err != nil {
			return // mailto:, javascript:, fragments, malformed
		}

		if canonical == baseURL {
			return
		}

		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}

		links = append(links, Link{
			URL:        canonical,
			AnchorText: collapseWhitespace(sel.Text()),
		})
	})

	return links
}

// collapseWhitespace trims and squeezes runs of whitespace to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
