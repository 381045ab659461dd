// Package urlnorm provides URL canonicalization for the frontier. URLs are
// normalized before they enter the system so that the same URL expressed
// differently produces the same canonical string and hash.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURL is returned when a URL cannot be canonicalized: missing or
// unsupported scheme, empty host, or unparseable input.
var ErrInvalidURL = errors.New("invalid url")

// defaultTrackingParams lists query parameters stripped during normalization.
// These are advertising and analytics trackers that do not affect content.
// utm_* is matched by prefix.
var defaultTrackingParams = []string{
	"fbclid",
	"gclid",
	"msclkid",
	"_ga",
	"mc_cid",
	"mc_eid",
}

// trackingPrefix is matched against parameter names as a prefix.
const trackingPrefix = "utm_"

// defaultPorts maps schemes to their default port strings.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalizer canonicalizes URLs with a configurable tracking-parameter set.
type Normalizer struct {
	tracking map[string]struct{}
}

// New creates a Normalizer. An empty trackingParams slice uses the default
// closed set.
func New(trackingParams []string) *Normalizer {
	if len(trackingParams) == 0 {
		trackingParams = defaultTrackingParams
	}

	tracking := make(map[string]struct{}, len(trackingParams))
	for _, p := range trackingParams {
		tracking[strings.ToLower(p)] = struct{}{}
	}

	return &Normalizer{tracking: tracking}
}

// defaultNormalizer backs the package-level convenience functions.
var defaultNormalizer = New(nil)

// Normalize canonicalizes a raw URL using the default tracking-parameter set.
func Normalize(rawURL string) (string, error) {
	return defaultNormalizer.Normalize(rawURL)
}

// Resolve resolves a relative reference against a base URL and canonicalizes
// the result using the default tracking-parameter set.
func Resolve(baseURL, ref string) (string, error) {
	return defaultNormalizer.Resolve(baseURL, ref)
}

// Normalize applies deterministic transformations so equivalent URLs produce
// identical strings: lowercase scheme and host, drop default ports, resolve
// dot-segments, preserve the trailing slash only when the input has one, drop
// the fragment, strip tracking parameters, and sort the remaining query keys.
func (n *Normalizer) Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	return n.normalizeParsed(parsed)
}

// Resolve resolves ref against baseURL and canonicalizes the result.
func (n *Normalizer) Resolve(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: base: %v", ErrInvalidURL, err)
	}

	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: ref: %v", ErrInvalidURL, err)
	}

	return n.normalizeParsed(base.ResolveReference(rel))
}

// normalizeParsed canonicalizes an already-parsed URL in place. http and
// https are one equivalence class: the canonical form always carries https so
// the same page reached over either scheme dedups to one frontier entry.
func (n *Normalizer) normalizeParsed(parsed *url.URL) (string, error) {
	scheme := strings.ToLower(parsed.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	parsed.Host = normalizeHost(parsed, scheme)
	parsed.Scheme = "https"
	parsed.Fragment = ""
	parsed.RawQuery = n.buildCleanQuery(parsed.Query())
	parsed.Path = normalizePath(parsed.Path)
	parsed.RawPath = ""

	return parsed.String(), nil
}

// URLHash returns the SHA-256 hex digest of the canonical form of rawURL.
// The returned string is always 64 characters.
func URLHash(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", fmt.Errorf("url hash: %w", err)
	}

	return HashCanonical(normalized), nil
}

// HashCanonical hashes an already-canonical URL without re-normalizing.
func HashCanonical(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// RegistrableDomain returns the longest host suffix a single party can
// register (eTLD+1), used as the partition and rate-limit key. Hosts without
// a public suffix (IPs, localhost) fall back to the full lowercased host.
func RegistrableDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	domain, suffixErr := publicsuffix.EffectiveTLDPlusOne(host)
	if suffixErr != nil {
		return host, nil
	}

	return domain, nil
}

// normalizeHost lowercases the hostname and removes default ports. The port
// is dropped when it is the default for either the original scheme or https,
// since the canonical scheme is always https.
func normalizeHost(u *url.URL, scheme string) string {
	hostname := strings.ToLower(u.Hostname())
	port := u.Port()

	if port == "" || port == defaultPorts[scheme] || port == defaultPorts["https"] {
		return hostname
	}

	return hostname + ":" + port
}

// isTracking reports whether a query parameter name is in the tracking set.
func (n *Normalizer) isTracking(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, trackingPrefix) {
		return true
	}

	_, ok := n.tracking[lower]
	return ok
}

// buildCleanQuery strips tracking parameters, sorts the remaining keys
// lexicographically, and re-encodes as k=v&... Returns an empty string when
// no parameters survive the filter.
func (n *Normalizer) buildCleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))

	for key := range values {
		if !n.isTracking(key) {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}

		vals := values[key]
		for j, val := range vals {
			if j > 0 {
				b.WriteByte('&')
			}

			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}

	return b.String()
}

// normalizePath resolves dot-segments while preserving a trailing slash when
// the input carries one. An empty path becomes "/".
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	hadTrailing := strings.HasSuffix(p, "/")
	cleaned := path.Clean(p)

	if cleaned == "/" {
		return "/"
	}

	if hadTrailing {
		cleaned += "/"
	}

	return cleaned
}
