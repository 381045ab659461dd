// Package breaker maintains one circuit breaker per registrable domain so a
// misbehaving site stops consuming fetch capacity without affecting others.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seekerlabs/crawld/internal/domain"
)

const (
	// failureThreshold is the consecutive-failure count that opens a circuit.
	failureThreshold = 5

	// halfOpenSuccesses is the success count in half-open that re-closes it.
	halfOpenSuccesses = 2

	// OpenTimeout is how long an open circuit waits before probing again.
	// Exported so callers can schedule retries no earlier than the probe
	// window.
	OpenTimeout = 60 * time.Second

	// idleEviction is how long an unused breaker survives before a sweep
	// removes it.
	idleEviction = time.Hour
)

// entry pairs a breaker with its last use for idle eviction.
type entry struct {
	cb       *gobreaker.CircuitBreaker
	lastUsed time.Time
}

// Registry holds per-domain circuit breakers, created lazily on first use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Execute runs fn under the domain's circuit breaker. A rejected call (open
// circuit, or half-open probe budget exhausted) surfaces as a retryable
// CircuitOpen pipeline error; fn's own error passes through unchanged.
func (r *Registry) Execute(_ context.Context, domainName string, fn func() error) error {
	cb := r.breakerFor(domainName)

	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewError(domain.KindCircuitOpen, err)
	}

	return err
}

// State reports the domain's breaker state, defaulting to closed for domains
// never seen.
func (r *Registry) State(domainName string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[domainName]
	if !ok {
		return gobreaker.StateClosed
	}

	return e.cb.State()
}

// Sweep drops breakers idle longer than the eviction window and returns how
// many were removed. Intended to run periodically from the worker loop.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleEviction)
	removed := 0

	for name, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			delete(r.entries, name)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked domains.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// breakerFor returns the domain's breaker, creating it on first use.
func (r *Registry) breakerFor(domainName string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[domainName]
	if !ok {
		e = &entry{cb: newBreaker(domainName)}
		r.entries[domainName] = e
	}
	e.lastUsed = time.Now()

	return e.cb
}

// newBreaker builds a gobreaker with the per-domain thresholds.
func newBreaker(domainName string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        domainName,
		MaxRequests: halfOpenSuccesses,
		Timeout:     OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
	})
}
