package domain

import "errors"

// ErrorKind classifies a pipeline failure. Kinds drive the retry policy:
// retryable kinds send the job back through the frontier with backoff (or
// leave the message for bus redelivery, depending on the stage), while
// non-retryable kinds terminate the job.
type ErrorKind string

// The closed set of error kinds.
const (
	KindInvalidURL       ErrorKind = "invalid_url"
	KindRobotsBlocked    ErrorKind = "robots_blocked"
	KindRateLimited      ErrorKind = "rate_limited"
	KindFetchNetwork     ErrorKind = "fetch_network"
	KindFetchHTTP4xx     ErrorKind = "fetch_http_4xx"
	KindFetchHTTP5xx     ErrorKind = "fetch_http_5xx"
	KindFetchTooLarge    ErrorKind = "fetch_too_large"
	KindParseFailure     ErrorKind = "parse_failure"
	KindDedupDuplicate   ErrorKind = "dedup_duplicate"
	KindMutexUnavailable ErrorKind = "mutex_unavailable"
	KindBusUnavailable   ErrorKind = "bus_unavailable"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindCircuitOpen      ErrorKind = "circuit_open"
)

// Retryable reports whether a failure of this kind should be redelivered.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindFetchNetwork, KindFetchHTTP5xx, KindRateLimited,
		KindMutexUnavailable, KindBusUnavailable, KindStoreUnavailable,
		KindCircuitOpen:
		return true
	default:
		return false
	}
}

// PipelineError pairs an error kind with its cause.
type PipelineError struct {
	Kind  ErrorKind
	Cause error
}

// NewError creates a PipelineError of the given kind.
func NewError(kind ErrorKind, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Cause: cause}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// KindOf extracts the error kind from err, or an empty kind when err is not a
// PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retryable kind. Unclassified
// errors default to retryable so transient infrastructure failures are not
// silently terminal.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind.Retryable()
	}
	return true
}
