package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/domain"
)

func TestErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind      domain.ErrorKind
		retryable bool
	}{
		{domain.KindFetchNetwork, true},
		{domain.KindFetchHTTP5xx, true},
		{domain.KindRateLimited, true},
		{domain.KindMutexUnavailable, true},
		{domain.KindBusUnavailable, true},
		{domain.KindStoreUnavailable, true},
		{domain.KindCircuitOpen, true},
		{domain.KindInvalidURL, false},
		{domain.KindRobotsBlocked, false},
		{domain.KindFetchHTTP4xx, false},
		{domain.KindFetchTooLarge, false},
		{domain.KindParseFailure, false},
		{domain.KindDedupDuplicate, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			require.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestPipelineError_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := domain.NewError(domain.KindFetchNetwork, cause)

	require.EqualError(t, err, "fetch_network: connection refused")
	require.ErrorIs(t, err, cause)
	require.Equal(t, domain.KindFetchNetwork, domain.KindOf(err))
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	inner := domain.NewError(domain.KindFetchHTTP5xx, errors.New("status 503"))
	wrapped := fmt.Errorf("fetch https://example.com/: %w", inner)

	require.Equal(t, domain.KindFetchHTTP5xx, domain.KindOf(wrapped))
	require.True(t, domain.IsRetryable(wrapped))
}

func TestKindOf_PlainError(t *testing.T) {
	require.Equal(t, domain.ErrorKind(""), domain.KindOf(errors.New("boom")))
}

func TestIsRetryable_UnclassifiedDefaultsToRetryable(t *testing.T) {
	require.True(t, domain.IsRetryable(errors.New("redis timeout")))
	require.False(t, domain.IsRetryable(domain.NewError(domain.KindInvalidURL, nil)))
}
