package breaker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/breaker"
	"github.com/seekerlabs/crawld/internal/domain"
)

var errFetch = errors.New("connection refused")

func TestRegistry_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	registry := breaker.NewRegistry()

	fail := func() error { return errFetch }

	for range 5 {
		err := registry.Execute(ctx, "bad.com", fail)
		require.ErrorIs(t, err, errFetch)
	}

	require.Equal(t, gobreaker.StateOpen, registry.State("bad.com"))

	// Calls against the open circuit are rejected with a retryable kind
	// without invoking the function.
	called := false
	err := registry.Execute(ctx, "bad.com", func() error {
		called = true
		return nil
	})
	require.False(t, called)
	require.Equal(t, domain.KindCircuitOpen, domain.KindOf(err))
	require.True(t, domain.IsRetryable(err))
}

func TestRegistry_DomainsAreIsolated(t *testing.T) {
	ctx := context.Background()
	registry := breaker.NewRegistry()

	for range 5 {
		_ = registry.Execute(ctx, "bad.com", func() error { return errFetch })
	}

	err := registry.Execute(ctx, "good.com", func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, gobreaker.StateClosed, registry.State("good.com"))
}

func TestRegistry_SuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	registry := breaker.NewRegistry()

	for range 4 {
		_ = registry.Execute(ctx, "flaky.com", func() error { return errFetch })
	}

	require.NoError(t, registry.Execute(ctx, "flaky.com", func() error { return nil }))

	// The streak broke, so one more failure does not open the circuit.
	_ = registry.Execute(ctx, "flaky.com", func() error { return errFetch })
	require.Equal(t, gobreaker.StateClosed, registry.State("flaky.com"))
}

func TestRegistry_UnknownDomainIsClosed(t *testing.T) {
	registry := breaker.NewRegistry()
	require.Equal(t, gobreaker.StateClosed, registry.State("never-seen.com"))
	require.Zero(t, registry.Len())
}
