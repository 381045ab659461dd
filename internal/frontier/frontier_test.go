package frontier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
)

type memStore struct {
	inserted    []domain.CrawlJob
	transitions []string
	requeued    map[string]time.Time
	blocked     map[string]string
	failed      map[string]string
	pollErr     error
	ready       []domain.CrawlJob
}

func newMemStore() *memStore {
	return &memStore{
		requeued: make(map[string]time.Time),
		blocked:  make(map[string]string),
		failed:   make(map[string]string),
	}
}

func (s *memStore) InsertPending(_ context.Context, job *domain.CrawlJob) error {
	s.inserted = append(s.inserted, *job)
	return nil
}

func (s *memStore) PollReady(_ context.Context, limit int) ([]domain.CrawlJob, error) {
	if s.pollErr != nil {
		return nil, s.pollErr
	}
	if limit < len(s.ready) {
		return s.ready[:limit], nil
	}
	return s.ready, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id, from, to string) error {
	s.transitions = append(s.transitions, id+":"+from+"->"+to)
	return nil
}

func (s *memStore) Requeue(_ context.Context, id string, scheduledAt time.Time, _ string) error {
	s.requeued[id] = scheduledAt
	return nil
}

func (s *memStore) MarkBlocked(_ context.Context, id, reason string) error {
	s.blocked[id] = reason
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id, lastError string) error {
	s.failed[id] = lastError
	return nil
}

func TestEnqueue_ScoresWithActiveStrategy(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	f := frontier.New(store, frontier.BFS{})

	job := &domain.CrawlJob{URL: "https://example.com/a", Depth: 2}
	require.NoError(t, f.Enqueue(ctx, job, frontier.Signals{Depth: 2}))

	require.Len(t, store.inserted, 1)
	require.Equal(t, -2.0, store.inserted[0].Priority)
	require.Equal(t, domain.JobStatusPending, store.inserted[0].Status)
}

func TestEnqueueWithPriority_BypassesStrategy(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	f := frontier.New(store, frontier.BFS{})

	job := &domain.CrawlJob{URL: "https://example.com/a", Depth: 5}
	require.NoError(t, f.EnqueueWithPriority(ctx, job, 999))

	require.Len(t, store.inserted, 1)
	require.Equal(t, 999.0, store.inserted[0].Priority)
}

func TestSetStrategy_AffectsFutureEnqueues(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	f := frontier.New(store, frontier.BFS{})

	require.Equal(t, "bfs", f.StrategyName())

	f.SetStrategy(frontier.BestFirst{})
	require.Equal(t, "best-first", f.StrategyName())

	job := &domain.CrawlJob{URL: "https://example.com/a", Depth: 1}
	require.NoError(t, f.Enqueue(ctx, job, frontier.Signals{Depth: 1, DomainAuthority: 1.0}))

	// best-first: 0.3 * 1.0 * 1000 / 2
	require.InDelta(t, 150.0, store.inserted[0].Priority, 1e-9)
}

func TestMarkInProgress_UsesCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	f := frontier.New(store, frontier.BFS{})

	job := &domain.CrawlJob{ID: "job-1", Status: domain.JobStatusPending}
	require.NoError(t, f.MarkInProgress(ctx, job))

	require.Equal(t, domain.JobStatusInProgress, job.Status)
	require.Equal(t, []string{"job-1:pending->in_progress"}, store.transitions)
}

func TestRequeueWithBackoff_SchedulesInTheFuture(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	f := frontier.New(store, frontier.BFS{})

	job := &domain.CrawlJob{ID: "job-1", RetryCount: 1}
	require.NoError(t, f.RequeueWithBackoff(ctx, job, errors.New("status 503")))

	at, ok := store.requeued["job-1"]
	require.True(t, ok)

	// Retry 1 doubles the 30s base; jitter keeps it within [45s, 90s].
	delay := time.Until(at)
	require.Greater(t, delay, 40*time.Second)
	require.Less(t, delay, 91*time.Second)
}

func TestPollReady_PropagatesStoreError(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.pollErr = errors.New("connection reset")
	f := frontier.New(store, frontier.BFS{})

	_, err := f.PollReady(ctx, 10)
	require.Error(t, err)
}
