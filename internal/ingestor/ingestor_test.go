package ingestor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/ingestor"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

type fakeStore struct {
	inserted []domain.CrawlJob
}

func (f *fakeStore) InsertPending(_ context.Context, job *domain.CrawlJob) error {
	f.inserted = append(f.inserted, *job)
	return nil
}

func (f *fakeStore) PollReady(context.Context, int) ([]domain.CrawlJob, error) { return nil, nil }
func (f *fakeStore) TransitionStatus(context.Context, string, string, string) error {
	return nil
}
func (f *fakeStore) Requeue(context.Context, string, time.Time, string) error { return nil }
func (f *fakeStore) MarkBlocked(context.Context, string, string) error        { return nil }
func (f *fakeStore) MarkFailed(context.Context, string, string) error         { return nil }

type fakeSource struct {
	acked []string
}

func (f *fakeSource) Read(context.Context) ([]*queue.Message, error) { return nil, nil }

func (f *fakeSource) Ack(_ context.Context, msg *queue.Message) error {
	f.acked = append(f.acked, msg.ID)
	return nil
}

type fakeDeadLetterer struct {
	reasons []string
}

func (f *fakeDeadLetterer) PublishDeadLetter(_ context.Context, _ *queue.Message, _ int, lastError string) (string, error) {
	f.reasons = append(f.reasons, lastError)
	return "1-0", nil
}

type fakeSeen struct {
	known  map[string]bool
	marked []string
}

func (f *fakeSeen) Check(_ context.Context, canonicalURL string) (bool, error) {
	return f.known[canonicalURL], nil
}

func (f *fakeSeen) MarkSeen(_ context.Context, canonicalURL string) error {
	f.marked = append(f.marked, canonicalURL)
	return nil
}

type fakeAuthority struct {
	score float64
}

func (f *fakeAuthority) Authority(context.Context, string) (float64, error) {
	return f.score, nil
}

type fakeCounter struct {
	domains []string
}

func (f *fakeCounter) IncrementDiscovered(_ context.Context, domainName string) error {
	f.domains = append(f.domains, domainName)
	return nil
}

type harness struct {
	ingestor *ingestor.Ingestor
	store    *fakeStore
	source   *fakeSource
	deadLet  *fakeDeadLetterer
	seen     *fakeSeen
	counter  *fakeCounter
}

func newHarness(t *testing.T, strategy frontier.Strategy, seen *fakeSeen) *harness {
	t.Helper()
	return newHarnessWithNormalizer(t, strategy, seen, nil)
}

func newHarnessWithNormalizer(
	t *testing.T,
	strategy frontier.Strategy,
	seen *fakeSeen,
	norm *urlnorm.Normalizer,
) *harness {
	t.Helper()

	h := &harness{
		store:   &fakeStore{},
		source:  &fakeSource{},
		deadLet: &fakeDeadLetterer{},
		seen:    seen,
		counter: &fakeCounter{},
	}

	h.ingestor = ingestor.New(
		h.source,
		h.deadLet,
		frontier.New(h.store, strategy),
		norm,
		h.seen,
		&fakeAuthority{score: 0.5},
		h.counter,
		metrics.New(prometheus.NewRegistry()),
		logger.NewNop(),
		ingestor.Config{MaxDepth: 3},
	)

	return h
}

func linkMessage(t *testing.T, event domain.LinkDiscoveryEvent) *queue.Message {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	return &queue.Message{ID: "1-0", Topic: queue.TopicNewLinks, Payload: payload}
}

func TestProcess_EnqueuesNewLink(t *testing.T) {
	h := newHarness(t, frontier.BFS{}, &fakeSeen{})

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:       "https://example.com/docs",
		SourceURL: "https://example.com/",
		Domain:    "example.com",
		Depth:     2,
	}))

	require.Len(t, h.store.inserted, 1)

	job := h.store.inserted[0]
	require.Equal(t, "https://example.com/docs", job.URL)
	require.Equal(t, domain.JobStatusPending, job.Status)
	require.Equal(t, 2, job.Depth)
	require.InDelta(t, -2.0, job.Priority, 1e-9, "breadth-first scores by negated depth")
	require.Len(t, job.URLHash, 64)

	require.Equal(t, []string{"https://example.com/docs"}, h.seen.marked)
	require.Equal(t, []string{"example.com"}, h.counter.domains)
	require.Equal(t, []string{"1-0"}, h.source.acked)
}

func TestProcess_NormalizesBeforeEnqueue(t *testing.T) {
	h := newHarness(t, frontier.BFS{}, &fakeSeen{})

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:    "HTTP://Example.com/Page?utm_source=feed&b=2&a=1",
		Domain: "example.com",
		Depth:  1,
	}))

	require.Len(t, h.store.inserted, 1)
	require.Equal(t, "https://example.com/Page?a=1&b=2", h.store.inserted[0].URL)
}

func TestProcess_ConfiguredTrackingParamsStripped(t *testing.T) {
	h := newHarnessWithNormalizer(t, frontier.BFS{}, &fakeSeen{}, urlnorm.New([]string{"ref"}))

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:    "https://example.com/page?ref=newsletter&x=1",
		Domain: "example.com",
		Depth:  1,
	}))

	require.Len(t, h.store.inserted, 1)
	require.Equal(t, "https://example.com/page?x=1", h.store.inserted[0].URL)
}

func TestProcess_DropsBeyondMaxDepth(t *testing.T) {
	h := newHarness(t, frontier.BFS{}, &fakeSeen{})

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:    "https://example.com/deep",
		Domain: "example.com",
		Depth:  4,
	}))

	require.Empty(t, h.store.inserted)
	require.Empty(t, h.seen.marked)
	require.Equal(t, []string{"1-0"}, h.source.acked)
}

func TestProcess_DropsSeenURL(t *testing.T) {
	seen := &fakeSeen{known: map[string]bool{"https://example.com/known": true}}
	h := newHarness(t, frontier.BFS{}, seen)

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:    "https://example.com/known",
		Domain: "example.com",
		Depth:  1,
	}))

	require.Empty(t, h.store.inserted)
	require.Equal(t, []string{"1-0"}, h.source.acked)
}

func TestProcess_DropsInvalidURL(t *testing.T) {
	h := newHarness(t, frontier.BFS{}, &fakeSeen{})

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:    "ftp://example.com/file",
		Domain: "example.com",
		Depth:  1,
	}))

	require.Empty(t, h.store.inserted)
	require.Equal(t, []string{"1-0"}, h.source.acked)
}

func TestProcess_MalformedPayloadDeadLetters(t *testing.T) {
	h := newHarness(t, frontier.BFS{}, &fakeSeen{})

	h.ingestor.Process(context.Background(), &queue.Message{
		ID: "1-0", Topic: queue.TopicNewLinks, Payload: []byte("not json"),
	})

	require.Len(t, h.deadLet.reasons, 1)
	require.Equal(t, []string{"1-0"}, h.source.acked)
}

func TestProcess_BestFirstUsesDomainAuthority(t *testing.T) {
	h := newHarness(t, frontier.BestFirst{}, &fakeSeen{})

	h.ingestor.Process(context.Background(), linkMessage(t, domain.LinkDiscoveryEvent{
		URL:    "https://example.com/page",
		Domain: "example.com",
		Depth:  1,
	}))

	require.Len(t, h.store.inserted, 1)
	// (0.7*0 + 0.3*0.5) * 1000 / (1+1)
	require.InDelta(t, 75.0, h.store.inserted[0].Priority, 1e-9)
}
