package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/api"
	"github.com/seekerlabs/crawld/internal/dedup"
	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/ratelimit"
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

type fakeJobStats struct{}

func (fakeJobStats) CountsByStatus(context.Context) (map[string]int64, error) {
	return map[string]int64{"pending": 12, "completed": 30}, nil
}

func (fakeJobStats) PendingCount(context.Context) (int64, error) { return 12, nil }

type fakeGraphReader struct {
	top []domain.PageNode
}

func (f *fakeGraphReader) TopByScore(_ context.Context, n int) ([]domain.PageNode, error) {
	if n < len(f.top) {
		return f.top[:n], nil
	}
	return f.top, nil
}

func (f *fakeGraphReader) NodeCount(context.Context) (int64, error) {
	return int64(len(f.top)), nil
}

type fakeRanker struct {
	runs chan struct{}
}

func (f *fakeRanker) Run(context.Context) error {
	if f.runs != nil {
		f.runs <- struct{}{}
	}
	return nil
}

type fakeSeen struct {
	marked []string
}

func (f *fakeSeen) MarkSeen(_ context.Context, canonicalURL string) error {
	f.marked = append(f.marked, canonicalURL)
	return nil
}

func (f *fakeSeen) Stats() dedup.Stats {
	return dedup.Stats{ApproximateCount: 42, HashFunctions: 7}
}

type fakeRates struct {
	reset []string
	err   error
}

func (f *fakeRates) Status(_ context.Context, domain string, capacity float64) (*ratelimit.Status, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ratelimit.Status{Domain: domain, Tokens: capacity}, nil
}

func (f *fakeRates) Reset(_ context.Context, domain string) error {
	f.reset = append(f.reset, domain)
	return nil
}

type fakeDepths struct{}

func (fakeDepths) QueueDepth(context.Context, string) (int64, error) { return 7, nil }

type fixture struct {
	router *gin.Engine
	store  *fakeStore
	seen   *fakeSeen
	rates  *fakeRates
	ranker *fakeRanker
	front  *frontier.Frontier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithNormalizer(t, nil)
}

func newFixtureWithNormalizer(t *testing.T, norm *urlnorm.Normalizer) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:  &fakeStore{},
		seen:   &fakeSeen{},
		rates:  &fakeRates{},
		ranker: &fakeRanker{runs: make(chan struct{}, 1)},
	}
	f.front = frontier.New(f.store, frontier.BFS{})

	handler := api.NewHandler(
		f.front,
		norm,
		fakeJobStats{},
		&fakeGraphReader{top: []domain.PageNode{
			{ID: 1, URL: "https://top.example/", PageRankScore: 1.0},
			{ID: 2, URL: "https://second.example/", PageRankScore: 0.4},
		}},
		f.ranker,
		f.seen,
		f.rates,
		fakeDepths{},
		func(name string) (frontier.Strategy, error) {
			return frontier.NewStrategy(name, nil, nil)
		},
		logger.NewNop(),
		api.HandlerConfig{RateCapacity: 10},
	)

	f.router = gin.New()
	api.SetupRoutes(f.router, handler, nil)

	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	return rec
}

func TestSeedURLs_QueuesNormalizedSeeds(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/seeds",
		`{"urls": ["HTTP://Example.com/?utm_source=x", "not a url"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Queued   []string `json:"queued"`
		Count    int      `json:"count"`
		Rejected []struct {
			URL string `json:"url"`
		} `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"https://example.com/"}, resp.Queued)
	require.Len(t, resp.Rejected, 1)

	require.Len(t, f.store.inserted, 1)
	require.Equal(t, 0, f.store.inserted[0].Depth)
	require.Equal(t, "example.com", f.store.inserted[0].Domain)
	require.Equal(t, []string{"https://example.com/"}, f.seen.marked)
}

func TestSeedURLs_ConfiguredTrackingParamsStripped(t *testing.T) {
	f := newFixtureWithNormalizer(t, urlnorm.New([]string{"ref"}))

	rec := f.do(t, http.MethodPost, "/api/v1/seeds",
		`{"urls": ["https://example.com/page?ref=promo&x=1"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.store.inserted, 1)
	require.Equal(t, "https://example.com/page?x=1", f.store.inserted[0].URL)
}

func TestSeedURLs_ExplicitPriorityWins(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/seeds",
		`{"urls": ["https://example.com/docs"], "priority": 950.5}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.store.inserted, 1)
	require.InDelta(t, 950.5, f.store.inserted[0].Priority, 1e-9)
}

func TestSeedURLs_AllInvalidIsBadRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/seeds", `{"urls": ["ftp://nope"]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.store.inserted)
}

func TestGetStats_ReportsPipelineState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Strategy     string           `json:"strategy"`
		FrontierSize int64            `json:"frontier_size"`
		QueueDepths  map[string]int64 `json:"queue_depths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "bfs", resp.Strategy)
	require.Equal(t, int64(12), resp.FrontierSize)
	require.Equal(t, int64(7), resp.QueueDepths["dead-letter-queue"])
}

func TestStrategy_GetAndPut(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/strategy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"strategy": "bfs"}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/v1/strategy", `{"strategy": "best-first"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "best-first", f.front.StrategyName())
}

func TestPutStrategy_RejectsUnknown(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/strategy", `{"strategy": "depth-charge"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "bfs", f.front.StrategyName())
}

func TestGetTopPages_RespectsLimit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/pagerank?limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
}

func TestTriggerRank_StartsBackgroundRun(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/pagerank/recalculate", "")

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)

	select {
	case <-f.ranker.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("rank run never started")
	}
}

func TestDedupStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/dedup/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var stats dedup.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, uint32(42), stats.ApproximateCount)
}

func TestRateLimit_StatusAndReset(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/ratelimit/example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status ratelimit.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "example.com", status.Domain)
	require.InDelta(t, 10.0, status.Tokens, 1e-9)

	rec = f.do(t, http.MethodDelete, "/api/v1/ratelimit/example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"example.com"}, f.rates.reset)
}

func TestRateLimit_StatusError(t *testing.T) {
	f := newFixture(t)
	f.rates.err = errors.New("redis down")

	rec := f.do(t, http.MethodGet, "/api/v1/ratelimit/example.com", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
