// Package api exposes the admin HTTP surface: seeding, pipeline stats,
// strategy control, rank inspection, and rate-limit management.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/seekerlabs/crawld/internal/dedup"
	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/frontier"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/queue"
	"github.com/seekerlabs/crawld/internal/ratelimit"
	"github.com/seekerlabs/crawld/internal/urlnorm"
)

const (
	// defaultTopPages is the pagerank listing size.
	defaultTopPages = 20

	// maxTopPages bounds the pagerank listing size.
	maxTopPages = 500

	// rankRunTimeout bounds a triggered background rank run.
	rankRunTimeout = 30 * time.Minute
)

// JobStats reads frontier statistics.
type JobStats interface {
	CountsByStatus(ctx context.Context) (map[string]int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// GraphReader reads ranked pages.
type GraphReader interface {
	TopByScore(ctx context.Context, n int) ([]domain.PageNode, error)
	NodeCount(ctx context.Context) (int64, error)
}

// RankRunner executes one full ranking pass.
type RankRunner interface {
	Run(ctx context.Context) error
}

// SeenSet records seeded URLs and reports filter statistics.
type SeenSet interface {
	MarkSeen(ctx context.Context, canonicalURL string) error
	Stats() dedup.Stats
}

// RateInspector reads and resets per-domain rate-limit state.
type RateInspector interface {
	Status(ctx context.Context, domain string, capacity float64) (*ratelimit.Status, error)
	Reset(ctx context.Context, domain string) error
}

// DepthReader reports bus stream depths.
type DepthReader interface {
	QueueDepth(ctx context.Context, topic string) (int64, error)
}

// StrategyFactory builds a prioritization strategy by name.
type StrategyFactory func(name string) (frontier.Strategy, error)

// Handler handles admin API requests.
type Handler struct {
	frontier   *frontier.Frontier
	norm       *urlnorm.Normalizer
	jobs       JobStats
	graph      GraphReader
	ranker     RankRunner
	seen       SeenSet
	rates      RateInspector
	depths     DepthReader
	strategies StrategyFactory
	log        logger.Logger

	rateCapacity float64
	maxDepth     int
	maxRetries   int
}

// HandlerConfig holds the crawl defaults seeds inherit.
type HandlerConfig struct {
	RateCapacity float64
	MaxDepth     int
	MaxRetries   int
}

// NewHandler creates the admin API handler. A nil normalizer uses the default
// tracking-parameter set.
func NewHandler(
	f *frontier.Frontier,
	norm *urlnorm.Normalizer,
	jobs JobStats,
	graph GraphReader,
	ranker RankRunner,
	seen SeenSet,
	rates RateInspector,
	depths DepthReader,
	strategies StrategyFactory,
	log logger.Logger,
	cfg HandlerConfig,
) *Handler {
	if norm == nil {
		norm = urlnorm.New(nil)
	}

	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = domain.DefaultMaxDepth
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	return &Handler{
		frontier:     f,
		norm:         norm,
		jobs:         jobs,
		graph:        graph,
		ranker:       ranker,
		seen:         seen,
		rates:        rates,
		depths:       depths,
		strategies:   strategies,
		log:          log,
		rateCapacity: cfg.RateCapacity,
		maxDepth:     maxDepth,
		maxRetries:   maxRetries,
	}
}

// SeedRequest is the body of POST /api/v1/seeds.
type SeedRequest struct {
	URLs     []string `json:"urls" binding:"required,min=1"`
	Priority *float64 `json:"priority,omitempty"`
	MaxDepth *int     `json:"max_depth,omitempty"`
}

// seedRejection explains why one submitted URL was not queued.
type seedRejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// SeedURLs handles POST /api/v1/seeds. Each URL is normalized and enqueued at
// depth zero; invalid URLs are reported without failing the batch.
func (h *Handler) SeedURLs(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxDepth := h.maxDepth
	if req.MaxDepth != nil && *req.MaxDepth > 0 {
		maxDepth = *req.MaxDepth
	}

	var queued []string
	var rejected []seedRejection

	for _, raw := range req.URLs {
		canonical, err := h.seedOne(c.Request.Context(), raw, maxDepth, req.Priority)
		if err != nil {
			rejected = append(rejected, seedRejection{URL: raw, Reason: err.Error()})
			continue
		}
		queued = append(queued, canonical)
	}

	h.log.Info("seeds submitted",
		logger.Int("queued", len(queued)),
		logger.Int("rejected", len(rejected)),
	)

	status := http.StatusCreated
	if len(queued) == 0 {
		status = http.StatusBadRequest
	}

	c.JSON(status, gin.H{
		"queued":   queued,
		"count":    len(queued),
		"rejected": rejected,
	})
}

// seedOne normalizes and enqueues a single seed URL.
func (h *Handler) seedOne(ctx context.Context, raw string, maxDepth int, priority *float64) (string, error) {
	canonical, err := h.norm.Normalize(raw)
	if err != nil {
		return "", err
	}

	domainName, err := urlnorm.RegistrableDomain(canonical)
	if err != nil {
		return "", err
	}

	job := &domain.CrawlJob{
		URL:           canonical,
		URLHash:       urlnorm.HashCanonical(canonical),
		NormalizedURL: canonical,
		Domain:        domainName,
		Depth:         0,
		MaxDepth:      maxDepth,
		MaxRetries:    h.maxRetries,
		ScheduledAt:   time.Now(),
	}

	// An explicit priority overrides the strategy score.
	if priority != nil {
		err = h.frontier.EnqueueWithPriority(ctx, job, *priority)
	} else {
		err = h.frontier.Enqueue(ctx, job, frontier.Signals{URL: canonical})
	}
	if err != nil {
		return "", err
	}

	if seenErr := h.seen.MarkSeen(ctx, canonical); seenErr != nil {
		h.log.Error("mark seen failed", logger.String("url", canonical), logger.Error(seenErr))
	}

	return canonical, nil
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.jobs.CountsByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	pending, err := h.jobs.PendingCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	nodes, err := h.graph.NodeCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	depths := make(map[string]int64)
	for _, topic := range []string{
		queue.TopicCrawlRequests, queue.TopicPages, queue.TopicNewLinks, queue.TopicDeadLetter,
	} {
		depth, depthErr := h.depths.QueueDepth(ctx, topic)
		if depthErr != nil {
			h.log.Error("queue depth read failed",
				logger.String("topic", topic), logger.Error(depthErr))
			continue
		}
		depths[topic] = depth
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy":      h.frontier.StrategyName(),
		"frontier_size": pending,
		"jobs_by_status": counts,
		"graph_nodes":   nodes,
		"queue_depths":  depths,
	})
}

// GetStrategy handles GET /api/v1/strategy.
func (h *Handler) GetStrategy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategy": h.frontier.StrategyName()})
}

// PutStrategy handles PUT /api/v1/strategy.
func (h *Handler) PutStrategy(c *gin.Context) {
	var req struct {
		Strategy string `json:"strategy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strategy, err := h.strategies(req.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.frontier.SetStrategy(strategy)
	h.log.Info("frontier strategy changed", logger.String("strategy", req.Strategy))

	c.JSON(http.StatusOK, gin.H{"strategy": strategy.Name()})
}

// GetTopPages handles GET /api/v1/pagerank.
func (h *Handler) GetTopPages(c *gin.Context) {
	limit := defaultTopPages
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxTopPages)
	}

	pages, err := h.graph.TopByScore(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pages": pages, "count": len(pages)})
}

// TriggerRank handles POST /api/v1/pagerank/recalculate. The run executes in
// the background; the returned id correlates the completion log line.
func (h *Handler) TriggerRank(c *gin.Context) {
	runID := uuid.NewString()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rankRunTimeout)
		defer cancel()

		if err := h.ranker.Run(ctx); err != nil {
			h.log.Error("triggered rank run failed",
				logger.String("run_id", runID), logger.Error(err))
			return
		}

		h.log.Info("triggered rank run complete", logger.String("run_id", runID))
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "started"})
}

// GetDedupStats handles GET /api/v1/dedup/stats.
func (h *Handler) GetDedupStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.seen.Stats())
}

// GetRateLimit handles GET /api/v1/ratelimit/:domain.
func (h *Handler) GetRateLimit(c *gin.Context) {
	domainName := c.Param("domain")

	status, err := h.rates.Status(c.Request.Context(), domainName, h.rateCapacity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// ResetRateLimit handles DELETE /api/v1/ratelimit/:domain.
func (h *Handler) ResetRateLimit(c *gin.Context) {
	domainName := c.Param("domain")

	if err := h.rates.Reset(c.Request.Context(), domainName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.log.Info("rate limit reset", logger.String("domain", domainName))
	c.JSON(http.StatusOK, gin.H{"message": "rate limit reset", "domain": domainName})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
