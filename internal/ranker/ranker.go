package ranker

import (
	"context"
	"fmt"
	"time"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
)

// GraphSource reads and writes the persisted link graph.
type GraphSource interface {
	Snapshot(ctx context.Context) ([]domain.PageNode, []domain.LinkEdge, error)
	UpdateScores(ctx context.Context, scores map[int64]float64) error
}

// RankWriter pushes scores into the search index. Missing documents are
// skipped by the store.
type RankWriter interface {
	UpdateRank(ctx context.Context, urlHash string, score float64) error
}

// Config holds the ranker tunables.
type Config struct {
	Damping       float64
	Epsilon       float64
	MaxIterations int
}

// Ranker orchestrates a full PageRank run: snapshot the graph, compute,
// persist, and propagate to the search index.
type Ranker struct {
	graph   GraphSource
	writer  RankWriter
	metrics *metrics.Metrics
	log     logger.Logger

	damping       float64
	epsilon       float64
	maxIterations int
}

// New wires a ranker. Zero config fields fall back to defaults.
func New(graph GraphSource, writer RankWriter, m *metrics.Metrics, log logger.Logger, cfg Config) *Ranker {
	damping := cfg.Damping
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}

	epsilon := cfg.Epsilon
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	return &Ranker{
		graph:         graph,
		writer:        writer,
		metrics:       m,
		log:           log,
		damping:       damping,
		epsilon:       epsilon,
		maxIterations: maxIterations,
	}
}

// Run executes one complete ranking pass.
func (r *Ranker) Run(ctx context.Context) error {
	start := time.Now()

	nodes, edges, err := r.graph.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("ranker snapshot: %w", err)
	}

	if len(nodes) == 0 {
		r.log.Info("link graph empty, skipping rank run")
		return nil
	}

	result := r.compute(nodes, edges)

	scores := make(map[int64]float64, len(nodes))
	for i, node := range nodes {
		scores[node.ID] = result.Scores[i]
	}

	if err := r.graph.UpdateScores(ctx, scores); err != nil {
		return fmt.Errorf("ranker persist: %w", err)
	}

	r.propagate(ctx, nodes, result.Scores)

	elapsed := time.Since(start)
	r.metrics.RankIterations.Set(float64(result.Iterations))
	r.metrics.RankDurationSeconds.Observe(elapsed.Seconds())

	r.log.Info("rank run complete",
		logger.Int("nodes", len(nodes)),
		logger.Int("edges", len(edges)),
		logger.Int("iterations", result.Iterations),
		logger.Bool("converged", result.Converged),
		logger.Duration("elapsed", elapsed),
	)

	return nil
}

// compute maps the persisted graph onto the dense index form and runs the
// power iteration. Edges referencing unknown nodes are dropped.
func (r *Ranker) compute(nodes []domain.PageNode, edges []domain.LinkEdge) Result {
	index := make(map[int64]int, len(nodes))
	for i, node := range nodes {
		index[node.ID] = i
	}

	out := make([][]int, len(nodes))
	for _, e := range edges {
		src, okSrc := index[e.SourcePageID]
		dst, okDst := index[e.TargetPageID]
		if !okSrc || !okDst {
			continue
		}
		out[src] = append(out[src], dst)
	}

	return Compute(Graph{Nodes: len(nodes), Out: out}, r.damping, r.epsilon, r.maxIterations)
}

// propagate writes the new scores into the search index. Failures are logged
// per document; the graph store already holds the authoritative scores.
func (r *Ranker) propagate(ctx context.Context, nodes []domain.PageNode, scores []float64) {
	for i, node := range nodes {
		if err := r.writer.UpdateRank(ctx, node.URLHash, scores[i]); err != nil {
			r.log.Error("rank propagation failed",
				logger.String("url", node.URL), logger.Error(err))
		}
	}
}
