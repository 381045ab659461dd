package ranker_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/seekerlabs/crawld/internal/domain"
	"github.com/seekerlabs/crawld/internal/logger"
	"github.com/seekerlabs/crawld/internal/metrics"
	"github.com/seekerlabs/crawld/internal/ranker"
)

func TestCompute_EmptyGraph(t *testing.T) {
	result := ranker.Compute(ranker.Graph{}, 0, 0, 0)

	require.True(t, result.Converged)
	require.Empty(t, result.Scores)
}

func TestCompute_LinkOrdering(t *testing.T) {
	// A -> B, A -> C, B -> C. C collects the most link mass, A only the
	// teleport share.
	g := ranker.Graph{
		Nodes: 3,
		Out: [][]int{
			{1, 2},
			{2},
			nil,
		},
	}

	result := ranker.Compute(g, 0.85, 1e-6, 100)

	require.True(t, result.Converged)
	require.Greater(t, result.Scores[2], result.Scores[1])
	require.Greater(t, result.Scores[1], result.Scores[0])
	require.InDelta(t, 1.0, result.Scores[2], 1e-12, "top page normalizes to 1.0")
}

func TestCompute_SymmetricPairIsEqual(t *testing.T) {
	g := ranker.Graph{
		Nodes: 2,
		Out:   [][]int{{1}, {0}},
	}

	result := ranker.Compute(g, 0.85, 1e-8, 100)

	require.InDelta(t, result.Scores[0], result.Scores[1], 1e-9)
	require.InDelta(t, 1.0, result.Scores[0], 1e-9)
}

func TestCompute_DanglingMassIsRedistributed(t *testing.T) {
	// B is dangling; its mass must not vanish, so A still holds a sensible
	// score and the iteration converges.
	g := ranker.Graph{
		Nodes: 2,
		Out:   [][]int{{1}, nil},
	}

	result := ranker.Compute(g, 0.85, 1e-8, 100)

	require.True(t, result.Converged)
	require.Greater(t, result.Scores[0], 0.0)
	require.Greater(t, result.Scores[1], result.Scores[0])
}

func TestCompute_IterationBound(t *testing.T) {
	g := ranker.Graph{
		Nodes: 3,
		Out:   [][]int{{1}, {2}, {0}},
	}

	result := ranker.Compute(g, 0.85, 0.0, 5)

	require.LessOrEqual(t, result.Iterations, 5)
}

type fakeGraphSource struct {
	nodes   []domain.PageNode
	edges   []domain.LinkEdge
	updated map[int64]float64
}

func (f *fakeGraphSource) Snapshot(context.Context) ([]domain.PageNode, []domain.LinkEdge, error) {
	return f.nodes, f.edges, nil
}

func (f *fakeGraphSource) UpdateScores(_ context.Context, scores map[int64]float64) error {
	f.updated = scores
	return nil
}

type fakeRankWriter struct {
	ranks map[string]float64
}

func (f *fakeRankWriter) UpdateRank(_ context.Context, urlHash string, score float64) error {
	if f.ranks == nil {
		f.ranks = make(map[string]float64)
	}
	f.ranks[urlHash] = score
	return nil
}

func TestRun_PersistsAndPropagates(t *testing.T) {
	graph := &fakeGraphSource{
		nodes: []domain.PageNode{
			{ID: 10, URL: "https://a.example/", URLHash: "hash-a"},
			{ID: 20, URL: "https://b.example/", URLHash: "hash-b"},
			{ID: 30, URL: "https://c.example/", URLHash: "hash-c"},
		},
		edges: []domain.LinkEdge{
			{SourcePageID: 10, TargetPageID: 20},
			{SourcePageID: 10, TargetPageID: 30},
			{SourcePageID: 20, TargetPageID: 30},
		},
	}
	writer := &fakeRankWriter{}

	r := ranker.New(graph, writer, metrics.New(prometheus.NewRegistry()), logger.NewNop(), ranker.Config{})
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, graph.updated, 3)
	require.Greater(t, graph.updated[30], graph.updated[20])
	require.Greater(t, graph.updated[20], graph.updated[10])
	require.InDelta(t, 1.0, graph.updated[30], 1e-12)

	require.Len(t, writer.ranks, 3)
	require.InDelta(t, graph.updated[10], writer.ranks["hash-a"], 1e-12)
}

func TestRun_EmptyGraphIsNoop(t *testing.T) {
	graph := &fakeGraphSource{}
	writer := &fakeRankWriter{}

	r := ranker.New(graph, writer, metrics.New(prometheus.NewRegistry()), logger.NewNop(), ranker.Config{})
	require.NoError(t, r.Run(context.Background()))

	require.Empty(t, graph.updated)
	require.Empty(t, writer.ranks)
}
