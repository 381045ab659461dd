// Package ranker computes PageRank over the stored link graph and pushes the
// scores back into the graph store and the search index.
package ranker

import "math"

const (
	// DefaultDamping is the probability of following a link rather than
	// jumping to a random page.
	DefaultDamping = 0.85

	// DefaultEpsilon is the L1 convergence threshold.
	DefaultEpsilon = 1e-4

	// DefaultMaxIterations bounds the power iteration.
	DefaultMaxIterations = 100
)

// Graph is the adjacency input to the computation: for each node index, the
// indexes it links to. Nodes with no entry are dangling.
type Graph struct {
	Nodes int
	Out   [][]int
}

// Result carries the computed scores and convergence info.
type Result struct {
	Scores     []float64
	Iterations int
	Converged  bool
}

// Compute runs power iteration over the graph. Scores start uniform at 1/N;
// each round every page splits its damped score across its outbound links,
// dangling mass is spread uniformly, and iteration stops when the L1 delta
// drops below epsilon. The final vector is normalized so the top page scores
// exactly 1.0.
func Compute(g Graph, damping, epsilon float64, maxIterations int) Result {
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	n := g.Nodes
	if n == 0 {
		return Result{Converged: true}
	}

	scores := make([]float64, n)
	next := make([]float64, n)

	uniform := 1.0 / float64(n)
	for i := range scores {
		scores[i] = uniform
	}

	result := Result{}

	for iter := 1; iter <= maxIterations; iter++ {
		base := (1 - damping) / float64(n)

		// Dangling pages donate their whole score to everyone.
		dangling := 0.0
		for i := range scores {
			if len(g.Out[i]) == 0 {
				dangling += scores[i]
			}
		}
		base += damping * dangling / float64(n)

		for i := range next {
			next[i] = base
		}

		for i, targets := range g.Out {
			if len(targets) == 0 {
				continue
			}

			share := damping * scores[i] / float64(len(targets))
			for _, t := range targets {
				next[t] += share
			}
		}

		delta := 0.0
		for i := range scores {
			delta += math.Abs(next[i] - scores[i])
		}

		scores, next = next, scores
		result.Iterations = iter

		if delta < epsilon {
			result.Converged = true
			break
		}
	}

	maxNormalize(scores)
	result.Scores = scores

	return result
}

// maxNormalize scales the vector so its maximum is 1.0.
func maxNormalize(scores []float64) {
	peak := 0.0
	for _, s := range scores {
		if s > peak {
			peak = s
		}
	}

	if peak == 0 {
		return
	}

	for i := range scores {
		scores[i] /= peak
	}
}
