package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/seekerlabs/crawld/internal/domain"
)

// PageGraphRepository handles the link graph tables used by the ranker.
type PageGraphRepository struct {
	db *sqlx.DB
}

// NewPageGraphRepository creates a new page graph repository.
func NewPageGraphRepository(db *sqlx.DB) *PageGraphRepository {
	return &PageGraphRepository{db: db}
}

// UpsertNode inserts or refreshes a page node, returning its id. Rank fields
// are never touched here; only the ranker writes them.
func (r *PageGraphRepository) UpsertNode(ctx context.Context, url, urlHash string) (int64, error) {
	query := `
		INSERT INTO page_graph (url, url_hash)
		VALUES ($1, $2)
		ON CONFLICT (url_hash) DO UPDATE SET url = EXCLUDED.url
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, url, urlHash).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert page node: %w", err)
	}

	return id, nil
}

// UpsertEdge inserts a directed link between two nodes, keeping the degree
// counters in step. Duplicate edges are absorbed. The insert and both counter
// bumps commit atomically so the counters always equal the edge count.
func (r *PageGraphRepository) UpsertEdge(ctx context.Context, sourceID, targetID int64, anchorText string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin edge upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		INSERT INTO page_links (source_page_id, target_page_id, anchor_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_page_id, target_page_id) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, query, sourceID, targetID, anchorText)
	if err != nil {
		return fmt.Errorf("failed to upsert link edge: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if inserted > 0 {
		degreeQuery := `UPDATE page_graph SET outbound_links_count = outbound_links_count + 1 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, degreeQuery, sourceID); err != nil {
			return fmt.Errorf("failed to bump outbound degree: %w", err)
		}

		inboundQuery := `UPDATE page_graph SET inbound_links_count = inbound_links_count + 1 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, inboundQuery, targetID); err != nil {
			return fmt.Errorf("failed to bump inbound degree: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edge upsert: %w", err)
	}

	return nil
}

// Snapshot reads every node and edge within one transaction so the ranker
// observes a consistent view of the graph.
func (r *PageGraphRepository) Snapshot(ctx context.Context) ([]domain.PageNode, []domain.LinkEdge, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var nodes []domain.PageNode
	nodeQuery := `
		SELECT id, url, url_hash, pagerank_score, previous_score,
			inbound_links_count, outbound_links_count, last_calculated_at
		FROM page_graph
	`
	if err = tx.SelectContext(ctx, &nodes, nodeQuery); err != nil {
		return nil, nil, fmt.Errorf("failed to read page nodes: %w", err)
	}

	var edges []domain.LinkEdge
	edgeQuery := `SELECT id, source_page_id, target_page_id, anchor_text FROM page_links`
	if err = tx.SelectContext(ctx, &edges, edgeQuery); err != nil {
		return nil, nil, fmt.Errorf("failed to read link edges: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return nodes, edges, nil
}

// UpdateScores writes the ranker's output in one transaction, rotating the
// current score into previous_score.
func (r *PageGraphRepository) UpdateScores(ctx context.Context, scores map[int64]float64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin score update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		UPDATE page_graph
		SET previous_score = pagerank_score,
			pagerank_score = $1,
			last_calculated_at = $2
		WHERE id = $3
	`

	now := time.Now()
	for id, score := range scores {
		if _, err = tx.ExecContext(ctx, query, score, now, id); err != nil {
			return fmt.Errorf("failed to update score for node %d: %w", id, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit score update: %w", err)
	}

	return nil
}

// TopByScore returns the n highest-ranked pages.
func (r *PageGraphRepository) TopByScore(ctx context.Context, n int) ([]domain.PageNode, error) {
	query := `
		SELECT id, url, url_hash, pagerank_score, previous_score,
			inbound_links_count, outbound_links_count, last_calculated_at
		FROM page_graph
		ORDER BY pagerank_score DESC
		LIMIT $1
	`

	var nodes []domain.PageNode
	if err := r.db.SelectContext(ctx, &nodes, query, n); err != nil {
		return nil, fmt.Errorf("failed to list top pages: %w", err)
	}

	return nodes, nil
}

// NodeCount returns the graph size.
func (r *PageGraphRepository) NodeCount(ctx context.Context) (int64, error) {
	var count int64

	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM page_graph`); err != nil {
		return 0, fmt.Errorf("failed to count page nodes: %w", err)
	}

	return count, nil
}
