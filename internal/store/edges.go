package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const edgeColumns = `id, node1_id, node2_id, active_count, similarity, created_at, last_propagation_at`

// FindEdge returns the edge joining a and b in either order, or nil if none.
func (db *DB) FindEdge(ctx context.Context, a, b int64) (*Edge, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE (node1_id = ? AND node2_id = ?) OR (node1_id = ? AND node2_id = ?)
		LIMIT 1
	`, a, b, b, a)

	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find edge: %w", err)
	}
	return e, nil
}

// InsertEdge creates an edge row and sets e.ID. An existing edge for the
// pair, in either order, is reinforced instead.
func (db *DB) InsertEdge(ctx context.Context, e *Edge) error {
	var createdAt, lastPropagationAt int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO edges (node1_id, node2_id, active_count, similarity, created_at, last_propagation_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO UPDATE SET
			active_count = active_count + 1,
			last_propagation_at = excluded.last_propagation_at
		RETURNING `+edgeColumns+`
	`, e.Node1ID, e.Node2ID, e.ActiveCount, e.Similarity,
		e.CreatedAt.UnixMilli(), e.LastPropagationAt.UnixMilli(),
	).Scan(&e.ID, &e.Node1ID, &e.Node2ID, &e.ActiveCount, &e.Similarity, &createdAt, &lastPropagationAt)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.LastPropagationAt = time.UnixMilli(lastPropagationAt)
	return nil
}

// ReinforceEdge records one more co-activation of the pair.
func (db *DB) ReinforceEdge(ctx context.Context, id int64, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE edges SET active_count = active_count + 1, last_propagation_at = ? WHERE id = ?
	`, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("reinforce edge: %w", err)
	}
	return nil
}

// EdgesOf returns edges where id is node1 first, then those where it is node2.
func (db *DB) EdgesOf(ctx context.Context, id int64) ([]Edge, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE node1_id = ? OR node2_id = ?
		ORDER BY node1_id <> ?, id
	`, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("edges of %d: %w", id, err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// TouchEdges bumps last_propagation_at on the given edges.
func (db *DB) TouchEdges(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE edges SET last_propagation_at = ? WHERE id IN (%s)`, placeholders(len(ids)))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch edges: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdge(r rowScanner) (*Edge, error) {
	var e Edge
	var createdAt, lastPropagationAt int64
	if err := r.Scan(&e.ID, &e.Node1ID, &e.Node2ID, &e.ActiveCount, &e.Similarity,
		&createdAt, &lastPropagationAt); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.LastPropagationAt = time.UnixMilli(lastPropagationAt)
	return &e, nil
}
