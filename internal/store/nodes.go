package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// InsertNode creates a node row and returns it.
func (db *DB) InsertNode(ctx context.Context, memory string, embedding []float64, now time.Time) (*Node, error) {
	ms := now.UnixMilli()
	result, err := db.ExecContext(ctx, `
		INSERT INTO nodes (memory, embedding, dimensions, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?)
	`, memory, encodeEmbedding(embedding), len(embedding), ms, ms)
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert node id: %w", err)
	}
	return &Node{
		ID:           id,
		Memory:       memory,
		Embedding:    embedding,
		CreatedAt:    time.UnixMilli(ms),
		LastActiveAt: time.UnixMilli(ms),
	}, nil
}

// NearestNodes ranks every stored vector in Go. SQLite has no vector
// operator, so this is a full scan. Stored vectors of another length return
// ErrDimensionMismatch rather than ranking as unrelated.
func (db *DB) NearestNodes(ctx context.Context, embedding []float64, limit int) ([]Match, error) {
	var stored int
	err := db.QueryRowContext(ctx, `
		SELECT dimensions FROM nodes WHERE dimensions <> ? LIMIT 1
	`, len(embedding)).Scan(&stored)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: stored %d, query %d", ErrDimensionMismatch, stored, len(embedding))
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("nearest nodes: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, memory, embedding, created_at, last_active_at FROM nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("nearest nodes: %w", err)
	}
	defer rows.Close()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(nodes))
	for i, n := range nodes {
		matches[i] = Match{Node: n, Distance: CosineDistance(embedding, n.Embedding)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// TouchNodes bumps last_active_at on the given nodes.
func (db *DB) TouchNodes(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE nodes SET last_active_at = ? WHERE id IN (%s)`, placeholders(len(ids)))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch nodes: %w", err)
	}
	return nil
}

// GetNode returns a node by id or ErrNotFound.
func (db *DB) GetNode(ctx context.Context, id int64) (*Node, error) {
	var n Node
	var blob []byte
	var createdAt, lastActiveAt int64
	err := db.QueryRowContext(ctx, `
		SELECT id, memory, embedding, created_at, last_active_at FROM nodes WHERE id = ?
	`, id).Scan(&n.ID, &n.Memory, &blob, &createdAt, &lastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	n.Embedding = decodeEmbedding(blob)
	n.CreatedAt = time.UnixMilli(createdAt)
	n.LastActiveAt = time.UnixMilli(lastActiveAt)
	return &n, nil
}

// NodeDistance loads both vectors and compares them.
func (db *DB) NodeDistance(ctx context.Context, a, b int64) (float64, error) {
	na, err := db.GetNode(ctx, a)
	if err != nil {
		return 0, err
	}
	nb, err := db.GetNode(ctx, b)
	if err != nil {
		return 0, err
	}
	return CosineDistance(na.Embedding, nb.Embedding), nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var n Node
		var blob []byte
		var createdAt, lastActiveAt int64
		if err := rows.Scan(&n.ID, &n.Memory, &blob, &createdAt, &lastActiveAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Embedding = decodeEmbedding(blob)
		n.CreatedAt = time.UnixMilli(createdAt)
		n.LastActiveAt = time.UnixMilli(lastActiveAt)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
