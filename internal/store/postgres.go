package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

// Postgres stores nodes and edges in PostgreSQL with the pgvector extension,
// ranking by the <=> cosine distance operator inside the database.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and ensures the schema exists for vectors of
// the given dimensionality.
func OpenPostgres(ctx context.Context, dsn string, dimensions int) (*Postgres, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("postgres: dimensions must be positive, got %d", dimensions)
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := NewPostgres(sqlDB)
	if err := p.Migrate(ctx, dimensions); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the pgvector extension, tables and indexes if missing.
func (p *Postgres) Migrate(ctx context.Context, dimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nodes (
			id             BIGSERIAL PRIMARY KEY,
			memory         TEXT NOT NULL,
			embedding      vector(%d) NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimensions),
		`CREATE TABLE IF NOT EXISTS edges (
			id                  BIGSERIAL PRIMARY KEY,
			node1_id            BIGINT NOT NULL REFERENCES nodes(id),
			node2_id            BIGINT NOT NULL REFERENCES nodes(id),
			active_count        INTEGER NOT NULL DEFAULT 1,
			similarity          DOUBLE PRECISION NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_propagation_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (node1_id <> node2_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS edges_pair_idx ON edges (LEAST(node1_id, node2_id), GREATEST(node1_id, node2_id))`,
		`CREATE INDEX IF NOT EXISTS edges_node1_idx ON edges (node1_id)`,
		`CREATE INDEX IF NOT EXISTS edges_node2_idx ON edges (node2_id)`,
	}
	for i, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

func (p *Postgres) InsertNode(ctx context.Context, memory string, embedding []float64, now time.Time) (*Node, error) {
	n := &Node{Memory: memory, Embedding: embedding}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO nodes (memory, embedding, created_at, last_active_at)
		VALUES ($1, $2::vector, $3, $3)
		RETURNING id, created_at, last_active_at
	`, memory, formatVector(embedding), now).Scan(&n.ID, &n.CreatedAt, &n.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}
	return n, nil
}

// NearestNodes does not load embeddings for the matches; callers only need
// identity, text and distance.
func (p *Postgres) NearestNodes(ctx context.Context, embedding []float64, limit int) ([]Match, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, memory, created_at, last_active_at, embedding <=> $1::vector AS distance
		FROM nodes
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, formatVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest nodes: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Node.ID, &m.Node.Memory, &m.Node.CreatedAt, &m.Node.LastActiveAt, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *Postgres) TouchNodes(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx,
		`UPDATE nodes SET last_active_at = $1 WHERE id = ANY($2)`, now, pq.Array(ids)); err != nil {
		return fmt.Errorf("touch nodes: %w", err)
	}
	return nil
}

func (p *Postgres) GetNode(ctx context.Context, id int64) (*Node, error) {
	var n Node
	var vec string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, memory, embedding::text, created_at, last_active_at FROM nodes WHERE id = $1
	`, id).Scan(&n.ID, &n.Memory, &vec, &n.CreatedAt, &n.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	if n.Embedding, err = parseVector(vec); err != nil {
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	return &n, nil
}

func (p *Postgres) NodeDistance(ctx context.Context, a, b int64) (float64, error) {
	var distance float64
	err := p.db.QueryRowContext(ctx, `
		SELECT n1.embedding <=> n2.embedding
		FROM nodes n1, nodes n2
		WHERE n1.id = $1 AND n2.id = $2
	`, a, b).Scan(&distance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("distance %d-%d: %w", a, b, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("node distance: %w", err)
	}
	return distance, nil
}

func (p *Postgres) FindEdge(ctx context.Context, a, b int64) (*Edge, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE (node1_id = $1 AND node2_id = $2) OR (node1_id = $2 AND node2_id = $1)
		LIMIT 1
	`, a, b)

	e, err := scanPgEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find edge: %w", err)
	}
	return e, nil
}

// InsertEdge upserts on the unordered pair index, so a pair inserted
// concurrently is reinforced rather than rejected.
func (p *Postgres) InsertEdge(ctx context.Context, e *Edge) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO edges (node1_id, node2_id, active_count, similarity, created_at, last_propagation_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ((LEAST(node1_id, node2_id)), (GREATEST(node1_id, node2_id))) DO UPDATE SET
			active_count = edges.active_count + 1,
			last_propagation_at = EXCLUDED.last_propagation_at
		RETURNING `+edgeColumns+`
	`, e.Node1ID, e.Node2ID, e.ActiveCount, e.Similarity, e.CreatedAt, e.LastPropagationAt)

	stored, err := scanPgEdge(row)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	*e = *stored
	return nil
}

func (p *Postgres) ReinforceEdge(ctx context.Context, id int64, now time.Time) error {
	if _, err := p.db.ExecContext(ctx, `
		UPDATE edges SET active_count = active_count + 1, last_propagation_at = $1 WHERE id = $2
	`, now, id); err != nil {
		return fmt.Errorf("reinforce edge: %w", err)
	}
	return nil
}

// EdgesOf queries both endpoint columns concurrently and concatenates the
// node1 side before the node2 side.
func (p *Postgres) EdgesOf(ctx context.Context, id int64) ([]Edge, error) {
	var asFirst, asSecond []Edge

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		asFirst, err = p.queryEdges(gctx, `SELECT `+edgeColumns+` FROM edges WHERE node1_id = $1 ORDER BY id`, id)
		return err
	})
	g.Go(func() (err error) {
		asSecond, err = p.queryEdges(gctx, `SELECT `+edgeColumns+` FROM edges WHERE node2_id = $1 ORDER BY id`, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("edges of %d: %w", id, err)
	}
	return append(asFirst, asSecond...), nil
}

func (p *Postgres) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanPgEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

func (p *Postgres) TouchEdges(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx,
		`UPDATE edges SET last_propagation_at = $1 WHERE id = ANY($2)`, now, pq.Array(ids)); err != nil {
		return fmt.Errorf("touch edges: %w", err)
	}
	return nil
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM edges)
	`).Scan(&s.Nodes, &s.Edges)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

func (p *Postgres) Ping() error  { return p.db.Ping() }
func (p *Postgres) Close() error { return p.db.Close() }

func scanPgEdge(r rowScanner) (*Edge, error) {
	var e Edge
	if err := r.Scan(&e.ID, &e.Node1ID, &e.Node2ID, &e.ActiveCount, &e.Similarity,
		&e.CreatedAt, &e.LastPropagationAt); err != nil {
		return nil, err
	}
	return &e, nil
}
