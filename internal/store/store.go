package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a node id no longer resolves to a row.
var ErrNotFound = errors.New("not found")

// ErrDimensionMismatch is returned when a query vector's length differs from
// the vectors already stored.
var ErrDimensionMismatch = errors.New("embedding dimensions do not match store")

// Node is a persisted memory fact. Memory and Embedding never change after
// creation; only LastActiveAt moves.
type Node struct {
	ID           int64
	Memory       string
	Embedding    []float64
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Edge is a persisted association between two distinct nodes. The pair is
// unordered: (1,2) and (2,1) are the same edge.
type Edge struct {
	ID                int64
	Node1ID           int64
	Node2ID           int64
	ActiveCount       int
	Similarity        float64
	CreatedAt         time.Time
	LastPropagationAt time.Time
}

// Other returns the endpoint of e opposite to id.
func (e Edge) Other(id int64) int64 {
	if e.Node1ID == id {
		return e.Node2ID
	}
	return e.Node1ID
}

// Match is a node ranked against a query vector.
type Match struct {
	Node     Node
	Distance float64 // cosine distance, lower is closer
}

// Stats summarizes store contents.
type Stats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Store is the narrow repository the activation network runs against.
// Every call is independently durable; nothing is batched.
type Store interface {
	// InsertNode persists a new node and returns it with its id.
	InsertNode(ctx context.Context, memory string, embedding []float64, now time.Time) (*Node, error)
	// NearestNodes ranks nodes by cosine distance to embedding, closest first.
	NearestNodes(ctx context.Context, embedding []float64, limit int) ([]Match, error)
	// TouchNodes sets last_active_at for every id.
	TouchNodes(ctx context.Context, ids []int64, now time.Time) error
	// GetNode returns ErrNotFound when id does not exist.
	GetNode(ctx context.Context, id int64) (*Node, error)
	// NodeDistance is the cosine distance between two stored node vectors.
	NodeDistance(ctx context.Context, a, b int64) (float64, error)

	// FindEdge looks the pair up in either endpoint order. Returns nil, nil when absent.
	FindEdge(ctx context.Context, a, b int64) (*Edge, error)
	// InsertEdge persists e and sets e.ID. When the pair already has an edge,
	// for instance one created concurrently by another conversation, that edge
	// is reinforced instead and e is overwritten with its stored state.
	InsertEdge(ctx context.Context, e *Edge) error
	// ReinforceEdge increments active_count and sets last_propagation_at.
	ReinforceEdge(ctx context.Context, id int64, now time.Time) error
	// EdgesOf returns every edge touching id, in either endpoint position.
	EdgesOf(ctx context.Context, id int64) ([]Edge, error)
	// TouchEdges sets last_propagation_at for every id.
	TouchEdges(ctx context.Context, ids []int64, now time.Time) error

	Stats(ctx context.Context) (Stats, error)
	Ping() error
	Close() error
}
