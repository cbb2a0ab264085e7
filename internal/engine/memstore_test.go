package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lazypower/recall/internal/store"
)

// memStore is an in-memory store.Store for exercising the network without
// SQL. EdgesOf mirrors the SQL stores: node1-side edges first.
type memStore struct {
	mu       sync.Mutex
	nodes    map[int64]*store.Node
	order    []int64
	edges    []*store.Edge
	nextNode int64
	nextEdge int64
	calls    int
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{nodes: make(map[int64]*store.Node)}
}

func (m *memStore) InsertNode(_ context.Context, memory string, embedding []float64, now time.Time) (*store.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.nextNode++
	n := &store.Node{ID: m.nextNode, Memory: memory, Embedding: slices.Clone(embedding), CreatedAt: now, LastActiveAt: now}
	m.nodes[n.ID] = n
	m.order = append(m.order, n.ID)
	out := *n
	return &out, nil
}

func (m *memStore) NearestNodes(_ context.Context, embedding []float64, limit int) ([]store.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var matches []store.Match
	for _, id := range m.order {
		n := m.nodes[id]
		matches = append(matches, store.Match{Node: *n, Distance: store.CosineDistance(embedding, n.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *memStore) TouchNodes(_ context.Context, ids []int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, id := range ids {
		if n, ok := m.nodes[id]; ok {
			n.LastActiveAt = now
		}
	}
	return nil
}

func (m *memStore) GetNode(_ context.Context, id int64) (*store.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, store.ErrNotFound)
	}
	out := *n
	return &out, nil
}

func (m *memStore) NodeDistance(_ context.Context, a, b int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	na, okA := m.nodes[a]
	nb, okB := m.nodes[b]
	if !okA || !okB {
		return 0, fmt.Errorf("distance %d-%d: %w", a, b, store.ErrNotFound)
	}
	return store.CosineDistance(na.Embedding, nb.Embedding), nil
}

func (m *memStore) findLocked(a, b int64) *store.Edge {
	for _, e := range m.edges {
		if (e.Node1ID == a && e.Node2ID == b) || (e.Node1ID == b && e.Node2ID == a) {
			return e
		}
	}
	return nil
}

func (m *memStore) FindEdge(_ context.Context, a, b int64) (*store.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	e := m.findLocked(a, b)
	if e == nil {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (m *memStore) InsertEdge(_ context.Context, e *store.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if e.Node1ID == e.Node2ID {
		return errors.New("self edge")
	}
	if existing := m.findLocked(e.Node1ID, e.Node2ID); existing != nil {
		existing.ActiveCount++
		existing.LastPropagationAt = e.LastPropagationAt
		*e = *existing
		return nil
	}
	m.nextEdge++
	e.ID = m.nextEdge
	stored := *e
	m.edges = append(m.edges, &stored)
	return nil
}

func (m *memStore) ReinforceEdge(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, e := range m.edges {
		if e.ID == id {
			e.ActiveCount++
			e.LastPropagationAt = now
			return nil
		}
	}
	return fmt.Errorf("edge %d: %w", id, store.ErrNotFound)
}

func (m *memStore) EdgesOf(_ context.Context, id int64) ([]store.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var first, second []store.Edge
	for _, e := range m.edges {
		switch id {
		case e.Node1ID:
			first = append(first, *e)
		case e.Node2ID:
			second = append(second, *e)
		}
	}
	return append(first, second...), nil
}

func (m *memStore) TouchEdges(_ context.Context, ids []int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, e := range m.edges {
		if slices.Contains(ids, e.ID) {
			e.LastPropagationAt = now
		}
	}
	return nil
}

func (m *memStore) Stats(context.Context) (store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return store.Stats{Nodes: len(m.nodes), Edges: len(m.edges)}, nil
}

func (m *memStore) Ping() error  { return nil }
func (m *memStore) Close() error { return nil }

// addNode inserts a node directly, bypassing the network.
func (m *memStore) addNode(memory string, embedding []float64) store.Node {
	n, _ := m.InsertNode(context.Background(), memory, embedding, time.UnixMilli(0))
	return *n
}

// addEdge links two nodes directly with a given count and similarity.
func (m *memStore) addEdge(a, b store.Node, count int, similarity float64) *store.Edge {
	e := &store.Edge{Node1ID: a.ID, Node2ID: b.ID, ActiveCount: count, Similarity: similarity,
		CreatedAt: time.UnixMilli(0), LastPropagationAt: time.UnixMilli(0)}
	if err := m.InsertEdge(context.Background(), e); err != nil {
		panic(err)
	}
	return e
}

func (m *memStore) edge(a, b store.Node) *store.Edge {
	e, _ := m.FindEdge(context.Background(), a.ID, b.ID)
	return e
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// vanishingStore reports selected nodes as deleted.
type vanishingStore struct {
	*memStore
	gone map[int64]bool
	err  error // returned instead of ErrNotFound when set
}

func (v *vanishingStore) GetNode(ctx context.Context, id int64) (*store.Node, error) {
	if v.gone[id] {
		if v.err != nil {
			return nil, v.err
		}
		return nil, fmt.Errorf("node %d: %w", id, store.ErrNotFound)
	}
	return v.memStore.GetNode(ctx, id)
}

// vecEmbedder maps known texts to fixed vectors.
type vecEmbedder struct {
	vecs  map[string][]float64
	err   error
	calls int
}

func (v *vecEmbedder) Model() string   { return "test" }
func (v *vecEmbedder) Dimensions() int { return 2 }

func (v *vecEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	vec, ok := v.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return slices.Clone(vec), nil
}
