package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedNodes(t *testing.T, db *DB, n int) []*Node {
	t.Helper()
	nodes := make([]*Node, n)
	for i := range nodes {
		vec := make([]float64, n)
		vec[i] = 1
		node, err := db.InsertNode(context.Background(), string(rune('a'+i)), vec, time.Now())
		require.NoError(t, err)
		nodes[i] = node
	}
	return nodes
}

func TestFindEdgeEitherOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	nodes := seedNodes(t, db, 2)
	now := time.UnixMilli(5_000)

	e, err := db.FindEdge(ctx, nodes[0].ID, nodes[1].ID)
	require.NoError(t, err)
	assert.Nil(t, e)

	edge := &Edge{Node1ID: nodes[0].ID, Node2ID: nodes[1].ID, ActiveCount: 1, Similarity: 0.25,
		CreatedAt: now, LastPropagationAt: now}
	require.NoError(t, db.InsertEdge(ctx, edge))
	assert.NotZero(t, edge.ID)

	forward, err := db.FindEdge(ctx, nodes[0].ID, nodes[1].ID)
	require.NoError(t, err)
	backward, err := db.FindEdge(ctx, nodes[1].ID, nodes[0].ID)
	require.NoError(t, err)

	require.NotNil(t, forward)
	require.NotNil(t, backward)
	assert.Equal(t, edge.ID, forward.ID)
	assert.Equal(t, edge.ID, backward.ID)
	assert.Equal(t, 0.25, forward.Similarity)
	assert.True(t, forward.CreatedAt.Equal(now))
}

func TestInsertEdgeExistingPairReinforces(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	nodes := seedNodes(t, db, 2)
	created := time.UnixMilli(1_000)
	later := time.UnixMilli(9_000)

	first := &Edge{Node1ID: nodes[0].ID, Node2ID: nodes[1].ID, ActiveCount: 1, Similarity: 0.3,
		CreatedAt: created, LastPropagationAt: created}
	require.NoError(t, db.InsertEdge(ctx, first))

	second := &Edge{Node1ID: nodes[1].ID, Node2ID: nodes[0].ID, ActiveCount: 1, Similarity: 0.3,
		CreatedAt: later, LastPropagationAt: later}
	require.NoError(t, db.InsertEdge(ctx, second), "reversed pair reuses the existing edge")

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ActiveCount)
	assert.Equal(t, nodes[0].ID, second.Node1ID)
	assert.True(t, second.CreatedAt.Equal(created))
	assert.True(t, second.LastPropagationAt.Equal(later))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Edges)
}

func TestReinforceEdge(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	nodes := seedNodes(t, db, 2)
	then := time.UnixMilli(1_000)
	now := time.UnixMilli(9_000)

	edge := &Edge{Node1ID: nodes[0].ID, Node2ID: nodes[1].ID, ActiveCount: 1, Similarity: 0.5,
		CreatedAt: then, LastPropagationAt: then}
	require.NoError(t, db.InsertEdge(ctx, edge))

	require.NoError(t, db.ReinforceEdge(ctx, edge.ID, now))
	require.NoError(t, db.ReinforceEdge(ctx, edge.ID, now))

	got, err := db.FindEdge(ctx, nodes[0].ID, nodes[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ActiveCount)
	assert.Equal(t, 0.5, got.Similarity, "similarity is cached, never recomputed")
	assert.True(t, got.CreatedAt.Equal(then))
	assert.True(t, got.LastPropagationAt.Equal(now))
}

func TestEdgesOf(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := seedNodes(t, db, 4)
	now := time.Now()

	// b is node1 of b-c and node2 of a-b.
	for _, pair := range [][2]int{{0, 1}, {1, 2}, {2, 3}} {
		require.NoError(t, db.InsertEdge(ctx, &Edge{Node1ID: n[pair[0]].ID, Node2ID: n[pair[1]].ID,
			ActiveCount: 1, CreatedAt: now, LastPropagationAt: now}))
	}

	edges, err := db.EdgesOf(ctx, n[1].ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, n[2].ID, edges[0].Other(n[1].ID), "node1-side edges come first")
	assert.Equal(t, n[0].ID, edges[1].Other(n[1].ID))

	edges, err = db.EdgesOf(ctx, n[3].ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, n[2].ID, edges[0].Other(n[3].ID))
}

func TestTouchEdges(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := seedNodes(t, db, 3)
	then := time.UnixMilli(1_000)
	now := time.UnixMilli(2_000)

	ab := &Edge{Node1ID: n[0].ID, Node2ID: n[1].ID, ActiveCount: 2, CreatedAt: then, LastPropagationAt: then}
	bc := &Edge{Node1ID: n[1].ID, Node2ID: n[2].ID, ActiveCount: 1, CreatedAt: then, LastPropagationAt: then}
	require.NoError(t, db.InsertEdge(ctx, ab))
	require.NoError(t, db.InsertEdge(ctx, bc))

	require.NoError(t, db.TouchEdges(ctx, []int64{ab.ID}, now))

	got, _ := db.FindEdge(ctx, n[0].ID, n[1].ID)
	assert.True(t, got.LastPropagationAt.Equal(now))
	assert.Equal(t, 2, got.ActiveCount, "touch does not count as co-activation")

	got, _ = db.FindEdge(ctx, n[1].ID, n[2].ID)
	assert.True(t, got.LastPropagationAt.Equal(then))
}

func TestEdgeOther(t *testing.T) {
	e := Edge{Node1ID: 3, Node2ID: 7}
	assert.Equal(t, int64(7), e.Other(3))
	assert.Equal(t, int64(3), e.Other(7))
}
