package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/store"
)

// UpdateActivation runs one spreading cycle: co-active pairs reinforce
// their edges, every handle activated since the last cycle spreads its
// activation along stored edges, then the whole working set decays and
// weak handles are pruned.
func (n *Network) UpdateActivation(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Network.UpdateActivation")
	defer span.End()

	start := time.Now()
	now := n.now()

	if err := n.updateActivatedEdges(ctx, now); err != nil {
		return fail(span, err)
	}

	type seed struct {
		id         int64
		activation float64
	}
	seeds := make([]seed, 0, n.activated.len())
	for _, h := range n.activated.list() {
		seeds = append(seeds, seed{id: h.Node.ID, activation: h.Activation})
	}
	n.activated.clear()

	for _, s := range seeds {
		if s.activation <= n.params.SpreadFloor {
			continue
		}
		if err := n.spread(ctx, s.id, s.activation, now); err != nil {
			return fail(span, err)
		}
	}

	n.decay()

	cyclesTotal.Inc()
	cycleDuration.Observe(time.Since(start).Seconds())
	workingSetSize.Observe(float64(n.nodes.len()))
	span.SetAttributes(attribute.Int("seeds", len(seeds)), attribute.Int("working_set", n.nodes.len()))
	return nil
}

// updateActivatedEdges links or reinforces every pair of handles that are
// both at or above the co-activation threshold. Pairs are visited once each
// in working-set insertion order.
func (n *Network) updateActivatedEdges(ctx context.Context, now time.Time) error {
	var active []*ActiveNode
	for _, h := range n.nodes.list() {
		if h.Activation >= n.params.CoActive {
			active = append(active, h)
		}
	}

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			if err := n.linkPair(ctx, active[i].Node.ID, active[j].Node.ID, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *Network) linkPair(ctx context.Context, a, b int64, now time.Time) error {
	edge, err := n.store.FindEdge(ctx, a, b)
	if err != nil {
		return &StoreError{Op: "find edge", Err: err}
	}
	if edge != nil {
		if err := n.store.ReinforceEdge(ctx, edge.ID, now); err != nil {
			return &StoreError{Op: "reinforce edge", Err: err}
		}
		edgesReinforced.Inc()
		return nil
	}

	distance, err := n.store.NodeDistance(ctx, a, b)
	if err != nil {
		return &StoreError{Op: "node distance", Err: err}
	}
	edge = &store.Edge{
		Node1ID:           a,
		Node2ID:           b,
		ActiveCount:       1,
		Similarity:        1 - distance,
		CreatedAt:         now,
		LastPropagationAt: now,
	}
	if err := n.store.InsertEdge(ctx, edge); err != nil {
		return &StoreError{Op: "insert edge", Err: err}
	}
	if edge.ActiveCount > 1 {
		// another conversation created the pair first
		edgesReinforced.Inc()
		return nil
	}
	edgesCreated.Inc()
	n.logger.Debug("edge created",
		zap.Int64("edge", edge.ID), zap.Int64("node1", a), zap.Int64("node2", b),
		zap.Float64("similarity", edge.Similarity))
	return nil
}

// frame is one pending expansion. path is never mutated once the frame is
// built; children get their own copy.
type frame struct {
	path       []int64
	activation float64
	depth      int // hops this frame may still take
}

// spread propagates activation outward from seed, depth-first, never
// revisiting a node already on the current path and never travelling more
// than MaxDepth hops from the seed.
func (n *Network) spread(ctx context.Context, seed int64, activation float64, now time.Time) error {
	stack := []frame{{path: []int64{seed}, activation: activation, depth: n.params.MaxDepth}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := n.expand(ctx, f, now)
		if err != nil {
			return err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// expand pushes f's activation across every edge of its last node and
// returns the frames that should continue from the far endpoints.
func (n *Network) expand(ctx context.Context, f frame, now time.Time) ([]frame, error) {
	last := f.path[len(f.path)-1]

	edges, err := n.store.EdgesOf(ctx, last)
	if err != nil {
		return nil, &StoreError{Op: "edges of", Err: err}
	}
	if len(edges) == 0 {
		return nil, nil
	}

	maxCount := 1
	ids := make([]int64, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
		maxCount = max(maxCount, e.ActiveCount)
	}
	if err := n.store.TouchEdges(ctx, ids, now); err != nil {
		return nil, &StoreError{Op: "touch edges", Err: err}
	}

	var children []frame
	for _, e := range edges {
		far := e.Other(last)
		if slices.Contains(f.path, far) {
			continue
		}

		similarityScore := e.Similarity*0.1 + 0.9
		recencyScore := float64(e.ActiveCount)/float64(maxCount)*0.5 + 0.5
		next := f.activation * similarityScore * recencyScore

		if h, ok := n.nodes.get(far); ok {
			h.Activation = max(h.Activation, next)
		} else {
			node, err := n.store.GetNode(ctx, far)
			if errors.Is(err, store.ErrNotFound) {
				branchesAborted.Inc()
				n.logger.Warn("spread branch aborted, node vanished",
					zap.Int64("node", far), zap.Int64("from", last))
				continue
			}
			if err != nil {
				return nil, &StoreError{Op: "get node", Err: err}
			}
			node.Embedding = nil
			n.nodes.add(&ActiveNode{Node: *node, Activation: next})
		}

		// The far node was just updated at hop MaxDepth-f.depth+1. Gating on
		// depth > 0 instead would update nodes one hop past MaxDepth; the
		// traversal bound is MaxDepth hops from the seed, so keep > 1.
		if f.depth > 1 && next > n.params.SpreadFloor {
			path := append(slices.Clone(f.path), far)
			children = append(children, frame{path: path, activation: next, depth: f.depth - 1})
		}
	}
	return children, nil
}
