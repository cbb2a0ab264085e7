package engine

import "sort"

// Activation is forgotten in two steps at the end of every cycle:
//   - every handle's score is multiplied by the decay factor (0.5, a half-life
//     of one cycle)
//   - handles that fall below the prune threshold leave the working set
//
// Pruning never touches the store. A pruned node re-enters the working set
// as soon as a fact matches it or activation spreads to it again.

func (n *Network) decay() {
	for _, h := range n.nodes.list() {
		h.Activation *= n.params.Decay
	}
	n.nodes.retain(func(h *ActiveNode) bool {
		return h.Activation >= n.params.PruneBelow
	})
}

// GetActivatedNodes returns up to topK handles above the retrieval floor,
// highest activation first. Ties keep working-set insertion order. It reads
// only in-memory state.
func (n *Network) GetActivatedNodes(topK int) []ActiveNode {
	if topK <= 0 {
		return nil
	}

	var out []ActiveNode
	for _, h := range n.nodes.list() {
		if h.Activation > n.params.RetrievalFloor {
			out = append(out, *h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Activation > out[j].Activation
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
