package engine

import "github.com/lazypower/recall/internal/store"

// ActiveNode is a stored node paired with its transient activation score.
// Activation lives only in the working set of one Network and is never
// persisted.
type ActiveNode struct {
	Node       store.Node
	Activation float64
}

// workingSet is an id-keyed table of handles that remembers insertion
// order, so pair enumeration and score ties are deterministic.
type workingSet struct {
	order []int64
	byID  map[int64]*ActiveNode
}

func newWorkingSet() workingSet {
	return workingSet{byID: make(map[int64]*ActiveNode)}
}

func (w *workingSet) get(id int64) (*ActiveNode, bool) {
	h, ok := w.byID[id]
	return h, ok
}

// add stores h. A handle already present under the same id keeps its
// position but is replaced.
func (w *workingSet) add(h *ActiveNode) {
	if _, ok := w.byID[h.Node.ID]; !ok {
		w.order = append(w.order, h.Node.ID)
	}
	w.byID[h.Node.ID] = h
}

// set assigns activation to node's handle, creating it when absent.
func (w *workingSet) set(node store.Node, activation float64) *ActiveNode {
	if h, ok := w.byID[node.ID]; ok {
		h.Node = node
		h.Activation = activation
		return h
	}
	h := &ActiveNode{Node: node, Activation: activation}
	w.add(h)
	return h
}

func (w *workingSet) list() []*ActiveNode {
	out := make([]*ActiveNode, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.byID[id])
	}
	return out
}

// retain drops every handle keep rejects.
func (w *workingSet) retain(keep func(*ActiveNode) bool) {
	order := w.order[:0]
	for _, id := range w.order {
		if keep(w.byID[id]) {
			order = append(order, id)
			continue
		}
		delete(w.byID, id)
	}
	w.order = order
}

func (w *workingSet) clear() {
	w.order = nil
	clear(w.byID)
}

func (w *workingSet) len() int { return len(w.order) }
