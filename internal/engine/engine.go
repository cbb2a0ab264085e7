package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

var tracer = otel.Tracer("github.com/lazypower/recall/internal/engine")

// Network is the associative memory activation engine. It owns one working
// set of activated nodes and mediates all store access for it.
//
// A Network is not safe for concurrent use: one cycle (ActivateNode calls
// followed by UpdateActivation) must finish before the next begins. Run one
// Network per conversation; see Registry.
type Network struct {
	store    store.Store
	embedder Embedder
	params   config.NetworkConfig
	logger   *zap.Logger
	now      func() time.Time

	nodes     workingSet // every live handle
	activated workingSet // handles activated since the last cycle; the spreading seeds
}

// Option configures a Network.
type Option func(*Network)

// WithParams replaces the default tunables.
func WithParams(p config.NetworkConfig) Option {
	return func(n *Network) { n.params = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Network) { n.logger = l }
}

// WithClock overrides the time source used for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Network) { n.now = now }
}

// New creates a Network with an empty working set.
func New(st store.Store, emb Embedder, opts ...Option) *Network {
	n := &Network{
		store:     st,
		embedder:  emb,
		params:    config.Default().Network,
		logger:    zap.NewNop(),
		now:       time.Now,
		nodes:     newWorkingSet(),
		activated: newWorkingSet(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Params returns the network's tunables.
func (n *Network) Params() config.NetworkConfig { return n.params }

// Len returns the number of handles in the working set.
func (n *Network) Len() int { return n.nodes.len() }

// matchActivation maps a match distance to an activation in (0.8, 1.0].
func matchActivation(distance float64) float64 {
	return (1-distance)*0.2 + 0.8
}

// ActivateNode folds fact into the graph. The fact's nearest stored nodes
// are activated by closeness; when none is within the merge distance a new
// node is created at full activation. Repeated activation of a node
// overwrites its previous score rather than keeping the maximum.
func (n *Network) ActivateNode(ctx context.Context, fact string) error {
	ctx, span := tracer.Start(ctx, "Network.ActivateNode",
		trace.WithAttributes(attribute.Int("fact.length", len(fact))))
	defer span.End()

	now := n.now()

	vec, err := n.embedder.Embed(ctx, fact)
	if err != nil {
		embedFailures.Inc()
		return fail(span, providerError(err))
	}

	matches, err := n.store.NearestNodes(ctx, vec, n.params.MatchLimit)
	if err != nil {
		return fail(span, &StoreError{Op: "nearest nodes", Err: err})
	}

	if len(matches) == 0 || matches[0].Distance > n.params.MergeDistance {
		node, err := n.store.InsertNode(ctx, fact, vec, now)
		if err != nil {
			return fail(span, &StoreError{Op: "insert node", Err: err})
		}
		nodesCreated.Inc()
		n.logger.Debug("node created", zap.Int64("node", node.ID), zap.String("memory", fact))

		node.Embedding = nil
		n.activated.add(n.nodes.set(*node, 1))
		span.SetAttributes(attribute.Bool("node.created", true))
	}

	if len(matches) == 0 {
		return nil
	}

	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.Node.ID
	}
	if err := n.store.TouchNodes(ctx, ids, now); err != nil {
		return fail(span, &StoreError{Op: "touch nodes", Err: err})
	}

	for _, m := range matches {
		node := m.Node
		node.Embedding = nil
		node.LastActiveAt = now
		n.activated.add(n.nodes.set(node, matchActivation(m.Distance)))
	}
	span.SetAttributes(attribute.Int("node.matches", len(matches)))
	return nil
}

// Recall runs one full cycle: every fact is activated in order, activation
// spreads once, and the top entries of the resulting working set are
// returned. A non-positive topK uses the configured default.
func (n *Network) Recall(ctx context.Context, facts []string, topK int) ([]ActiveNode, error) {
	for _, f := range facts {
		if err := n.ActivateNode(ctx, f); err != nil {
			return nil, err
		}
	}
	if err := n.UpdateActivation(ctx); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = n.params.DefaultTopK
	}
	return n.GetActivatedNodes(topK), nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
