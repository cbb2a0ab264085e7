package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "recall"

var (
	nodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "nodes_created_total",
		Help:      "Nodes inserted because no stored node was close enough to a fact.",
	})

	edgesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "edges_created_total",
		Help:      "Edges inserted for newly co-active node pairs.",
	})

	edgesReinforced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "edges_reinforced_total",
		Help:      "Co-activation counter increments on existing edges.",
	})

	branchesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "spread_branches_aborted_total",
		Help:      "Spreading branches dropped because their far node no longer exists.",
	})

	embedFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "embed_failures_total",
		Help:      "Facts that could not be activated because embedding failed.",
	})

	embedCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "embed_cache_lookups_total",
		Help:      "Embedding cache lookups by result.",
	}, []string{"result"})

	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycles_total",
		Help:      "Completed spreading cycles.",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one spreading cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	workingSetSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "working_set_size",
		Help:      "Handles left in the working set after a cycle.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	conversationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "conversations_active",
		Help:      "Conversations with a live working set.",
	})
)
