// Package metrics defines the Prometheus instruments memrank records.
//
// All collectors are registered with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memrank"

var (
	// GateDecisions counts write-gate outcomes.
	// Labels: action (CREATE, CREATE_LINKED, UPDATE, REINFORCE, SUPERSEDE)
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Write-gate decisions by action",
		},
		[]string{"action"},
	)

	// ContradictionsDetected counts contradictions by pattern type.
	ContradictionsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "contradictions_total",
			Help:      "Contradictions detected by type",
		},
		[]string{"type"},
	)

	// ArchivalScans counts completed archival scans.
	// Labels: result (success, error, skipped)
	ArchivalScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archival",
			Name:      "scans_total",
			Help:      "Archival scans by result",
		},
		[]string{"result"},
	)

	// MemoriesArchived counts memories moved to the archived state.
	MemoriesArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archival",
			Name:      "archived_total",
			Help:      "Memories archived",
		},
	)

	// WorkingMemoryRemovals counts entries dropped from working memory.
	// Labels: reason (evicted, decayed, expired)
	WorkingMemoryRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "working_memory",
			Name:      "removals_total",
			Help:      "Working-memory entries removed by reason",
		},
		[]string{"reason"},
	)

	// PageRankIterations observes how many iterations PageRank ran.
	PageRankIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "pagerank_iterations",
			Help:      "Iterations per PageRank computation",
			Buckets:   prometheus.LinearBuckets(1, 3, 10),
		},
	)

	// CheckpointOps counts checkpoint operations.
	// Labels: op (create, restore, delete, prune), result (success, error)
	CheckpointOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "operations_total",
			Help:      "Checkpoint operations by op and result",
		},
		[]string{"op", "result"},
	)

	// EmbeddingCache counts embedding cache lookups.
	// Labels: result (hit, miss)
	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_lookups_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"result"},
	)
)

// Result maps an error to the "success"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
