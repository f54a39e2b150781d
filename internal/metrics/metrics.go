// Package metrics exposes engine counters. Recoverable conditions increment a
// counter and are reported once per phase; these metrics back that policy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksProcessed counts chunks pushed through the executor.
	ChunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ocpcost",
		Name:      "chunks_processed_total",
		Help:      "Chunks processed by the streaming executor.",
	})

	// RowsEmitted counts output rows by kind (pod, storage, unallocated,
	// network, compute, storage_cost).
	RowsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocpcost",
		Name:      "rows_emitted_total",
		Help:      "Summary and attribution rows emitted.",
	}, []string{"kind"})

	// ParseFailures counts soft parse failures by phase.
	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocpcost",
		Name:      "parse_failures_total",
		Help:      "Label, JSON, and timestamp payloads that failed to parse.",
	}, []string{"phase"})

	// JoinMisses counts non-fatal join misses by kind (storage_pod,
	// network_node, unallocated_role).
	JoinMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ocpcost",
		Name:      "join_misses_total",
		Help:      "Rows dropped or redirected because a join found no match.",
	}, []string{"kind"})

	// MatchRate records the most recent match rate by matcher (resource, tag).
	MatchRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ocpcost",
		Name:      "match_rate",
		Help:      "Fraction of cloud rows matched by each matcher.",
	}, []string{"matcher"})

	// DedupDiscarded counts tag-matched attribution rows discarded in favor
	// of a resource-id match for the same (namespace, pod, hour, resource).
	DedupDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ocpcost",
		Name:      "attribution_dedup_discarded_total",
		Help:      "Tag-matched join rows discarded by attribution dedup.",
	})

	// SinkRowsWritten counts rows committed by the relational sink.
	SinkRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ocpcost",
		Name:      "sink_rows_written_total",
		Help:      "Rows written to the summary table.",
	})
)
