package pipeline

import (
	"context"

	"go.uber.org/zap"

	"ocp-cost/core/aggregate"
	"ocp-cost/core/category"
	"ocp-cost/core/executor"
	"ocp-cost/core/labels"
	"ocp-cost/core/source"
	"ocp-cost/core/types"
	"ocp-cost/internal/config"
	"ocp-cost/internal/logging"
)

// OCPInputs carries the raw frames and reference data for the daily summary.
// Pods is a lazy chunk iterator; the remaining frames stay resident.
type OCPInputs struct {
	Pods executor.Iterator[[]types.PodUsage]

	Storage         []types.StorageUsage
	NodeLabels      []types.LabelRow
	NamespaceLabels []types.LabelRow
	NodeRoles       []types.NodeRoleRow
	EnabledTagKeys  []string
	CategoryRules   []types.CostCategoryRule
}

// InMemoryOCPInputs wraps fully loaded pod rows in a chunk iterator so the
// in-memory and streaming paths share one code path.
func InMemoryOCPInputs(pods []types.PodUsage, in OCPInputs, chunkSize int) OCPInputs {
	in.Pods = source.NewChunked(pods, chunkSize)
	return in
}

// RunOCPSummary produces the daily summary: pod and storage aggregation,
// capacity, and the unallocated pass. The pod stream is consumed exactly
// once; aggregators accumulate across chunks, so no separate regroup runs at
// the end. This path is always serial: the per-chunk step feeds shared
// accumulators.
func RunOCPSummary(ctx context.Context, in OCPInputs, cfg *config.Config) ([]types.SummaryRow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Performance.ParallelChunks {
		logging.Warn("parallel chunks ignored for the summary path")
	}
	log := logging.Phase("ocp_daily_summary")

	enabled := labels.EnabledSet(in.EnabledTagKeys)
	categories := category.NewMatcher(in.CategoryRules)
	meta := metaFromConfig(cfg)

	podAgg, err := aggregate.NewPodAggregator(enabled, in.NodeLabels, in.NamespaceLabels, categories)
	if err != nil {
		return nil, err
	}
	storageAgg, err := aggregate.NewStorageAggregator(enabled, in.NodeLabels, in.NamespaceLabels, categories)
	if err != nil {
		return nil, err
	}
	capacity := aggregate.NewCapacityCalculator()
	podIndex := aggregate.PodIndex{}

	fn := func(ctx context.Context, chunk []types.PodUsage, _ struct{}, index int) (int, error) {
		capacity.Add(chunk)
		podAgg.Add(chunk)
		podIndex.AddPods(chunk)
		return len(chunk), nil
	}
	sum := func(acc, next int) int { return acc + next }

	rows, err := executor.Run(ctx, in.Pods, struct{}{}, fn, sum,
		executor.Options{GCInterval: gcInterval(cfg)})
	if err != nil {
		return nil, err
	}
	if cerr := in.Pods.Close(); cerr != nil {
		log.Warn("closing pod source", zap.Error(cerr))
	}
	log.Info("pod usage consumed", zap.Int("rows", rows))

	podAgg.SetCapacity(capacity.Result())
	summary := podAgg.Emit(meta)
	summary = append(summary, storageAgg.Aggregate(in.Storage, podIndex, meta)...)

	unallocated := aggregate.NewUnallocatedCalculator(in.NodeRoles)
	summary = append(summary, unallocated.Calculate(summary, meta)...)

	return FormatSummary(summary, meta), nil
}

func gcInterval(cfg *config.Config) int {
	if cfg.Performance.UseStreaming {
		return 5
	}
	return 0
}
