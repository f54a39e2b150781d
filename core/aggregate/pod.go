// Package aggregate - pod aggregator
package aggregate

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"ocp-cost/core/category"
	"ocp-cost/core/labels"
	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/metrics"
)

// Meta is the cluster metadata stamped on every output row.
type Meta struct {
	ClusterID      string
	ClusterAlias   string
	SourceUUID     string
	ReportPeriodID int
}

type podGroupKey struct {
	day          time.Time
	namespace    string
	node         string
	mergedLabels string
}

type podAcc struct {
	usageCPUSeconds     float64
	requestCPUSeconds   float64
	limitCPUSeconds     float64
	effectiveCPUSeconds float64

	usageMemByteSeconds     float64
	requestMemByteSeconds   float64
	limitMemByteSeconds     float64
	effectiveMemByteSeconds float64

	// MAX within the group
	nodeCapCPUCores       float64
	nodeCapCPUCoreSeconds float64
	nodeCapMemBytes       float64
	nodeCapMemByteSeconds float64

	// first value within the group, the documented equivalent of max on a
	// heterogeneous scalar
	resourceID  string
	hasResource bool
}

// PodAggregator groups hourly pod rows by (day, namespace, node,
// merged-labels) and produces the Pod rows of the summary. It accumulates
// across chunks, so the streaming path needs no separate regroup: duplicate
// keys across chunk boundaries land in the same accumulator.
type PodAggregator struct {
	enabled    map[string]struct{}
	nodeLabels map[dayNodeKey]labels.Set
	nsLabels   map[dayNodeKey]labels.Set
	categories *category.Matcher
	capacity   map[dayNodeKey]types.NodeCapacity

	groups map[podGroupKey]*podAcc
	// groupLabels keeps the parsed set for each canonical string so Emit
	// does not re-parse
	groupLabels map[string]labels.Set
}

// NewPodAggregator constructs the aggregator. The enabled-keys set is
// required: running without one is a configuration error, not a degraded
// mode. Label rows deduplicate keeping the last row per (date, key) before
// any join.
func NewPodAggregator(enabled map[string]struct{}, nodeLabelRows, nsLabelRows []types.LabelRow, categories *category.Matcher) (*PodAggregator, error) {
	if enabled == nil {
		return nil, errors.Config("enabled-keys set not provided")
	}
	if categories == nil {
		categories = category.NewMatcher(nil)
	}

	a := &PodAggregator{
		enabled:     enabled,
		nodeLabels:  map[dayNodeKey]labels.Set{},
		nsLabels:    map[dayNodeKey]labels.Set{},
		categories:  categories,
		capacity:    map[dayNodeKey]types.NodeCapacity{},
		groups:      map[podGroupKey]*podAcc{},
		groupLabels: map[string]labels.Set{},
	}
	for _, row := range nodeLabelRows {
		key := dayNodeKey{day: types.DayOf(row.Date), node: row.Key}
		a.nodeLabels[key] = labels.Parse(row.Labels, "pod_node_labels").Filter(enabled)
	}
	for _, row := range nsLabelRows {
		key := dayNodeKey{day: types.DayOf(row.Date), node: row.Key}
		a.nsLabels[key] = labels.Parse(row.Labels, "pod_namespace_labels").Filter(enabled)
	}
	return a, nil
}

// SetCapacity attaches the pre-computed node-capacity rows joined at emit.
func (a *PodAggregator) SetCapacity(caps []types.NodeCapacity) {
	for _, c := range caps {
		a.capacity[dayNodeKey{day: c.Date, node: c.Node}] = c
	}
}

// Add accumulates one chunk of hourly pod rows. Rows with an empty node are
// dropped. effective_usage is materialized pre-group per row.
func (a *PodAggregator) Add(rows []types.PodUsage) {
	for i := range rows {
		r := &rows[i]
		if r.Node == "" {
			continue
		}

		day := types.DayOf(r.IntervalStart)
		podSet := labels.Parse(r.PodLabels, "pod_labels").Filter(a.enabled)
		nodeSet := a.nodeLabels[dayNodeKey{day: day, node: r.Node}]
		nsSet := a.nsLabels[dayNodeKey{day: day, node: r.Namespace}]

		merged := labels.Merge(nodeSet, nsSet, podSet)
		canonical := labels.CanonicalJSON(merged)
		if _, ok := a.groupLabels[canonical]; !ok {
			a.groupLabels[canonical] = merged
		}

		key := podGroupKey{day: day, namespace: r.Namespace, node: r.Node, mergedLabels: canonical}
		acc, ok := a.groups[key]
		if !ok {
			acc = &podAcc{}
			a.groups[key] = acc
		}

		acc.usageCPUSeconds += r.PodUsageCPUCoreSeconds
		acc.requestCPUSeconds += r.PodRequestCPUCoreSeconds
		acc.limitCPUSeconds += r.PodLimitCPUCoreSeconds
		acc.effectiveCPUSeconds += labels.EffectiveUsage(r.PodEffectiveUsageCPUCoreSeconds, r.PodUsageCPUCoreSeconds, r.PodRequestCPUCoreSeconds)

		acc.usageMemByteSeconds += r.PodUsageMemoryByteSeconds
		acc.requestMemByteSeconds += r.PodRequestMemoryByteSeconds
		acc.limitMemByteSeconds += r.PodLimitMemoryByteSeconds
		acc.effectiveMemByteSeconds += labels.EffectiveUsage(r.PodEffectiveUsageMemoryByteSeconds, r.PodUsageMemoryByteSeconds, r.PodRequestMemoryByteSeconds)

		if r.NodeCapacityCPUCores > acc.nodeCapCPUCores {
			acc.nodeCapCPUCores = r.NodeCapacityCPUCores
		}
		if r.NodeCapacityCPUCoreSeconds > acc.nodeCapCPUCoreSeconds {
			acc.nodeCapCPUCoreSeconds = r.NodeCapacityCPUCoreSeconds
		}
		if r.NodeCapacityMemoryBytes > acc.nodeCapMemBytes {
			acc.nodeCapMemBytes = r.NodeCapacityMemoryBytes
		}
		if r.NodeCapacityMemoryByteSeconds > acc.nodeCapMemByteSeconds {
			acc.nodeCapMemByteSeconds = r.NodeCapacityMemoryByteSeconds
		}

		if !acc.hasResource && r.ResourceID != "" {
			acc.resourceID = r.ResourceID
			acc.hasResource = true
		}
	}
}

// Emit converts units, joins cluster capacity and cost categories, and
// produces the Pod summary rows, ordered by group key.
func (a *PodAggregator) Emit(meta Meta) []types.SummaryRow {
	keys := make([]podGroupKey, 0, len(a.groups))
	for key := range a.groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ki, kj := keys[i], keys[j]
		if !ki.day.Equal(kj.day) {
			return ki.day.Before(kj.day)
		}
		if ki.namespace != kj.namespace {
			return ki.namespace < kj.namespace
		}
		if ki.node != kj.node {
			return ki.node < kj.node
		}
		return ki.mergedLabels < kj.mergedLabels
	})

	out := make([]types.SummaryRow, 0, len(keys))
	for _, key := range keys {
		acc := a.groups[key]
		nc := a.capacity[dayNodeKey{day: key.day, node: key.node}]

		pm := &types.PodMetrics{
			PodUsageCPUCoreHours:          labels.SecondsToHours(acc.usageCPUSeconds),
			PodRequestCPUCoreHours:        labels.SecondsToHours(acc.requestCPUSeconds),
			PodLimitCPUCoreHours:          labels.SecondsToHours(acc.limitCPUSeconds),
			PodEffectiveUsageCPUCoreHours: labels.SecondsToHours(acc.effectiveCPUSeconds),

			PodUsageMemoryGigabyteHours:          labels.ByteSecondsToGigabyteHours(acc.usageMemByteSeconds),
			PodRequestMemoryGigabyteHours:        labels.ByteSecondsToGigabyteHours(acc.requestMemByteSeconds),
			PodLimitMemoryGigabyteHours:          labels.ByteSecondsToGigabyteHours(acc.limitMemByteSeconds),
			PodEffectiveUsageMemoryGigabyteHours: labels.ByteSecondsToGigabyteHours(acc.effectiveMemByteSeconds),

			NodeCapacityCPUCores:            acc.nodeCapCPUCores,
			NodeCapacityCPUCoreHours:        labels.SecondsToHours(acc.nodeCapCPUCoreSeconds),
			NodeCapacityMemoryGigabytes:     labels.BytesToGigabytes(acc.nodeCapMemBytes),
			NodeCapacityMemoryGigabyteHours: labels.ByteSecondsToGigabyteHours(acc.nodeCapMemByteSeconds),

			ClusterCapacityCPUCoreHours:        nc.ClusterCapacityCPUCoreHours,
			ClusterCapacityMemoryGigabyteHours: nc.ClusterCapacityMemoryGigabyteHours,
		}

		out = append(out, types.SummaryRow{
			ID:             uuid.New(),
			ReportPeriodID: meta.ReportPeriodID,
			ClusterID:      meta.ClusterID,
			ClusterAlias:   meta.ClusterAlias,
			SourceUUID:     meta.SourceUUID,
			UsageStart:     key.day,
			UsageEnd:       key.day,
			Namespace:      key.namespace,
			Node:           key.node,
			ResourceID:     acc.resourceID,
			DataSource:     types.DataSourcePod,
			Pod:            pm,
			PodLabels:      key.mergedLabels,
			VolumeLabels:   "{}",
			AllLabels:      key.mergedLabels,
			CostCategoryID: a.categories.Match(key.namespace),
		})
	}
	metrics.RowsEmitted.WithLabelValues("pod").Add(float64(len(out)))
	return out
}
