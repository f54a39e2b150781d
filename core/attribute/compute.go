package attribute

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ocp-cost/core/labels"
	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// Distribution methods for the attribution ratio.
const (
	MethodCPU      = "cpu"
	MethodMemory   = "memory"
	MethodWeighted = "weighted"
)

// ComputeOptions selects the attribution ratio and the label allow-list for
// the emitted pod-label column.
type ComputeOptions struct {
	Method       string
	CPUWeight    float64
	MemoryWeight float64

	Enabled map[string]struct{}
}

type joinedRow struct {
	pod  *types.PodUsage
	item *types.CloudLineItem
	hour time.Time

	viaResource bool
	ratio       float64
}

type dedupKey struct {
	namespace  string
	pod        string
	hour       time.Time
	resourceID string
}

type itemHourKey struct {
	resourceID string
	hour       time.Time
}

// AttributeCompute joins OCP pod rows to matched cloud rows by resource id
// and by tag with hourly alignment, computes the per-pod attribution ratio,
// and distributes the four cost flavors with markup. Within each (cloud
// resource id, hour) group the ratios are rescaled when they sum above 1, so
// pods split the cost proportionally and the total never exceeds the cloud
// cost; a fully subscribed group conserves it exactly.
func AttributeCompute(pods []types.PodUsage, items []types.CloudLineItem, opts ComputeOptions, attr Attribution) ([]types.AttributedRow, error) {
	switch opts.Method {
	case MethodCPU, MethodMemory, MethodWeighted:
	default:
		return nil, errors.Newf(errors.TypeConfig, "unknown distribution method %q", opts.Method)
	}

	// Hourly indexes over the matched cloud rows. Tag-matched rows index by
	// the identifier the matcher recorded; cluster matches join to every pod
	// row in the hour.
	byResource := map[itemHourKey][]*types.CloudLineItem{}
	byClusterHour := map[time.Time][]*types.CloudLineItem{}
	byNodeHour := map[itemHourKey][]*types.CloudLineItem{}
	byNamespaceHour := map[itemHourKey][]*types.CloudLineItem{}

	for i := range items {
		item := &items[i]
		hour := types.HourOf(item.UsageStart)
		switch {
		case item.ResourceIDMatched:
			key := itemHourKey{resourceID: item.MatchedResourceID, hour: hour}
			byResource[key] = append(byResource[key], item)
		case item.TagMatched:
			switch {
			case item.MatchedCluster != "":
				byClusterHour[hour] = append(byClusterHour[hour], item)
			case item.MatchedNode != "":
				key := itemHourKey{resourceID: item.MatchedNode, hour: hour}
				byNodeHour[key] = append(byNodeHour[key], item)
			case item.MatchedNamespace != "":
				key := itemHourKey{resourceID: item.MatchedNamespace, hour: hour}
				byNamespaceHour[key] = append(byNamespaceHour[key], item)
			}
		}
	}

	joined := map[dedupKey]*joinedRow{}
	discarded := 0

	add := func(pod *types.PodUsage, item *types.CloudLineItem, hour time.Time, viaResource bool) {
		key := dedupKey{namespace: pod.Namespace, pod: pod.Pod, hour: hour, resourceID: item.ResourceID}
		existing, ok := joined[key]
		if ok {
			// duplicates resolve to the resource-id match; the loser is
			// counted, not silently dropped
			if viaResource && !existing.viaResource {
				existing.pod = pod
				existing.item = item
				existing.viaResource = true
			}
			discarded++
			metrics.DedupDiscarded.Inc()
			return
		}
		joined[key] = &joinedRow{pod: pod, item: item, hour: hour, viaResource: viaResource}
	}

	for i := range pods {
		pod := &pods[i]
		hour := types.HourOf(pod.IntervalStart)

		for _, item := range byResource[itemHourKey{resourceID: pod.ResourceID, hour: hour}] {
			add(pod, item, hour, true)
		}

		if types.IsSyntheticNamespace(pod.Namespace) {
			continue
		}
		for _, item := range byClusterHour[hour] {
			add(pod, item, hour, false)
		}
		for _, item := range byNodeHour[itemHourKey{resourceID: pod.Node, hour: hour}] {
			add(pod, item, hour, false)
		}
		for _, item := range byNamespaceHour[itemHourKey{resourceID: pod.Namespace, hour: hour}] {
			add(pod, item, hour, false)
		}
	}

	if discarded > 0 {
		logging.Warn("duplicate pod-cloud joins resolved",
			zap.Int("discarded", discarded))
	}

	// Ratio per joined row, then normalization within (cloud resource id,
	// hour) so concurrent pods split the cost proportionally.
	rows := make([]*joinedRow, 0, len(joined))
	for _, jr := range joined {
		jr.ratio = attributionRatio(jr.pod, opts)
		rows = append(rows, jr)
	}

	ratioSums := map[itemHourKey]float64{}
	for _, jr := range rows {
		ratioSums[itemHourKey{resourceID: jr.item.ResourceID, hour: jr.hour}] += jr.ratio
	}

	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i], rows[j]
		if !ri.hour.Equal(rj.hour) {
			return ri.hour.Before(rj.hour)
		}
		if ri.pod.Namespace != rj.pod.Namespace {
			return ri.pod.Namespace < rj.pod.Namespace
		}
		if ri.pod.Pod != rj.pod.Pod {
			return ri.pod.Pod < rj.pod.Pod
		}
		return ri.item.ResourceID < rj.item.ResourceID
	})

	out := make([]types.AttributedRow, 0, len(rows))
	for _, jr := range rows {
		// Shares scale down when the group oversubscribes the node and are
		// left as-is otherwise, so a lone pod at 61.5% of a node is charged
		// 61.5% of the cloud cost, never the whole row.
		sum := ratioSums[itemHourKey{resourceID: jr.item.ResourceID, hour: jr.hour}]
		normalized := jr.ratio
		if sum > 1 {
			normalized = jr.ratio / sum
		}
		cost := jr.item.Cost.Mul(decimal.NewFromFloat(normalized))

		podLabels := labels.CanonicalJSON(labels.Parse(jr.pod.PodLabels, "attribution_pod_labels").Filter(opts.Enabled))

		out = append(out, types.AttributedRow{
			ID:               uuid.New(),
			ReportPeriodID:   attr.ReportPeriodID,
			CostEntryBillID:  attr.CostEntryBillID,
			ClusterID:        attr.ClusterID,
			ClusterAlias:     attr.ClusterAlias,
			SourceUUID:       attr.SourceUUID,
			UsageStart:       jr.hour,
			UsageEnd:         jr.hour,
			Namespace:        jr.pod.Namespace,
			Node:             jr.pod.Node,
			ResourceID:       jr.item.ResourceID,
			AccountID:        jr.item.AccountID,
			Region:           jr.item.Region,
			AvailabilityZone: jr.item.AvailabilityZone,
			InstanceType:     jr.item.InstanceType,
			Currency:         jr.item.Currency,
			Cost:             cost,
			Markup:           cost.Mul(attr.Markup),
			PodLabels:        podLabels,
			Tags:             jr.item.Tags,
			CostCategory:     jr.item.CostCategory,
		})
	}
	metrics.RowsEmitted.WithLabelValues("compute").Add(float64(len(out)))
	return out, nil
}

// attributionRatio computes the configured pod-to-node ratio. Missing or zero
// denominators yield 0; the value is clamped into [0, 1].
func attributionRatio(pod *types.PodUsage, opts ComputeOptions) float64 {
	cpu := safeRatio(
		labels.EffectiveUsage(pod.PodEffectiveUsageCPUCoreSeconds, pod.PodUsageCPUCoreSeconds, pod.PodRequestCPUCoreSeconds),
		pod.NodeCapacityCPUCoreSeconds)
	mem := safeRatio(
		labels.EffectiveUsage(pod.PodEffectiveUsageMemoryByteSeconds, pod.PodUsageMemoryByteSeconds, pod.PodRequestMemoryByteSeconds),
		pod.NodeCapacityMemoryByteSeconds)

	switch opts.Method {
	case MethodMemory:
		return mem
	case MethodWeighted:
		return opts.CPUWeight*cpu + opts.MemoryWeight*mem
	default:
		return cpu
	}
}

func safeRatio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	r := num / den
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
