// Package aggregate - unallocated capacity calculator
package aggregate

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocp-cost/core/types"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

type nodeResourceKey struct {
	node       string
	resourceID string
}

type unallocatedAcc struct {
	usageCPUHours     float64
	requestCPUHours   float64
	effectiveCPUHours float64

	usageMemGBHours     float64
	requestMemGBHours   float64
	effectiveMemGBHours float64

	// MAX within the group
	nodeCapCPUCores      float64
	nodeCapCPUHours      float64
	nodeCapMemGB         float64
	nodeCapMemGBHours    float64
	clusterCapCPUHours   float64
	clusterCapMemGBHours float64
	resourceID           string
}

// UnallocatedCalculator derives per-node (capacity - usage) rows booked to
// the "Platform unallocated" / "Worker unallocated" synthetic namespaces.
type UnallocatedCalculator struct {
	roles map[nodeResourceKey]types.NodeRole
}

// NewUnallocatedCalculator aggregates node roles by (node, resource-id),
// keeping the alphabetically greatest role on duplicates.
func NewUnallocatedCalculator(roles []types.NodeRoleRow) *UnallocatedCalculator {
	byNode := map[nodeResourceKey]types.NodeRole{}
	for _, r := range roles {
		key := nodeResourceKey{node: r.Node, resourceID: r.ResourceID}
		if existing, ok := byNode[key]; !ok || r.Role > existing {
			byNode[key] = r.Role
		}
	}
	return &UnallocatedCalculator{roles: byNode}
}

// Calculate computes unallocated rows from an already-aggregated daily
// summary. Synthetic namespaces, Storage rows, and rows without a node are
// excluded up front so unallocated output is never re-aggregated on a
// subsequent pass. Negative unallocated values are preserved: they mean
// over-provisioned workloads, reported once.
func (u *UnallocatedCalculator) Calculate(summary []types.SummaryRow, meta Meta) []types.SummaryRow {
	type nodeDayKey struct {
		node string
		day  time.Time
	}
	groups := map[nodeDayKey]*unallocatedAcc{}

	for i := range summary {
		r := &summary[i]
		if types.IsSyntheticNamespace(r.Namespace) || r.Synthetic != types.SyntheticNone {
			continue
		}
		if r.DataSource != types.DataSourcePod || r.Pod == nil || r.Node == "" {
			continue
		}

		key := nodeDayKey{node: r.Node, day: r.UsageStart}
		acc, ok := groups[key]
		if !ok {
			acc = &unallocatedAcc{}
			groups[key] = acc
		}

		acc.usageCPUHours += r.Pod.PodUsageCPUCoreHours
		acc.requestCPUHours += r.Pod.PodRequestCPUCoreHours
		acc.effectiveCPUHours += r.Pod.PodEffectiveUsageCPUCoreHours
		acc.usageMemGBHours += r.Pod.PodUsageMemoryGigabyteHours
		acc.requestMemGBHours += r.Pod.PodRequestMemoryGigabyteHours
		acc.effectiveMemGBHours += r.Pod.PodEffectiveUsageMemoryGigabyteHours

		if r.Pod.NodeCapacityCPUCores > acc.nodeCapCPUCores {
			acc.nodeCapCPUCores = r.Pod.NodeCapacityCPUCores
		}
		if r.Pod.NodeCapacityCPUCoreHours > acc.nodeCapCPUHours {
			acc.nodeCapCPUHours = r.Pod.NodeCapacityCPUCoreHours
		}
		if r.Pod.NodeCapacityMemoryGigabytes > acc.nodeCapMemGB {
			acc.nodeCapMemGB = r.Pod.NodeCapacityMemoryGigabytes
		}
		if r.Pod.NodeCapacityMemoryGigabyteHours > acc.nodeCapMemGBHours {
			acc.nodeCapMemGBHours = r.Pod.NodeCapacityMemoryGigabyteHours
		}
		if r.Pod.ClusterCapacityCPUCoreHours > acc.clusterCapCPUHours {
			acc.clusterCapCPUHours = r.Pod.ClusterCapacityCPUCoreHours
		}
		if r.Pod.ClusterCapacityMemoryGigabyteHours > acc.clusterCapMemGBHours {
			acc.clusterCapMemGBHours = r.Pod.ClusterCapacityMemoryGigabyteHours
		}
		if r.ResourceID > acc.resourceID {
			acc.resourceID = r.ResourceID
		}
	}

	keys := make([]nodeDayKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].day.Equal(keys[j].day) {
			return keys[i].day.Before(keys[j].day)
		}
		return keys[i].node < keys[j].node
	})

	negatives := 0
	droppedNoRole := 0
	out := make([]types.SummaryRow, 0, len(keys))
	for _, key := range keys {
		acc := groups[key]

		role, ok := u.roles[nodeResourceKey{node: key.node, resourceID: acc.resourceID}]
		if !ok {
			droppedNoRole++
			metrics.JoinMisses.WithLabelValues("unallocated_role").Inc()
			continue
		}

		synthetic := types.WorkerUnallocated
		if role == types.RoleMaster || role == types.RoleInfra {
			synthetic = types.PlatformUnallocated
		}

		pm := &types.PodMetrics{
			PodUsageCPUCoreHours:          acc.nodeCapCPUHours - acc.usageCPUHours,
			PodRequestCPUCoreHours:        acc.nodeCapCPUHours - acc.requestCPUHours,
			PodEffectiveUsageCPUCoreHours: acc.nodeCapCPUHours - acc.effectiveCPUHours,

			PodUsageMemoryGigabyteHours:          acc.nodeCapMemGBHours - acc.usageMemGBHours,
			PodRequestMemoryGigabyteHours:        acc.nodeCapMemGBHours - acc.requestMemGBHours,
			PodEffectiveUsageMemoryGigabyteHours: acc.nodeCapMemGBHours - acc.effectiveMemGBHours,

			NodeCapacityCPUCores:            acc.nodeCapCPUCores,
			NodeCapacityCPUCoreHours:        acc.nodeCapCPUHours,
			NodeCapacityMemoryGigabytes:     acc.nodeCapMemGB,
			NodeCapacityMemoryGigabyteHours: acc.nodeCapMemGBHours,

			ClusterCapacityCPUCoreHours:        acc.clusterCapCPUHours,
			ClusterCapacityMemoryGigabyteHours: acc.clusterCapMemGBHours,
		}
		if pm.PodUsageCPUCoreHours < 0 || pm.PodRequestCPUCoreHours < 0 ||
			pm.PodUsageMemoryGigabyteHours < 0 || pm.PodRequestMemoryGigabyteHours < 0 {
			negatives++
		}

		out = append(out, types.SummaryRow{
			ID:             uuid.New(),
			ReportPeriodID: meta.ReportPeriodID,
			ClusterID:      meta.ClusterID,
			ClusterAlias:   meta.ClusterAlias,
			SourceUUID:     meta.SourceUUID,
			UsageStart:     key.day,
			UsageEnd:       key.day,
			Namespace:      synthetic.String(),
			Synthetic:      synthetic,
			Node:           key.node,
			ResourceID:     acc.resourceID,
			DataSource:     types.DataSourcePod,
			Pod:            pm,
			PodLabels:      "{}",
			VolumeLabels:   "{}",
			AllLabels:      "{}",
		})
	}

	if droppedNoRole > 0 {
		logging.Info("nodes without a known role skipped for unallocated",
			zap.Int("nodes", droppedNoRole))
	}
	if negatives > 0 {
		logging.Warn("negative unallocated capacity preserved",
			zap.Int("nodeDays", negatives))
	}
	metrics.RowsEmitted.WithLabelValues("unallocated").Add(float64(len(out)))
	return out
}
