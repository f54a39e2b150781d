package aggregate

import (
	"math"
	"testing"
	"time"

	"ocp-cost/core/labels"
	"ocp-cost/core/types"
)

var testMeta = Meta{
	ClusterID:      "cluster-1",
	ClusterAlias:   "prod",
	SourceUUID:     "3c7f",
	ReportPeriodID: 7,
}

func hourly(day time.Time, hours int, build func(hour time.Time) types.PodUsage) []types.PodUsage {
	out := make([]types.PodUsage, 0, hours)
	for h := 0; h < hours; h++ {
		out = append(out, build(day.Add(time.Duration(h)*time.Hour)))
	}
	return out
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9*math.Max(1, math.Abs(want)) {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestPodAggregatorSingleNodeDay(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	const gb = float64(1 << 30)

	// 24 hourly rows of one pod at a constant 0.5 CPU and 1 GB request.
	rows := hourly(day, 24, func(hour time.Time) types.PodUsage {
		return types.PodUsage{
			IntervalStart:               hour,
			Namespace:                   "apps",
			Node:                        "worker-0",
			Pod:                         "web-0",
			ResourceID:                  "i-abc",
			PodLabels:                   `{"app":"web"}`,
			PodRequestCPUCoreSeconds:    0.5 * 3600,
			PodUsageCPUCoreSeconds:      0.25 * 3600,
			PodRequestMemoryByteSeconds: gb * 3600,
			PodUsageMemoryByteSeconds:   gb * 3600 / 2,
			NodeCapacityCPUCoreSeconds:  4 * 3600,
			NodeCapacityMemoryBytes:     8 * gb,
		}
	})

	agg, err := NewPodAggregator(map[string]struct{}{"app": {}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPodAggregator: %v", err)
	}
	agg.Add(rows)
	got := agg.Emit(testMeta)

	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	r := got[0]
	if r.DataSource != types.DataSourcePod || r.Pod == nil {
		t.Fatalf("row is not a Pod row: %+v", r)
	}
	approx(t, "request cpu core hours", r.Pod.PodRequestCPUCoreHours, 12.0)
	approx(t, "request memory gb hours", r.Pod.PodRequestMemoryGigabyteHours, 24.0)
	approx(t, "usage cpu core hours", r.Pod.PodUsageCPUCoreHours, 6.0)
	// effective = greatest(usage, request) per hour when absent
	approx(t, "effective cpu core hours", r.Pod.PodEffectiveUsageCPUCoreHours, 12.0)
	if r.Namespace != "apps" || r.Node != "worker-0" || r.ResourceID != "i-abc" {
		t.Errorf("row identity: %+v", r)
	}
	if !r.UsageStart.Equal(day) || !r.UsageEnd.Equal(day) {
		t.Errorf("usage window: %v .. %v", r.UsageStart, r.UsageEnd)
	}
	if r.PodLabels != `{"app":"web"}` || r.AllLabels != r.PodLabels || r.VolumeLabels != "{}" {
		t.Errorf("labels: pod=%q all=%q volume=%q", r.PodLabels, r.AllLabels, r.VolumeLabels)
	}
	if r.ClusterID != "cluster-1" || r.ReportPeriodID != 7 {
		t.Errorf("meta not stamped: %+v", r)
	}
}

func TestPodAggregatorLabelPrecedenceAndGrouping(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	enabled := map[string]struct{}{"env": {}, "team": {}, "zone": {}}

	nodeLabels := []types.LabelRow{{Date: day, Key: "worker-0", Labels: `{"zone":"a","env":"node"}`}}
	nsLabels := []types.LabelRow{{Date: day, Key: "apps", Labels: `{"env":"ns","team":"payments"}`}}

	agg, err := NewPodAggregator(enabled, nodeLabels, nsLabels, nil)
	if err != nil {
		t.Fatalf("NewPodAggregator: %v", err)
	}
	agg.Add([]types.PodUsage{
		{IntervalStart: day, Namespace: "apps", Node: "worker-0", Pod: "a",
			PodLabels: `{"env":"pod"}`, PodUsageCPUCoreSeconds: 100},
		{IntervalStart: day, Namespace: "apps", Node: "worker-0", Pod: "b",
			PodLabels: `{"env":"pod"}`, PodUsageCPUCoreSeconds: 50},
		// different merged labels: separate group
		{IntervalStart: day, Namespace: "apps", Node: "worker-0", Pod: "c",
			PodLabels: `{"env":"other"}`, PodUsageCPUCoreSeconds: 25},
		// empty node: dropped
		{IntervalStart: day, Namespace: "apps", Node: "", Pod: "d",
			PodUsageCPUCoreSeconds: 999},
	})
	got := agg.Emit(testMeta)

	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	// pod wins over namespace over node; node zone survives, ns team survives
	want := `{"env":"pod","team":"payments","zone":"a"}`
	if got[1].PodLabels != want {
		t.Errorf("pod labels = %q, want %q", got[1].PodLabels, want)
	}
	approx(t, "merged group cpu seconds", got[1].Pod.PodUsageCPUCoreHours*3600, 150)
}

func TestCapacityTwoLevelAggregation(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	c := NewCapacityCalculator()
	// duplicate rows within one interval take MAX, intervals then SUM
	c.Add([]types.PodUsage{
		{IntervalStart: day, Node: "n1", NodeCapacityCPUCoreSeconds: 3600, NodeCapacityMemoryByteSeconds: 100},
		{IntervalStart: day, Node: "n1", NodeCapacityCPUCoreSeconds: 3600, NodeCapacityMemoryByteSeconds: 100},
		{IntervalStart: day.Add(time.Hour), Node: "n1", NodeCapacityCPUCoreSeconds: 3600, NodeCapacityMemoryByteSeconds: 100},
		{IntervalStart: day, Node: "n2", NodeCapacityCPUCoreSeconds: 7200, NodeCapacityMemoryByteSeconds: 200},
	})
	got := c.Result()

	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	byNode := map[string]types.NodeCapacity{}
	for _, r := range got {
		byNode[r.Node] = r
	}
	approx(t, "n1 cpu core seconds", byNode["n1"].CapacityCPUCoreSeconds, 7200)
	approx(t, "n2 cpu core seconds", byNode["n2"].CapacityCPUCoreSeconds, 7200)
	// cluster capacity broadcast onto every node row
	approx(t, "n1 cluster cpu", byNode["n1"].ClusterCapacityCPUCoreSeconds, 14400)
	approx(t, "n2 cluster cpu", byNode["n2"].ClusterCapacityCPUCoreSeconds, 14400)
	approx(t, "n1 cpu core hours", byNode["n1"].CapacityCPUCoreHours, 2)
}

func TestStorageAggregatorSharedVolume(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	// One PV mounted by three pods on three nodes, each reporting 3000
	// byte-seconds of volume request.
	var storage []types.StorageUsage
	var pods []types.PodUsage
	for _, n := range []string{"n1", "n2", "n3"} {
		pod := "pod-" + n
		storage = append(storage, types.StorageUsage{
			IntervalStart:                   day,
			Namespace:                       "apps",
			Pod:                             pod,
			PersistentVolumeClaim:           "shared-claim",
			PersistentVolume:                "pv-shared",
			StorageClass:                    "gp2",
			VolumeRequestStorageByteSeconds: 3000,
		})
		pods = append(pods, types.PodUsage{
			IntervalStart: day, Namespace: "apps", Pod: pod, Node: n, ResourceID: "i-" + n,
		})
	}

	agg, err := NewStorageAggregator(map[string]struct{}{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewStorageAggregator: %v", err)
	}
	got := agg.Aggregate(storage, BuildPodIndex(pods), testMeta)

	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	monthly := float64(86400*types.DaysInMonth(day)) * float64(1<<30)
	var total float64
	for _, r := range got {
		if r.DataSource != types.DataSourceStorage || r.Storage == nil {
			t.Fatalf("row is not a Storage row: %+v", r)
		}
		// each node's share is sum/3 = 1000 byte-seconds pre-conversion
		approx(t, "per-node request byte seconds",
			r.Storage.VolumeRequestStorageGigabyteMonths*monthly, 1000)
		total += r.Storage.VolumeRequestStorageGigabyteMonths * monthly
	}
	approx(t, "total request byte seconds", total, 3000)
}

func TestStorageAggregatorUnmatchedPod(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	storage := []types.StorageUsage{{
		IntervalStart:         day,
		Namespace:             "apps",
		Pod:                   "orphan",
		PersistentVolumeClaim: "claim-1",
		PersistentVolume:      "pv-1",
		CSIVolumeHandle:       "vol-123",
		PVCLabels:             `{"tier":"gold"}`,

		PersistentVolumeClaimCapacityBytes: 10 * float64(1 << 30),
	}}

	agg, err := NewStorageAggregator(map[string]struct{}{"tier": {}}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewStorageAggregator: %v", err)
	}
	got := agg.Aggregate(storage, PodIndex{}, testMeta)

	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	r := got[0]
	// unmatched rows emit with empty node and resource id, never dropped
	if r.Node != "" || r.ResourceID != "" {
		t.Errorf("unmatched row carries node %q resource %q", r.Node, r.ResourceID)
	}
	if r.CSIVolumeHandle != "vol-123" {
		t.Errorf("csi handle = %q", r.CSIVolumeHandle)
	}
	approx(t, "capacity gb", r.Storage.PersistentVolumeClaimCapacityGigabyte, 10)
	if r.VolumeLabels != `{"tier":"gold"}` {
		t.Errorf("volume labels = %q", r.VolumeLabels)
	}
}

func TestStorageVolumeLabelPrecedence(t *testing.T) {
	set := labels.Merge(
		labels.Parse(`{"tier":"pv","shared":"pv"}`, "test"),
		labels.Parse(`{"tier":"pvc"}`, "test"),
	)
	if set["tier"] != "pvc" || set["shared"] != "pv" {
		t.Errorf("pvc should win over pv: %v", set)
	}
}

func TestUnallocatedMasterNode(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	summary := []types.SummaryRow{
		podSummary(day, "apps", "master-0", "i-m0", 2.0, 24.0),
		podSummary(day, "batch", "master-0", "i-m0", 1.0, 24.0),
		// synthetic rows never feed a subsequent unallocated pass
		{
			Namespace: "Worker unallocated", Synthetic: types.WorkerUnallocated,
			Node: "master-0", UsageStart: day, DataSource: types.DataSourcePod,
			Pod: &types.PodMetrics{PodUsageCPUCoreHours: 99},
		},
	}
	calc := NewUnallocatedCalculator([]types.NodeRoleRow{
		{Node: "master-0", ResourceID: "i-m0", Role: types.RoleMaster},
	})
	got := calc.Calculate(summary, testMeta)

	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	r := got[0]
	if r.Namespace != "Platform unallocated" || r.Synthetic != types.PlatformUnallocated {
		t.Errorf("namespace = %q synthetic = %v", r.Namespace, r.Synthetic)
	}
	approx(t, "unallocated cpu core hours", r.Pod.PodUsageCPUCoreHours, 21.0)
	if r.PodLabels != "{}" || r.VolumeLabels != "{}" || r.AllLabels != "{}" {
		t.Errorf("synthetic labels must be empty: %+v", r)
	}
}

func TestUnallocatedWorkerAndRoleTieBreak(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)

	summary := []types.SummaryRow{
		podSummary(day, "apps", "node-0", "i-n0", 30.0, 24.0),
	}
	// duplicate roles collapse to the alphabetically greatest: worker
	calc := NewUnallocatedCalculator([]types.NodeRoleRow{
		{Node: "node-0", ResourceID: "i-n0", Role: types.RoleInfra},
		{Node: "node-0", ResourceID: "i-n0", Role: types.RoleWorker},
	})
	got := calc.Calculate(summary, testMeta)

	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Synthetic != types.WorkerUnallocated {
		t.Errorf("synthetic = %v, want worker unallocated", got[0].Synthetic)
	}
	// over-provisioned usage preserves the negative value
	approx(t, "negative unallocated", got[0].Pod.PodUsageCPUCoreHours, -6.0)
}

func TestUnallocatedDropsUnknownRole(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	summary := []types.SummaryRow{
		podSummary(day, "apps", "mystery-node", "i-x", 1.0, 24.0),
	}
	calc := NewUnallocatedCalculator(nil)
	if got := calc.Calculate(summary, testMeta); len(got) != 0 {
		t.Fatalf("got %d rows, want 0", len(got))
	}
}

func podSummary(day time.Time, namespace, node, resourceID string, usageCPUHours, capCPUHours float64) types.SummaryRow {
	return types.SummaryRow{
		UsageStart: day,
		UsageEnd:   day,
		Namespace:  namespace,
		Node:       node,
		ResourceID: resourceID,
		DataSource: types.DataSourcePod,
		Pod: &types.PodMetrics{
			PodUsageCPUCoreHours:     usageCPUHours,
			NodeCapacityCPUCoreHours: capCPUHours,
		},
	}
}
