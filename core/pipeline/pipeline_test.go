package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ocp-cost/core/aggregate"
	"ocp-cost/core/executor"
	"ocp-cost/core/types"
	"ocp-cost/internal/config"
	"ocp-cost/internal/errors"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.OCP.ClusterID = "cluster-1"
	cfg.OCP.ClusterAlias = "prod"
	cfg.OCP.ProviderUUID = "ocp-uuid"
	cfg.OCP.ReportPeriodID = 3
	cfg.AWS.ProviderUUID = "aws-uuid"
	cfg.AWS.CostEntryBillID = 11
	cfg.Performance.ChunkSize = 2
	return cfg
}

func hourlyPods(day time.Time, node, resourceID string) []types.PodUsage {
	var out []types.PodUsage
	for h := 0; h < 24; h++ {
		out = append(out, types.PodUsage{
			IntervalStart:               day.Add(time.Duration(h) * time.Hour),
			Namespace:                   "apps",
			Node:                        node,
			Pod:                         "web-0",
			ResourceID:                  resourceID,
			PodLabels:                   `{"app":"web"}`,
			PodUsageCPUCoreSeconds:      0.5 * 3600,
			PodRequestCPUCoreSeconds:    0.5 * 3600,
			NodeCapacityCPUCoreSeconds:  4 * 3600,
			NodeCapacityMemoryBytes:     8 << 30,
			NodeCapacityCPUCores:        4,
			PodUsageMemoryByteSeconds:   float64(1<<30) * 3600,
			PodRequestMemoryByteSeconds: float64(1<<30) * 3600,
		})
	}
	return out
}

func TestRunOCPSummaryEndToEnd(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()

	pods := hourlyPods(day, "worker-0", "i-abc")
	in := InMemoryOCPInputs(pods, OCPInputs{
		Storage: []types.StorageUsage{{
			IntervalStart:                   day,
			Namespace:                       "apps",
			Pod:                             "web-0",
			PersistentVolumeClaim:           "claim-1",
			PersistentVolume:                "pv-1",
			VolumeRequestStorageByteSeconds: 3000,
		}},
		NodeRoles:      []types.NodeRoleRow{{Node: "worker-0", ResourceID: "i-abc", Role: types.RoleWorker}},
		EnabledTagKeys: []string{"app"},
	}, cfg.Performance.ChunkSize)

	got, err := RunOCPSummary(context.Background(), in, cfg)
	if err != nil {
		t.Fatalf("RunOCPSummary: %v", err)
	}

	var pod, storage, unallocated *types.SummaryRow
	for i := range got {
		switch {
		case got[i].DataSource == types.DataSourceStorage:
			storage = &got[i]
		case got[i].Synthetic == types.WorkerUnallocated:
			unallocated = &got[i]
		case got[i].DataSource == types.DataSourcePod:
			pod = &got[i]
		}
	}
	if pod == nil || storage == nil || unallocated == nil {
		t.Fatalf("missing row families in %d rows", len(got))
	}

	if math.Abs(pod.Pod.PodUsageCPUCoreHours-12.0) > 1e-9 {
		t.Errorf("pod usage cpu hours = %v, want 12", pod.Pod.PodUsageCPUCoreHours)
	}
	if math.Abs(pod.Pod.NodeCapacityCPUCoreHours-96.0) > 1e-9 {
		t.Errorf("node capacity cpu hours = %v, want 96", pod.Pod.NodeCapacityCPUCoreHours)
	}
	if math.Abs(pod.Pod.ClusterCapacityCPUCoreHours-96.0) > 1e-9 {
		t.Errorf("cluster capacity cpu hours = %v, want 96", pod.Pod.ClusterCapacityCPUCoreHours)
	}
	if math.Abs(unallocated.Pod.PodUsageCPUCoreHours-84.0) > 1e-9 {
		t.Errorf("unallocated cpu hours = %v, want 84", unallocated.Pod.PodUsageCPUCoreHours)
	}
	if storage.Node != "worker-0" {
		t.Errorf("storage row node = %q, want worker-0 via pod join", storage.Node)
	}

	for _, r := range got {
		if r.ClusterID != "cluster-1" || r.ReportPeriodID != 3 {
			t.Errorf("meta not stamped: %+v", r)
		}
		if !r.UsageStart.Equal(day) {
			t.Errorf("usage start not date-floored: %v", r.UsageStart)
		}
		if h, m, s := r.UsageStart.Clock(); h+m+s != 0 {
			t.Errorf("usage start carries time of day: %v", r.UsageStart)
		}
	}
}

func TestRunOCPSummaryUnknownMethod(t *testing.T) {
	cfg := testConfig()
	cfg.Cost.Distribution.Method = "coinflip"
	in := InMemoryOCPInputs(nil, OCPInputs{}, 10)
	if _, err := RunOCPSummary(context.Background(), in, cfg); !errors.IsType(err, errors.TypeConfig) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestRunAWSAttributionInMemory(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()

	pods := hourlyPods(day, "worker-0", "i-abc")
	cloud := []types.CloudLineItem{
		{
			ResourceID: "arn:/i-abc", UsageStart: day,
			UsageType: "BoxUsage:m5.large", InstanceType: "m5.large",
			Cost: types.CostFlavors{Unblended: decimal.NewFromInt(10)},
		},
		{
			ResourceID: "arn:/i-abc", UsageStart: day,
			UsageType: "DataTransfer-Out-Bytes", DataTransferDirection: types.TransferOut,
			Cost: types.CostFlavors{Unblended: decimal.NewFromInt(2)},
		},
	}
	in := InMemoryAWSInputs(pods, AWSInputs{Cloud: cloud}, cfg.Performance.ChunkSize)

	got, err := RunAWSAttribution(context.Background(), in, cfg)
	if err != nil {
		t.Fatalf("RunAWSAttribution: %v", err)
	}

	var computeCost decimal.Decimal
	var network *types.AttributedRow
	for i := range got {
		if got[i].Synthetic == types.NetworkUnattributed {
			network = &got[i]
			continue
		}
		computeCost = computeCost.Add(got[i].Cost.Unblended)
	}
	if network == nil {
		t.Fatal("missing network unattributed row")
	}
	if !network.Cost.Unblended.Equal(decimal.NewFromInt(2)) {
		t.Errorf("network cost = %s, want 2", network.Cost.Unblended)
	}
	if network.Node != "worker-0" {
		t.Errorf("network node = %q", network.Node)
	}

	// one pod at 12.5% cpu of the node for the matched hour
	cc, _ := computeCost.Float64()
	if math.Abs(cc-1.25) > 1e-9 {
		t.Errorf("compute cost = %v, want 1.25", cc)
	}

	for _, r := range got {
		if r.CostEntryBillID != 11 {
			t.Errorf("bill id not stamped: %+v", r)
		}
		if r.Tags == "" || r.PodLabels == "" || r.CostCategory == "" {
			t.Errorf("JSON columns must never be empty strings: %+v", r)
		}
	}
}

type memSink struct {
	begun      bool
	committed  bool
	rolledBack bool
	rows       []types.AttributedRow
	failWrite  bool
}

func (s *memSink) Begin(context.Context) error { s.begun = true; return nil }
func (s *memSink) Write(_ context.Context, rows []types.AttributedRow) error {
	if s.failWrite {
		return errors.Sink("boom", nil)
	}
	s.rows = append(s.rows, rows...)
	return nil
}
func (s *memSink) Commit() error   { s.committed = true; return nil }
func (s *memSink) Rollback() error { s.rolledBack = true; return nil }

func TestRunAWSAttributionIncremental(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()

	pods := hourlyPods(day, "worker-0", "i-abc")
	cloud := []types.CloudLineItem{{
		ResourceID: "arn:/i-abc", UsageStart: day,
		UsageType: "BoxUsage:m5.large",
		Cost:      types.CostFlavors{Unblended: decimal.NewFromInt(10)},
	}}

	sink := &memSink{}
	in := InMemoryAWSInputs(pods, AWSInputs{Cloud: cloud}, cfg.Performance.ChunkSize)
	if err := RunAWSAttributionIncremental(context.Background(), in, cfg, sink); err != nil {
		t.Fatalf("RunAWSAttributionIncremental: %v", err)
	}
	if !sink.begun || !sink.committed || sink.rolledBack {
		t.Errorf("sink lifecycle: %+v", sink)
	}
	if len(sink.rows) == 0 {
		t.Error("no rows written")
	}
}

func TestRunAWSAttributionIncrementalRollsBack(t *testing.T) {
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()

	pods := hourlyPods(day, "worker-0", "i-abc")
	cloud := []types.CloudLineItem{{
		ResourceID: "arn:/i-abc", UsageStart: day,
		Cost: types.CostFlavors{Unblended: decimal.NewFromInt(10)},
	}}

	sink := &memSink{failWrite: true}
	in := InMemoryAWSInputs(pods, AWSInputs{Cloud: cloud}, cfg.Performance.ChunkSize)
	if err := RunAWSAttributionIncremental(context.Background(), in, cfg, sink); err == nil {
		t.Fatal("expected sink error")
	}
	if sink.committed || !sink.rolledBack {
		t.Errorf("sink lifecycle after failure: %+v", sink)
	}
}

func TestRunAWSAttributionIncrementalRejectsParallel(t *testing.T) {
	cfg := testConfig()
	cfg.Performance.ParallelChunks = true
	in := InMemoryAWSInputs(nil, AWSInputs{}, 10)
	err := RunAWSAttributionIncremental(context.Background(), in, cfg, &memSink{})
	if !errors.IsType(err, errors.TypeNotSupported) {
		t.Fatalf("err = %v, want not-supported", err)
	}
}

func TestFormatSummary(t *testing.T) {
	day := time.Date(2023, 6, 10, 14, 30, 0, 0, time.UTC)
	meta := aggregate.Meta{ClusterID: "c", ClusterAlias: "a", SourceUUID: "s", ReportPeriodID: 9}

	rows := FormatSummary([]types.SummaryRow{
		{UsageStart: day, UsageEnd: day, Synthetic: types.PlatformUnallocated,
			PodLabels: "not json", VolumeLabels: "", AllLabels: `{"k":"v"}`},
	}, meta)

	r := rows[0]
	if r.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("id not generated")
	}
	if r.Namespace != "Platform unallocated" {
		t.Errorf("namespace = %q", r.Namespace)
	}
	if r.ClusterID != "c" || r.ReportPeriodID != 9 {
		t.Errorf("meta not stamped: %+v", r)
	}
	if !r.UsageStart.Equal(time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("usage start = %v", r.UsageStart)
	}
	if r.PodLabels != "{}" || r.VolumeLabels != "{}" || r.AllLabels != `{"k":"v"}` {
		t.Errorf("labels = %q %q %q", r.PodLabels, r.VolumeLabels, r.AllLabels)
	}
}

// streamTracker asserts the pod iterator is consumed exactly once.
type streamTracker struct {
	inner  executor.Iterator[[]types.PodUsage]
	closed int
}

func (s *streamTracker) Next(ctx context.Context) ([]types.PodUsage, bool, error) {
	return s.inner.Next(ctx)
}
func (s *streamTracker) Close() error {
	s.closed++
	return s.inner.Close()
}

func TestRunOCPSummaryClosesSource(t *testing.T) {
	cfg := testConfig()
	day := time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC)
	wrapped := InMemoryOCPInputs(hourlyPods(day, "n", "i"), OCPInputs{}, 5)
	tracker := &streamTracker{inner: wrapped.Pods}
	wrapped.Pods = tracker

	if _, err := RunOCPSummary(context.Background(), wrapped, cfg); err != nil {
		t.Fatalf("RunOCPSummary: %v", err)
	}
	if tracker.closed != 1 {
		t.Errorf("source closed %d times, want 1", tracker.closed)
	}
}
