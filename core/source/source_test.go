package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestChunkedWindows(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}
	it := NewChunked(rows, 2)
	ctx := context.Background()

	var got [][]int
	for {
		chunk, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, chunk)
	}
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if len(got[0]) != 2 || len(got[1]) != 2 || len(got[2]) != 1 {
		t.Errorf("chunk sizes = %d,%d,%d, want 2,2,1", len(got[0]), len(got[1]), len(got[2]))
	}
	if got[2][0] != 5 {
		t.Errorf("last chunk = %v, want [5]", got[2])
	}
	if err := it.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestChunkedWholeSliceWhenSizeUnset(t *testing.T) {
	it := NewChunked([]int{1, 2, 3}, 0)
	chunk, ok, err := it.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("Next = ok=%v err=%v", ok, err)
	}
	if len(chunk) != 3 {
		t.Errorf("chunk size = %d, want 3", len(chunk))
	}
	if _, ok, _ := it.Next(context.Background()); ok {
		t.Error("expected exhaustion after one chunk")
	}
}

func TestChunkedCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := NewChunked([]int{1}, 1)
	if _, _, err := it.Next(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const podCSV = `interval_start,namespace,node,pod,resource_id,pod_labels,pod_usage_cpu_core_seconds,pod_request_cpu_core_seconds,pod_usage_memory_byte_seconds,pod_request_memory_byte_seconds
2023-05-01T03:00:00Z,web,worker-0,app-1,i-0abc123,"{""app"":""web""}",3600,7200,1073741824,2147483648
not-a-time,web,worker-0,app-2,i-0abc123,,3600,7200,1073741824,2147483648
2023-05-01T04:00:00Z,web,worker-0,app-1,i-0abc123,,bad,7200,1073741824,2147483648
`

func TestReadPodUsage(t *testing.T) {
	path := writeTemp(t, "pods.csv", podCSV)
	rows, err := ReadPodUsage(path)
	if err != nil {
		t.Fatalf("ReadPodUsage: %v", err)
	}
	// the unparseable timestamp drops its row; the bad float zeroes a field
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Namespace != "web" || rows[0].Pod != "app-1" {
		t.Errorf("row 0 = %s/%s", rows[0].Namespace, rows[0].Pod)
	}
	if rows[0].PodUsageCPUCoreSeconds != 3600 {
		t.Errorf("cpu seconds = %v, want 3600", rows[0].PodUsageCPUCoreSeconds)
	}
	if rows[1].PodUsageCPUCoreSeconds != 0 {
		t.Errorf("bad float should zero the field, got %v", rows[1].PodUsageCPUCoreSeconds)
	}
	if rows[0].ResourceID != "i-0abc123" {
		t.Errorf("resource id = %q", rows[0].ResourceID)
	}
}

func TestReadPodUsageMissingColumn(t *testing.T) {
	path := writeTemp(t, "pods.csv", "interval_start,namespace\n2023-05-01T03:00:00Z,web\n")
	if _, err := ReadPodUsage(path); err == nil {
		t.Fatal("expected a schema error for missing columns")
	}
}

func TestPodUsageCSVStreamsInChunks(t *testing.T) {
	path := writeTemp(t, "pods.csv", podCSV)
	it, err := OpenPodUsageCSV(path, 1)
	if err != nil {
		t.Fatalf("OpenPodUsageCSV: %v", err)
	}
	defer it.Close()

	ctx := context.Background()
	total := 0
	chunks := 0
	for {
		chunk, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		chunks++
		total += len(chunk)
	}
	if total != 2 {
		t.Errorf("total rows = %d, want 2", total)
	}
	if chunks != 2 {
		t.Errorf("chunks = %d, want 2", chunks)
	}
}

func TestReadLabelRows(t *testing.T) {
	path := writeTemp(t, "nodes.csv", `interval_start,node,node_labels
2023-05-01T03:00:00Z,worker-0,"{""zone"":""a""}"
2023-05-01T07:00:00Z,worker-1,label_team:payments
`)
	rows, err := ReadLabelRows(path, "node", "node_labels")
	if err != nil {
		t.Fatalf("ReadLabelRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Key != "worker-0" {
		t.Errorf("key = %q", rows[0].Key)
	}
	if rows[0].Date.Hour() != 0 {
		t.Error("label row date should be floored to the day")
	}
}

func TestReadCloudLineItems(t *testing.T) {
	path := writeTemp(t, "cur.csv", `lineitem_resourceid,lineitem_usagestartdate,lineitem_unblendedcost,lineitem_productcode,resourcetags,data_transfer_direction
i-0abc123,2023-05-01T03:00:00Z,1.25,AmazonEC2,"{""openshift_cluster"":""prod""}",IN
vol-99,2023-05-01T03:00:00Z,0.0134,AmazonEC2,,
`)
	items, err := ReadCloudLineItems(path)
	if err != nil {
		t.Fatalf("ReadCloudLineItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Cost.Unblended.String() != "1.25" {
		t.Errorf("unblended = %s, want 1.25", items[0].Cost.Unblended)
	}
	if items[0].DataTransferDirection != "IN" {
		t.Errorf("direction = %q", items[0].DataTransferDirection)
	}
	if items[0].Tags == "" {
		t.Error("tags should carry through")
	}
	if items[1].ResourceID != "vol-99" {
		t.Errorf("resource id = %q", items[1].ResourceID)
	}
}
