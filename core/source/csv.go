package source

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// header maps column names to positions. Missing required columns are fatal
// at the start of the phase; per-row parse failures are counted and skipped.
type header map[string]int

func readHeader(r *csv.Reader, required []string, phase string) (header, error) {
	record, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(errors.TypeSchema, "reading "+phase+" header", err)
	}
	h := header{}
	for i, name := range record {
		h[name] = i
	}
	for _, name := range required {
		if _, ok := h[name]; !ok {
			return nil, errors.Schema(phase, name)
		}
	}
	return h, nil
}

func (h header) str(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func (h header) float(record []string, name string, failures *int) float64 {
	s := h.str(record, name)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*failures++
		return 0
	}
	return v
}

func (h header) floatPtr(record []string, name string, failures *int) *float64 {
	s := h.str(record, name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*failures++
		return nil
	}
	return &v
}

func (h header) decimal(record []string, name string, failures *int) decimal.Decimal {
	s := h.str(record, name)
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		*failures++
		return decimal.Zero
	}
	return v
}

func warnFailures(phase string, failures int) {
	if failures > 0 {
		metrics.ParseFailures.WithLabelValues(phase).Add(float64(failures))
		logging.Warn("rows with parse failures",
			zap.String("phase", phase),
			zap.Int("rows", failures))
	}
}

var podUsageColumns = []string{
	"interval_start", "namespace", "node", "pod",
	"pod_usage_cpu_core_seconds", "pod_request_cpu_core_seconds",
	"pod_usage_memory_byte_seconds", "pod_request_memory_byte_seconds",
}

func podUsageFromRecord(h header, record []string, failures *int) (types.PodUsage, bool) {
	ts, err := types.ParseUsageTime(h.str(record, "interval_start"))
	if err != nil {
		*failures++
		return types.PodUsage{}, false
	}
	return types.PodUsage{
		IntervalStart: ts,
		Namespace:     h.str(record, "namespace"),
		Node:          h.str(record, "node"),
		Pod:           h.str(record, "pod"),
		ResourceID:    h.str(record, "resource_id"),
		PodLabels:     h.str(record, "pod_labels"),

		PodUsageCPUCoreSeconds:          h.float(record, "pod_usage_cpu_core_seconds", failures),
		PodRequestCPUCoreSeconds:        h.float(record, "pod_request_cpu_core_seconds", failures),
		PodLimitCPUCoreSeconds:          h.float(record, "pod_limit_cpu_core_seconds", failures),
		PodEffectiveUsageCPUCoreSeconds: h.floatPtr(record, "pod_effective_usage_cpu_core_seconds", failures),

		PodUsageMemoryByteSeconds:          h.float(record, "pod_usage_memory_byte_seconds", failures),
		PodRequestMemoryByteSeconds:        h.float(record, "pod_request_memory_byte_seconds", failures),
		PodLimitMemoryByteSeconds:          h.float(record, "pod_limit_memory_byte_seconds", failures),
		PodEffectiveUsageMemoryByteSeconds: h.floatPtr(record, "pod_effective_usage_memory_byte_seconds", failures),

		NodeCapacityCPUCores:          h.float(record, "node_capacity_cpu_cores", failures),
		NodeCapacityCPUCoreSeconds:    h.float(record, "node_capacity_cpu_core_seconds", failures),
		NodeCapacityMemoryBytes:       h.float(record, "node_capacity_memory_bytes", failures),
		NodeCapacityMemoryByteSeconds: h.float(record, "node_capacity_memory_byte_seconds", failures),
	}, true
}

// ReadPodUsage loads a pod-usage CSV fully into memory.
func ReadPodUsage(path string) ([]types.PodUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeSchema, "opening pod usage file", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	h, err := readHeader(r, podUsageColumns, "pod_usage")
	if err != nil {
		return nil, err
	}

	var out []types.PodUsage
	failures := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Parse("reading pod usage row", err)
		}
		row, ok := podUsageFromRecord(h, record, &failures)
		if !ok {
			continue
		}
		out = append(out, row)
	}
	warnFailures("pod_usage", failures)
	return out, nil
}

// PodUsageCSV streams a pod-usage CSV in chunks without materializing the
// file, satisfying the executor's iterator contract. Not restartable.
type PodUsageCSV struct {
	f         *os.File
	r         *csv.Reader
	h         header
	chunkSize int
	failures  int
	done      bool
}

// OpenPodUsageCSV opens the file and validates the header.
func OpenPodUsageCSV(path string, chunkSize int) (*PodUsageCSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeSchema, "opening pod usage file", err)
	}
	r := csv.NewReader(f)
	h, err := readHeader(r, podUsageColumns, "pod_usage")
	if err != nil {
		f.Close()
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = 50000
	}
	return &PodUsageCSV{f: f, r: r, h: h, chunkSize: chunkSize}, nil
}

// Next reads up to chunkSize rows.
func (p *PodUsageCSV) Next(ctx context.Context) ([]types.PodUsage, bool, error) {
	if p.done {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	chunk := make([]types.PodUsage, 0, p.chunkSize)
	for len(chunk) < p.chunkSize {
		record, err := p.r.Read()
		if err == io.EOF {
			p.done = true
			break
		}
		if err != nil {
			return nil, false, errors.Parse("reading pod usage row", err)
		}
		row, ok := podUsageFromRecord(p.h, record, &p.failures)
		if !ok {
			continue
		}
		chunk = append(chunk, row)
	}
	if len(chunk) == 0 {
		return nil, false, nil
	}
	return chunk, true, nil
}

// Close closes the file and reports accumulated parse failures.
func (p *PodUsageCSV) Close() error {
	warnFailures("pod_usage", p.failures)
	p.failures = 0
	return p.f.Close()
}

// ReadStorageUsage loads a storage-usage CSV.
func ReadStorageUsage(path string) ([]types.StorageUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeSchema, "opening storage usage file", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	h, err := readHeader(r, []string{
		"interval_start", "namespace", "pod",
		"persistentvolumeclaim", "persistentvolume",
	}, "storage_usage")
	if err != nil {
		return nil, err
	}

	var out []types.StorageUsage
	failures := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Parse("reading storage usage row", err)
		}
		ts, terr := types.ParseUsageTime(h.str(record, "interval_start"))
		if terr != nil {
			failures++
			continue
		}
		out = append(out, types.StorageUsage{
			IntervalStart:         ts,
			Namespace:             h.str(record, "namespace"),
			Pod:                   h.str(record, "pod"),
			PersistentVolumeClaim: h.str(record, "persistentvolumeclaim"),
			PersistentVolume:      h.str(record, "persistentvolume"),
			StorageClass:          h.str(record, "storageclass"),
			CSIVolumeHandle:       h.str(record, "csi_volume_handle"),
			PVLabels:              h.str(record, "persistentvolume_labels"),
			PVCLabels:             h.str(record, "persistentvolumeclaim_labels"),

			PersistentVolumeClaimCapacityBytes:       h.float(record, "persistentvolumeclaim_capacity_bytes", &failures),
			PersistentVolumeClaimCapacityByteSeconds: h.float(record, "persistentvolumeclaim_capacity_byte_seconds", &failures),
			VolumeRequestStorageByteSeconds:          h.float(record, "volume_request_storage_byte_seconds", &failures),
			PersistentVolumeClaimUsageByteSeconds:    h.float(record, "persistentvolumeclaim_usage_byte_seconds", &failures),
		})
	}
	warnFailures("storage_usage", failures)
	return out, nil
}

// ReadLabelRows loads a label CSV keyed by keyColumn (node or namespace).
func ReadLabelRows(path, keyColumn, labelColumn string) ([]types.LabelRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeSchema, "opening label file", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	h, err := readHeader(r, []string{"interval_start", keyColumn, labelColumn}, keyColumn+"_labels")
	if err != nil {
		return nil, err
	}

	var out []types.LabelRow
	failures := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Parse("reading label row", err)
		}
		ts, terr := types.ParseUsageTime(h.str(record, "interval_start"))
		if terr != nil {
			failures++
			continue
		}
		out = append(out, types.LabelRow{
			Date:   types.DayOf(ts),
			Key:    h.str(record, keyColumn),
			Labels: h.str(record, labelColumn),
		})
	}
	warnFailures(keyColumn+"_labels", failures)
	return out, nil
}

// ReadCloudLineItems loads a cost-explorer style billing CSV.
func ReadCloudLineItems(path string) ([]types.CloudLineItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.TypeSchema, "opening cloud billing file", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	h, err := readHeader(r, []string{
		"lineitem_resourceid", "lineitem_usagestartdate",
		"lineitem_unblendedcost",
	}, "cloud_billing")
	if err != nil {
		return nil, err
	}

	var out []types.CloudLineItem
	failures := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Parse("reading cloud billing row", err)
		}
		ts, terr := types.ParseUsageTime(h.str(record, "lineitem_usagestartdate"))
		if terr != nil {
			failures++
			continue
		}
		out = append(out, types.CloudLineItem{
			ResourceID:       h.str(record, "lineitem_resourceid"),
			UsageStart:       ts,
			ProductCode:      h.str(record, "lineitem_productcode"),
			UsageType:        h.str(record, "lineitem_usagetype"),
			AccountID:        h.str(record, "lineitem_usageaccountid"),
			Region:           h.str(record, "product_region"),
			AvailabilityZone: h.str(record, "lineitem_availabilityzone"),
			InstanceType:     h.str(record, "product_instancetype"),
			Currency:         h.str(record, "currencycode"),
			Cost: types.CostFlavors{
				Unblended:   h.decimal(record, "lineitem_unblendedcost", &failures),
				Blended:     h.decimal(record, "lineitem_blendedcost", &failures),
				SavingsPlan: h.decimal(record, "savingsplan_savingsplaneffectivecost", &failures),
				Amortized:   h.decimal(record, "calculated_amortized_cost", &failures),
			},
			UnblendedRate:         h.decimal(record, "lineitem_unblendedrate", &failures),
			UsageAmount:           h.float(record, "lineitem_usageamount", &failures),
			Tags:                  h.str(record, "resourcetags"),
			CostCategory:          h.str(record, "costcategory"),
			DataTransferDirection: types.DataTransferDirection(h.str(record, "data_transfer_direction")),
		})
	}
	warnFailures("cloud_billing", failures)
	return out, nil
}
