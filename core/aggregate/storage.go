// Package aggregate - storage aggregator
package aggregate

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocp-cost/core/category"
	"ocp-cost/core/labels"
	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

type podJoinKey struct {
	day       time.Time
	namespace string
	pod       string
}

type podJoinVal struct {
	node       string
	resourceID string
}

// PodIndex maps (day, namespace, pod) to the node and resource id the pod
// ran on, used to recover node placement for storage rows.
type PodIndex map[podJoinKey]podJoinVal

// AddPods extends the index from a chunk of pod usage rows.
func (p PodIndex) AddPods(rows []types.PodUsage) {
	for i := range rows {
		r := &rows[i]
		if r.Node == "" {
			continue
		}
		key := podJoinKey{day: types.DayOf(r.IntervalStart), namespace: r.Namespace, pod: r.Pod}
		if _, ok := p[key]; !ok {
			p[key] = podJoinVal{node: r.Node, resourceID: r.ResourceID}
		}
	}
}

// BuildPodIndex builds the join index for in-memory inputs.
func BuildPodIndex(rows []types.PodUsage) PodIndex {
	idx := PodIndex{}
	idx.AddPods(rows)
	return idx
}

type storageGroupKey struct {
	day          time.Time
	namespace    string
	claim        string
	volume       string
	storageClass string
	node         string
	resourceID   string
}

type storageAcc struct {
	capacityByteSeconds float64
	requestByteSeconds  float64
	usageByteSeconds    float64

	// MAX within the group
	capacityBytes float64
	csiHandle     string

	// FIRST within the group
	volumeLabels labels.Set
}

type dayVolumeKey struct {
	day    time.Time
	volume string
}

// StorageAggregator joins storage rows to pod rows to recover node and
// resource id, divides shared-volume usage by distinct node count, and
// groups by PVC and day. GB-month conversion uses actual days in the usage
// month.
type StorageAggregator struct {
	enabled    map[string]struct{}
	nodeLabels map[dayNodeKey]labels.Set
	nsLabels   map[dayNodeKey]labels.Set
	categories *category.Matcher
}

// NewStorageAggregator constructs the aggregator; the enabled-keys set is
// required, as for pods.
func NewStorageAggregator(enabled map[string]struct{}, nodeLabelRows, nsLabelRows []types.LabelRow, categories *category.Matcher) (*StorageAggregator, error) {
	if enabled == nil {
		return nil, errors.Config("enabled-keys set not provided")
	}
	if categories == nil {
		categories = category.NewMatcher(nil)
	}
	s := &StorageAggregator{
		enabled:    enabled,
		nodeLabels: map[dayNodeKey]labels.Set{},
		nsLabels:   map[dayNodeKey]labels.Set{},
		categories: categories,
	}
	for _, row := range nodeLabelRows {
		key := dayNodeKey{day: types.DayOf(row.Date), node: row.Key}
		s.nodeLabels[key] = labels.Parse(row.Labels, "storage_node_labels").Filter(enabled)
	}
	for _, row := range nsLabelRows {
		key := dayNodeKey{day: types.DayOf(row.Date), node: row.Key}
		s.nsLabels[key] = labels.Parse(row.Labels, "storage_namespace_labels").Filter(enabled)
	}
	return s, nil
}

type preparedStorage struct {
	row          *types.StorageUsage
	day          time.Time
	node         string
	resourceID   string
	volumeLabels labels.Set
}

// Aggregate runs the two-pass aggregation and emits Storage summary rows.
// Unmatched rows emit with empty node and resource id; the match rate is
// reported once.
func (s *StorageAggregator) Aggregate(rows []types.StorageUsage, pods PodIndex, meta Meta) []types.SummaryRow {
	prepared := make([]preparedStorage, 0, len(rows))
	matched := 0

	// Distinct nodes mounting each (day, PV); empty nodes from join misses
	// do not count, mirroring count(distinct) over NULL.
	volumeNodes := map[dayVolumeKey]map[string]struct{}{}

	for i := range rows {
		r := &rows[i]
		day := types.DayOf(r.IntervalStart)

		pvSet := labels.Parse(r.PVLabels, "volume_labels")
		pvcSet := labels.Parse(r.PVCLabels, "volume_labels")
		volSet := labels.Merge(pvSet, pvcSet).Filter(s.enabled)

		join, ok := pods[podJoinKey{day: day, namespace: r.Namespace, pod: r.Pod}]
		if ok {
			matched++
		} else {
			metrics.JoinMisses.WithLabelValues("storage_pod").Inc()
		}

		if join.node != "" {
			key := dayVolumeKey{day: day, volume: r.PersistentVolume}
			nodes, okn := volumeNodes[key]
			if !okn {
				nodes = map[string]struct{}{}
				volumeNodes[key] = nodes
			}
			nodes[join.node] = struct{}{}
		}

		prepared = append(prepared, preparedStorage{
			row:          r,
			day:          day,
			node:         join.node,
			resourceID:   join.resourceID,
			volumeLabels: volSet,
		})
	}

	if len(rows) > 0 {
		rate := float64(matched) / float64(len(rows))
		logging.Info("storage to pod join",
			zap.Int("rows", len(rows)),
			zap.Int("matched", matched),
			zap.Float64("matchRate", rate))
	}

	groups := map[storageGroupKey]*storageAcc{}
	for _, p := range prepared {
		nodeCount := 1.0
		if nodes, ok := volumeNodes[dayVolumeKey{day: p.day, volume: p.row.PersistentVolume}]; ok && len(nodes) > 0 {
			nodeCount = float64(len(nodes))
		}

		key := storageGroupKey{
			day:          p.day,
			namespace:    p.row.Namespace,
			claim:        p.row.PersistentVolumeClaim,
			volume:       p.row.PersistentVolume,
			storageClass: p.row.StorageClass,
			node:         p.node,
			resourceID:   p.resourceID,
		}
		acc, ok := groups[key]
		if !ok {
			acc = &storageAcc{volumeLabels: p.volumeLabels}
			groups[key] = acc
		}

		// Capacity byte-seconds stay whole; request and usage split across
		// the nodes sharing the volume.
		acc.capacityByteSeconds += p.row.PersistentVolumeClaimCapacityByteSeconds
		acc.requestByteSeconds += p.row.VolumeRequestStorageByteSeconds / nodeCount
		acc.usageByteSeconds += p.row.PersistentVolumeClaimUsageByteSeconds / nodeCount

		if p.row.PersistentVolumeClaimCapacityBytes > acc.capacityBytes {
			acc.capacityBytes = p.row.PersistentVolumeClaimCapacityBytes
		}
		if p.row.CSIVolumeHandle > acc.csiHandle {
			acc.csiHandle = p.row.CSIVolumeHandle
		}
	}

	keys := make([]storageGroupKey, 0, len(groups))
	for key := range groups {
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
		if ki.claim != kj.claim {
			return ki.claim < kj.claim
		}
		return ki.node < kj.node
	})

	out := make([]types.SummaryRow, 0, len(keys))
	for _, key := range keys {
		acc := groups[key]

		sm := &types.StorageMetrics{
			PersistentVolumeClaimCapacityGigabyte:       labels.BytesToGigabytes(acc.capacityBytes),
			PersistentVolumeClaimCapacityGigabyteMonths: labels.ByteSecondsToGigabyteMonths(acc.capacityByteSeconds, key.day),
			VolumeRequestStorageGigabyteMonths:          labels.ByteSecondsToGigabyteMonths(acc.requestByteSeconds, key.day),
			PersistentVolumeClaimUsageGigabyteMonths:    labels.ByteSecondsToGigabyteMonths(acc.usageByteSeconds, key.day),
		}

		// Storage rows merge node < namespace < volume, volume winning,
		// unlike the Pod path where pod labels win.
		nodeSet := s.nodeLabels[dayNodeKey{day: key.day, node: key.node}]
		nsSet := s.nsLabels[dayNodeKey{day: key.day, node: key.namespace}]
		podLabels := labels.CanonicalJSON(labels.Merge(nodeSet, nsSet, acc.volumeLabels))
		volumeLabels := labels.CanonicalJSON(acc.volumeLabels)

		out = append(out, types.SummaryRow{
			ID:                    uuid.New(),
			ReportPeriodID:        meta.ReportPeriodID,
			ClusterID:             meta.ClusterID,
			ClusterAlias:          meta.ClusterAlias,
			SourceUUID:            meta.SourceUUID,
			UsageStart:            key.day,
			UsageEnd:              key.day,
			Namespace:             key.namespace,
			Node:                  key.node,
			ResourceID:            key.resourceID,
			PersistentVolumeClaim: key.claim,
			PersistentVolume:      key.volume,
			StorageClass:          key.storageClass,
			CSIVolumeHandle:       acc.csiHandle,
			DataSource:            types.DataSourceStorage,
			Storage:               sm,
			PodLabels:             podLabels,
			VolumeLabels:          volumeLabels,
			AllLabels:             podLabels,
			CostCategoryID:        s.categories.Match(key.namespace),
		})
	}
	metrics.RowsEmitted.WithLabelValues("storage").Add(float64(len(out)))
	return out
}
