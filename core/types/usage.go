// Package types - OCP usage row shapes
package types

import "time"

// PodUsage is one workload measurement on one node during one interval.
// Counters are raw: CPU in core-seconds, memory in byte-seconds. Unit
// conversion happens at aggregation emit, never at ingest.
type PodUsage struct {
	// IntervalStart is the measurement interval start, timezone-naive UTC
	IntervalStart time.Time

	// Namespace is the workload namespace
	Namespace string

	// Node is the node name; rows with an empty node are filtered at ingest
	Node string

	// Pod is the pod identifier
	Pod string

	// ResourceID is the node's cloud resource id
	ResourceID string

	// PodLabels is the raw label payload (JSON or pipe-delimited)
	PodLabels string

	PodUsageCPUCoreSeconds   float64
	PodRequestCPUCoreSeconds float64
	PodLimitCPUCoreSeconds   float64

	// PodEffectiveUsageCPUCoreSeconds is nullable; when nil the engine
	// materializes greatest(usage, request)
	PodEffectiveUsageCPUCoreSeconds *float64

	PodUsageMemoryByteSeconds   float64
	PodRequestMemoryByteSeconds float64
	PodLimitMemoryByteSeconds   float64

	// PodEffectiveUsageMemoryByteSeconds is nullable like its CPU twin
	PodEffectiveUsageMemoryByteSeconds *float64

	NodeCapacityCPUCores          float64
	NodeCapacityCPUCoreSeconds    float64
	NodeCapacityMemoryBytes       float64
	NodeCapacityMemoryByteSeconds float64
}

// StorageUsage is one PVC measurement during one interval.
type StorageUsage struct {
	// IntervalStart is the measurement interval start, timezone-naive UTC
	IntervalStart time.Time

	// Namespace is the claiming namespace
	Namespace string

	// Pod is the mounting pod
	Pod string

	// PersistentVolumeClaim is the logical storage handle
	PersistentVolumeClaim string

	// PersistentVolume is the physical storage handle
	PersistentVolume string

	// StorageClass is the volume's storage class
	StorageClass string

	// CSIVolumeHandle is the storage driver's opaque volume identifier
	CSIVolumeHandle string

	// PVLabels and PVCLabels are raw label payloads; they merge into a
	// single volume-label map where the PVC wins
	PVLabels  string
	PVCLabels string

	// PersistentVolumeClaimCapacityBytes is a point-in-time capacity
	PersistentVolumeClaimCapacityBytes float64

	PersistentVolumeClaimCapacityByteSeconds float64
	VolumeRequestStorageByteSeconds          float64
	PersistentVolumeClaimUsageByteSeconds    float64
}

// LabelRow is a platform-provided label map for a node or namespace on a
// date. Multiple rows per (date, key) deduplicate keeping the last.
type LabelRow struct {
	// Date is the usage date
	Date time.Time

	// Key is the node name or namespace the labels belong to
	Key string

	// Labels is the raw JSON label map
	Labels string
}

// NodeRoleRow maps a node to its platform role. Multiple roles for the same
// (node, resource-id) collapse to the alphabetically greatest.
type NodeRoleRow struct {
	Node       string
	ResourceID string
	Role       NodeRole
}

// CostCategoryRule matches namespaces to a cost category. Patterns ending in
// "%" match as prefix; otherwise exact. Ties resolve to max(id).
type CostCategoryRule struct {
	NamespacePattern string
	CategoryID       int
}

// NodeCapacity is the per-(date, node) capacity derived by the capacity
// calculator, with cluster capacity broadcast onto every node row.
type NodeCapacity struct {
	Date time.Time
	Node string

	CapacityCPUCoreSeconds      float64
	CapacityMemoryByteSeconds   float64
	CapacityCPUCoreHours        float64
	CapacityMemoryGigabyteHours float64

	ClusterCapacityCPUCoreSeconds      float64
	ClusterCapacityMemoryByteSeconds   float64
	ClusterCapacityCPUCoreHours        float64
	ClusterCapacityMemoryGigabyteHours float64
}
