// Package types - summary and attribution output rows
package types

import (
	"time"

	"github.com/google/uuid"
)

// PodMetrics is the Pod family of summary columns. Values are already
// converted: CPU in core-hours, memory in gigabyte-hours.
type PodMetrics struct {
	PodUsageCPUCoreHours          float64
	PodRequestCPUCoreHours        float64
	PodLimitCPUCoreHours          float64
	PodEffectiveUsageCPUCoreHours float64

	PodUsageMemoryGigabyteHours          float64
	PodRequestMemoryGigabyteHours        float64
	PodLimitMemoryGigabyteHours          float64
	PodEffectiveUsageMemoryGigabyteHours float64

	NodeCapacityCPUCores            float64
	NodeCapacityCPUCoreHours        float64
	NodeCapacityMemoryGigabytes     float64
	NodeCapacityMemoryGigabyteHours float64

	ClusterCapacityCPUCoreHours        float64
	ClusterCapacityMemoryGigabyteHours float64
}

// StorageMetrics is the Storage family of summary columns, converted to
// gigabytes and gigabyte-months using actual days in the usage month.
type StorageMetrics struct {
	PersistentVolumeClaimCapacityGigabyte       float64
	PersistentVolumeClaimCapacityGigabyteMonths float64
	VolumeRequestStorageGigabyteMonths          float64
	PersistentVolumeClaimUsageGigabyteMonths    float64
}

// SummaryRow is one output row of the daily summary. Exactly one of Pod and
// Storage is populated; the sink writes NULL for the absent family.
type SummaryRow struct {
	// ID is the stable unique row id
	ID uuid.UUID

	// ReportPeriodID identifies the report period
	ReportPeriodID int

	// ClusterID and ClusterAlias identify the cluster
	ClusterID    string
	ClusterAlias string

	// SourceUUID identifies the provider source
	SourceUUID string

	// UsageStart and UsageEnd are timezone-naive dates
	UsageStart time.Time
	UsageEnd   time.Time

	// Namespace is the workload namespace, or a reserved synthetic string
	Namespace string

	// Synthetic tags reserved rows; SyntheticNone for user namespaces
	Synthetic SyntheticNamespace

	Node       string
	ResourceID string

	PersistentVolumeClaim string
	PersistentVolume      string
	StorageClass          string

	// CSIVolumeHandle is set on Storage rows when the driver reported one
	CSIVolumeHandle string

	// DataSource is Pod or Storage
	DataSource DataSource

	// Pod is set iff DataSource is Pod
	Pod *PodMetrics

	// Storage is set iff DataSource is Storage
	Storage *StorageMetrics

	// PodLabels, VolumeLabels, and AllLabels are canonical JSON strings.
	// AllLabels = merge(PodLabels, VolumeLabels) with volume precedence.
	PodLabels    string
	VolumeLabels string
	AllLabels    string

	// CostCategoryID is the matched cost category, nil when no rule matched
	CostCategoryID *int
}

// AttributedRow is one output row of the cloud cost attribution path:
// summary-row shape extended with cloud metadata and the four cost flavors
// paired with their markup.
type AttributedRow struct {
	ID uuid.UUID

	ReportPeriodID  int
	CostEntryBillID int

	ClusterID    string
	ClusterAlias string
	SourceUUID   string

	UsageStart time.Time
	UsageEnd   time.Time

	Namespace string
	Synthetic SyntheticNamespace

	Node       string
	ResourceID string

	AccountID        string
	Region           string
	AvailabilityZone string
	InstanceType     string

	PersistentVolumeClaim string
	PersistentVolume      string
	StorageClass          string

	// DataTransferDirection is set only on network rows
	DataTransferDirection DataTransferDirection

	Currency string

	// Cost carries the attributed share of each flavor; Markup is the
	// per-flavor surcharge at the configured fraction
	Cost   CostFlavors
	Markup CostFlavors

	// PodLabels, Tags, and CostCategory are JSON strings, never nested
	// objects. Non-JSON payloads are replaced with "{}" at formatting.
	PodLabels    string
	Tags         string
	CostCategory string
}
