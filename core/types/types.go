// Package types defines the row model shared by the aggregation and
// attribution engine.
package types

// DataSource discriminates the two summary row families
type DataSource string

const (
	// DataSourcePod marks a pod usage summary row
	DataSourcePod DataSource = "Pod"

	// DataSourceStorage marks a storage usage summary row
	DataSourceStorage DataSource = "Storage"
)

// SyntheticNamespace is a reserved namespace assigned by the engine rather
// than observed in the cluster. The canonical strings are produced only at
// serialization; everywhere else the typed value is used.
type SyntheticNamespace int

const (
	// SyntheticNone marks a real user namespace
	SyntheticNone SyntheticNamespace = iota

	// PlatformUnallocated is capacity on master/infra nodes not used by any workload
	PlatformUnallocated

	// WorkerUnallocated is capacity on worker nodes not used by any workload
	WorkerUnallocated

	// NetworkUnattributed is data-transfer cost that cannot be assigned to a workload
	NetworkUnattributed

	// StorageUnattributed is storage cost that cannot be assigned to a PVC
	StorageUnattributed
)

// String returns the canonical reserved string
func (s SyntheticNamespace) String() string {
	switch s {
	case PlatformUnallocated:
		return "Platform unallocated"
	case WorkerUnallocated:
		return "Worker unallocated"
	case NetworkUnattributed:
		return "Network unattributed"
	case StorageUnattributed:
		return "Storage unattributed"
	default:
		return ""
	}
}

// IsSyntheticNamespace reports whether ns is one of the four reserved
// namespace strings. Synthetic rows are excluded from user-namespace
// attribution and never re-aggregated on subsequent passes.
func IsSyntheticNamespace(ns string) bool {
	switch ns {
	case "Platform unallocated", "Worker unallocated",
		"Network unattributed", "Storage unattributed":
		return true
	}
	return false
}

// NodeRole is a node's platform role
type NodeRole string

const (
	RoleMaster NodeRole = "master"
	RoleInfra  NodeRole = "infra"
	RoleWorker NodeRole = "worker"
)

// DataTransferDirection is the direction of a network data-transfer line item
type DataTransferDirection string

const (
	TransferIn  DataTransferDirection = "IN"
	TransferOut DataTransferDirection = "OUT"
)
