package attribute

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ocp-cost/core/types"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// residualThreshold is the unattributed-capacity fraction below which no
// residual row is emitted (0.1%, absorbing rounding noise from the solver).
var residualThreshold = decimal.NewFromFloat(0.001)

// StorageClaim is one PVC's share of a disk, distilled from a Storage
// summary row.
type StorageClaim struct {
	ClusterID    string
	ClusterAlias string
	SourceUUID   string

	Namespace             string
	Node                  string
	PersistentVolumeClaim string
	PersistentVolume      string
	CSIVolumeHandle       string
	StorageClass          string

	Day        time.Time
	CapacityGB float64
	PodLabels  string
}

// ClaimsFromSummary extracts storage claims from Storage summary rows. Rows
// from multiple clusters may be passed together; the cluster id rides along
// for the residual split.
func ClaimsFromSummary(rows []types.SummaryRow) []StorageClaim {
	out := make([]StorageClaim, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.DataSource != types.DataSourceStorage || r.Storage == nil || r.Synthetic != types.SyntheticNone {
			continue
		}
		out = append(out, StorageClaim{
			ClusterID:             r.ClusterID,
			ClusterAlias:          r.ClusterAlias,
			SourceUUID:            r.SourceUUID,
			Namespace:             r.Namespace,
			Node:                  r.Node,
			PersistentVolumeClaim: r.PersistentVolumeClaim,
			PersistentVolume:      r.PersistentVolume,
			CSIVolumeHandle:       r.CSIVolumeHandle,
			StorageClass:          r.StorageClass,
			Day:                   r.UsageStart,
			CapacityGB:            r.Storage.PersistentVolumeClaimCapacityGigabyte,
			PodLabels:             r.PodLabels,
		})
	}
	return out
}

type diskCostAcc struct {
	cost      types.CostFlavors
	accountID string
	region    string
	az        string
	currency  string
	tags      string
}

// AttributeStorage distributes EBS costs across PVCs. Three paths, in order:
// CSI-proportional for disks the solver recovered, full-cost for tag-matched
// rows carrying an openshift_project namespace, and residual / cluster-only
// rows booked to "Storage unattributed". For every (disk, day) with CSI
// attribution the PVC shares plus the residual equal the disk cost.
func AttributeStorage(items []types.CloudLineItem, disks []DiskCapacity, claims []StorageClaim, attr Attribution) []types.AttributedRow {
	// Disk cost pool per (resource id, day) over resource-matched rows only;
	// tag-matched rows keep their own cost on the tag paths.
	diskCosts := map[resourceDayKey]*diskCostAcc{}
	for i := range items {
		item := &items[i]
		if !item.IsStorage() || !item.ResourceIDMatched {
			continue
		}
		key := resourceDayKey{resourceID: item.ResourceID, day: types.DayOf(item.UsageStart)}
		acc, ok := diskCosts[key]
		if !ok {
			acc = &diskCostAcc{
				accountID: item.AccountID,
				region:    item.Region,
				az:        item.AvailabilityZone,
				currency:  item.Currency,
				tags:      item.Tags,
			}
			diskCosts[key] = acc
		}
		acc.cost = acc.cost.Add(item.Cost)
	}

	var out []types.AttributedRow

	// CSI path: proportional shares by claimed capacity, then the residual.
	residualRows := 0
	for _, disk := range disks {
		cost, ok := diskCosts[resourceDayKey{resourceID: disk.ResourceID, day: disk.UsageStart}]
		if !ok || !disk.CapacityGB.IsPositive() {
			continue
		}

		diskClaims := claimsOnDisk(claims, disk)
		if len(diskClaims) == 0 {
			continue
		}

		claimedGB := decimal.Zero
		clusters := map[string]StorageClaim{}
		for _, c := range diskClaims {
			claimedGB = claimedGB.Add(decimal.NewFromFloat(c.CapacityGB))
			if _, seen := clusters[c.ClusterID]; !seen {
				clusters[c.ClusterID] = c
			}
		}

		for _, c := range diskClaims {
			share := decimal.NewFromFloat(c.CapacityGB).Div(disk.CapacityGB)
			rowCost := cost.cost.Mul(share)
			out = append(out, claimRow(c, disk, cost, rowCost, attr))
		}

		ratio := decimal.NewFromInt(1).Sub(claimedGB.Div(disk.CapacityGB))
		if ratio.LessThanOrEqual(residualThreshold) {
			continue
		}
		residualRows++
		residualCost := cost.cost.Mul(ratio)
		clusterShare := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(clusters))))
		perCluster := residualCost.Mul(clusterShare)

		names := make([]string, 0, len(clusters))
		for id := range clusters {
			names = append(names, id)
		}
		sort.Strings(names)
		for _, id := range names {
			c := clusters[id]
			out = append(out, unattributedRow(c.ClusterID, c.ClusterAlias, c.SourceUUID, disk, cost, perCluster, attr))
		}
	}
	if residualRows > 0 {
		logging.Info("storage residual rows emitted", zap.Int("disks", residualRows))
	}

	// Tag paths. openshift_project rows aggregate per (namespace, day) at
	// full cost; cluster-only rows book to the unattributed namespace.
	type nsDayKey struct {
		namespace string
		day       time.Time
	}
	nsCosts := map[nsDayKey]*diskCostAcc{}
	nsResource := map[nsDayKey]string{}
	for i := range items {
		item := &items[i]
		if !item.IsStorage() || !item.TagMatched {
			continue
		}
		day := types.DayOf(item.UsageStart)
		switch {
		case item.MatchedNamespace != "":
			key := nsDayKey{namespace: item.MatchedNamespace, day: day}
			acc, ok := nsCosts[key]
			if !ok {
				acc = &diskCostAcc{
					accountID: item.AccountID,
					region:    item.Region,
					az:        item.AvailabilityZone,
					currency:  item.Currency,
					tags:      item.Tags,
				}
				nsCosts[key] = acc
				nsResource[key] = item.ResourceID
			}
			acc.cost = acc.cost.Add(item.Cost)
		case item.MatchedCluster != "":
			disk := DiskCapacity{ResourceID: item.ResourceID, UsageStart: day}
			acc := &diskCostAcc{
				accountID: item.AccountID,
				region:    item.Region,
				az:        item.AvailabilityZone,
				currency:  item.Currency,
				tags:      item.Tags,
			}
			acc.cost = item.Cost
			out = append(out, unattributedRow(attr.ClusterID, attr.ClusterAlias, attr.SourceUUID, disk, acc, item.Cost, attr))
		}
	}

	nsKeys := make([]nsDayKey, 0, len(nsCosts))
	for key := range nsCosts {
		nsKeys = append(nsKeys, key)
	}
	sort.Slice(nsKeys, func(i, j int) bool {
		if nsKeys[i].namespace != nsKeys[j].namespace {
			return nsKeys[i].namespace < nsKeys[j].namespace
		}
		return nsKeys[i].day.Before(nsKeys[j].day)
	})
	for _, key := range nsKeys {
		acc := nsCosts[key]
		out = append(out, types.AttributedRow{
			ID:               uuid.New(),
			ReportPeriodID:   attr.ReportPeriodID,
			CostEntryBillID:  attr.CostEntryBillID,
			ClusterID:        attr.ClusterID,
			ClusterAlias:     attr.ClusterAlias,
			SourceUUID:       attr.SourceUUID,
			UsageStart:       key.day,
			UsageEnd:         key.day,
			Namespace:        key.namespace,
			ResourceID:       nsResource[key],
			AccountID:        acc.accountID,
			Region:           acc.region,
			AvailabilityZone: acc.az,
			Currency:         acc.currency,
			Cost:             acc.cost,
			Markup:           acc.cost.Mul(attr.Markup),
			PodLabels:        "{}",
			Tags:             acc.tags,
			CostCategory:     "{}",
		})
	}

	metrics.RowsEmitted.WithLabelValues("storage_cost").Add(float64(len(out)))
	return out
}

// claimsOnDisk finds the claims whose PV or CSI handle is a suffix of the
// disk's billing resource id, scoped to the disk's day.
func claimsOnDisk(claims []StorageClaim, disk DiskCapacity) []StorageClaim {
	var out []StorageClaim
	for _, c := range claims {
		if !c.Day.Equal(disk.UsageStart) {
			continue
		}
		if suffixOf(disk.ResourceID, c.CSIVolumeHandle) || suffixOf(disk.ResourceID, c.PersistentVolume) {
			out = append(out, c)
		}
	}
	return out
}

func suffixOf(s, candidate string) bool {
	if candidate == "" || len(candidate) > len(s) {
		return false
	}
	return s[len(s)-len(candidate):] == candidate
}

func claimRow(c StorageClaim, disk DiskCapacity, acc *diskCostAcc, cost types.CostFlavors, attr Attribution) types.AttributedRow {
	return types.AttributedRow{
		ID:                    uuid.New(),
		ReportPeriodID:        attr.ReportPeriodID,
		CostEntryBillID:       attr.CostEntryBillID,
		ClusterID:             c.ClusterID,
		ClusterAlias:          c.ClusterAlias,
		SourceUUID:            c.SourceUUID,
		UsageStart:            disk.UsageStart,
		UsageEnd:              disk.UsageStart,
		Namespace:             c.Namespace,
		Node:                  c.Node,
		ResourceID:            disk.ResourceID,
		AccountID:             acc.accountID,
		Region:                acc.region,
		AvailabilityZone:      acc.az,
		PersistentVolumeClaim: c.PersistentVolumeClaim,
		PersistentVolume:      c.PersistentVolume,
		StorageClass:          c.StorageClass,
		Currency:              acc.currency,
		Cost:                  cost,
		Markup:                cost.Mul(attr.Markup),
		PodLabels:             c.PodLabels,
		Tags:                  acc.tags,
		CostCategory:          "{}",
	}
}

func unattributedRow(clusterID, clusterAlias, sourceUUID string, disk DiskCapacity, acc *diskCostAcc, cost types.CostFlavors, attr Attribution) types.AttributedRow {
	return types.AttributedRow{
		ID:               uuid.New(),
		ReportPeriodID:   attr.ReportPeriodID,
		CostEntryBillID:  attr.CostEntryBillID,
		ClusterID:        clusterID,
		ClusterAlias:     clusterAlias,
		SourceUUID:       sourceUUID,
		UsageStart:       disk.UsageStart,
		UsageEnd:         disk.UsageStart,
		Namespace:        types.StorageUnattributed.String(),
		Synthetic:        types.StorageUnattributed,
		ResourceID:       disk.ResourceID,
		AccountID:        acc.accountID,
		Region:           acc.region,
		AvailabilityZone: acc.az,
		Currency:         acc.currency,
		Cost:             cost,
		Markup:           cost.Mul(attr.Markup),
		PodLabels:        "{}",
		Tags:             acc.tags,
		CostCategory:     "{}",
	}
}
