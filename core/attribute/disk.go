// Package attribute distributes matched cloud costs onto OCP workloads: the
// disk-capacity solver, the network-cost handler, the compute attributor, and
// the storage attributor.
package attribute

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ocp-cost/core/match"
	"ocp-cost/core/types"
	"ocp-cost/internal/logging"
)

// DiskCapacity is one recovered disk: the billing resource id, the integer
// capacity in GB, and the usage date it was derived for.
type DiskCapacity struct {
	ResourceID string
	CapacityGB decimal.Decimal
	UsageStart time.Time
}

type resourceDayKey struct {
	resourceID string
	day        time.Time
}

// VolumeIdentifiers is the union of PV names and CSI handles from OCP storage
// rows, nulls removed.
func VolumeIdentifiers(rows []types.StorageUsage) map[string]struct{} {
	out := map[string]struct{}{}
	for i := range rows {
		if rows[i].PersistentVolume != "" {
			out[rows[i].PersistentVolume] = struct{}{}
		}
		if rows[i].CSIVolumeHandle != "" {
			out[rows[i].CSIVolumeHandle] = struct{}{}
		}
	}
	return out
}

// SolveDiskCapacity recovers EBS disk capacity from billing cost and rate.
// Within each (resource id, date) group the MAX cost and MAX rate are taken,
// then capacity = round(cost / (rate / hours_in_month)). Groups with a
// non-positive rate or capacity are dropped. Day boundaries spanning months
// apply each day's own hours-in-month.
func SolveDiskCapacity(items []types.CloudLineItem, volumeIDs map[string]struct{}) []DiskCapacity {
	idx := match.NewSuffixIndex(volumeIDs)

	type acc struct {
		cost decimal.Decimal
		rate decimal.Decimal
	}
	groups := map[resourceDayKey]*acc{}

	for i := range items {
		item := &items[i]
		if !item.IsStorage() || item.ResourceID == "" {
			continue
		}
		_, suffixHit := idx.Lookup(item.ResourceID)
		_, matchedHit := volumeIDs[item.MatchedResourceID]
		if !suffixHit && !matchedHit {
			continue
		}

		key := resourceDayKey{resourceID: item.ResourceID, day: types.DayOf(item.UsageStart)}
		a, ok := groups[key]
		if !ok {
			a = &acc{}
			groups[key] = a
		}
		if item.Cost.Unblended.GreaterThan(a.cost) {
			a.cost = item.Cost.Unblended
		}
		if item.UnblendedRate.GreaterThan(a.rate) {
			a.rate = item.UnblendedRate
		}
	}

	keys := make([]resourceDayKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].resourceID != keys[j].resourceID {
			return keys[i].resourceID < keys[j].resourceID
		}
		return keys[i].day.Before(keys[j].day)
	})

	dropped := 0
	out := make([]DiskCapacity, 0, len(keys))
	for _, key := range keys {
		a := groups[key]
		if !a.rate.IsPositive() {
			dropped++
			continue
		}
		hours := decimal.NewFromInt(int64(types.HoursInMonth(key.day)))
		capacity := a.cost.Div(a.rate.Div(hours)).Round(0)
		if !capacity.IsPositive() {
			dropped++
			continue
		}
		out = append(out, DiskCapacity{
			ResourceID: key.resourceID,
			CapacityGB: capacity,
			UsageStart: key.day,
		})
	}

	if dropped > 0 {
		logging.Warn("disk capacity groups dropped", zap.Int("groups", dropped))
	}
	return out
}
