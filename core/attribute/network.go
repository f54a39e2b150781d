package attribute

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ocp-cost/core/match"
	"ocp-cost/core/types"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// Attribution carries the run-wide inputs every attribution step stamps on
// its output rows.
type Attribution struct {
	ClusterID       string
	ClusterAlias    string
	SourceUUID      string
	ReportPeriodID  int
	CostEntryBillID int

	// Markup is the fraction applied to each cost flavor
	Markup decimal.Decimal
}

// SplitNetwork partitions cloud rows into network and non-network by
// data-transfer direction.
func SplitNetwork(items []types.CloudLineItem) (network, rest []types.CloudLineItem) {
	for i := range items {
		if items[i].IsNetwork() {
			network = append(network, items[i])
		} else {
			rest = append(rest, items[i])
		}
	}
	return network, rest
}

// AttributeNetwork books data-transfer rows to the "Network unattributed"
// namespace keyed by node and direction. The node is inferred by suffix
// matching the billing resource id against OCP node resource ids; rows with
// no node are dropped with one warning carrying the count.
func AttributeNetwork(network []types.CloudLineItem, nodeByResourceID map[string]string, attr Attribution) []types.AttributedRow {
	ids := make(map[string]struct{}, len(nodeByResourceID))
	for id := range nodeByResourceID {
		ids[id] = struct{}{}
	}
	idx := match.NewSuffixIndex(ids)

	type netKey struct {
		node      string
		direction types.DataTransferDirection
	}
	type netAcc struct {
		cost       types.CostFlavors
		usageStart time.Time
		usageEnd   time.Time
		resourceID string
		accountID  string
		region     string
		az         string
		currency   string
	}

	groups := map[netKey]*netAcc{}
	dropped := 0
	for i := range network {
		item := &network[i]
		id, ok := idx.Lookup(item.ResourceID)
		if !ok {
			dropped++
			metrics.JoinMisses.WithLabelValues("network_node").Inc()
			continue
		}
		node := nodeByResourceID[id]

		key := netKey{node: node, direction: item.DataTransferDirection}
		acc, ok := groups[key]
		if !ok {
			acc = &netAcc{
				usageStart: item.UsageStart,
				usageEnd:   item.UsageStart,
				resourceID: id,
				accountID:  item.AccountID,
				region:     item.Region,
				az:         item.AvailabilityZone,
				currency:   item.Currency,
			}
			groups[key] = acc
		}
		acc.cost = acc.cost.Add(item.Cost)
		if item.UsageStart.Before(acc.usageStart) {
			acc.usageStart = item.UsageStart
		}
		if item.UsageStart.After(acc.usageEnd) {
			acc.usageEnd = item.UsageStart
		}
	}

	if dropped > 0 {
		logging.Warn("network rows without a node match dropped",
			zap.Int("rows", dropped))
	}

	keys := make([]netKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].node != keys[j].node {
			return keys[i].node < keys[j].node
		}
		return keys[i].direction < keys[j].direction
	})

	out := make([]types.AttributedRow, 0, len(keys))
	for _, key := range keys {
		acc := groups[key]
		out = append(out, types.AttributedRow{
			ID:                    uuid.New(),
			ReportPeriodID:        attr.ReportPeriodID,
			CostEntryBillID:       attr.CostEntryBillID,
			ClusterID:             attr.ClusterID,
			ClusterAlias:          attr.ClusterAlias,
			SourceUUID:            attr.SourceUUID,
			UsageStart:            types.DayOf(acc.usageStart),
			UsageEnd:              types.DayOf(acc.usageEnd),
			Namespace:             types.NetworkUnattributed.String(),
			Synthetic:             types.NetworkUnattributed,
			Node:                  key.node,
			ResourceID:            acc.resourceID,
			AccountID:             acc.accountID,
			Region:                acc.region,
			AvailabilityZone:      acc.az,
			DataTransferDirection: key.direction,
			Currency:              acc.currency,
			Cost:                  acc.cost,
			Markup:                acc.cost.Mul(attr.Markup),
			PodLabels:             "{}",
			Tags:                  "{}",
			CostCategory:          "{}",
		})
	}
	metrics.RowsEmitted.WithLabelValues("network").Add(float64(len(out)))
	return out
}
