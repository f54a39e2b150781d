// Package aggregate implements the pod, storage, capacity, and unallocated
// aggregators. Each grouping step is an accumulator map keyed by the group
// tuple with an emit pass that converts units.
package aggregate

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"ocp-cost/core/labels"
	"ocp-cost/core/types"
	"ocp-cost/internal/logging"
)

type intervalNodeKey struct {
	interval time.Time
	node     string
}

type dayNodeKey struct {
	day  time.Time
	node string
}

// CapacityCalculator derives node and cluster capacity from hourly usage
// rows with a two-level aggregation: interval-level MAX (defensive against
// duplicate interval rows) then day-level SUM. Hourly inputs are required
// for correctness; with daily inputs the interval level degenerates.
type CapacityCalculator struct {
	intervals map[intervalNodeKey]*capacityAcc
}

type capacityAcc struct {
	cpuCoreSeconds    float64
	memoryByteSeconds float64
}

// NewCapacityCalculator creates an empty calculator.
func NewCapacityCalculator() *CapacityCalculator {
	return &CapacityCalculator{intervals: map[intervalNodeKey]*capacityAcc{}}
}

// Add accumulates one chunk of usage rows. Rows with an empty node are
// skipped, matching the ingest filter.
func (c *CapacityCalculator) Add(rows []types.PodUsage) {
	for i := range rows {
		r := &rows[i]
		if r.Node == "" {
			continue
		}
		key := intervalNodeKey{interval: r.IntervalStart, node: r.Node}
		acc, ok := c.intervals[key]
		if !ok {
			acc = &capacityAcc{}
			c.intervals[key] = acc
		}
		if r.NodeCapacityCPUCoreSeconds > acc.cpuCoreSeconds {
			acc.cpuCoreSeconds = r.NodeCapacityCPUCoreSeconds
		}
		if r.NodeCapacityMemoryByteSeconds > acc.memoryByteSeconds {
			acc.memoryByteSeconds = r.NodeCapacityMemoryByteSeconds
		}
	}
}

// Result sums interval maxima per (date, node), derives cluster capacity per
// date, and broadcasts it onto every node row for the same date. Empty input
// yields an empty result.
func (c *CapacityCalculator) Result() []types.NodeCapacity {
	days := map[dayNodeKey]*capacityAcc{}
	for key, acc := range c.intervals {
		dk := dayNodeKey{day: types.DayOf(key.interval), node: key.node}
		d, ok := days[dk]
		if !ok {
			d = &capacityAcc{}
			days[dk] = d
		}
		d.cpuCoreSeconds += acc.cpuCoreSeconds
		d.memoryByteSeconds += acc.memoryByteSeconds
	}

	cluster := map[time.Time]*capacityAcc{}
	for key, acc := range days {
		cl, ok := cluster[key.day]
		if !ok {
			cl = &capacityAcc{}
			cluster[key.day] = cl
		}
		cl.cpuCoreSeconds += acc.cpuCoreSeconds
		cl.memoryByteSeconds += acc.memoryByteSeconds
	}

	out := make([]types.NodeCapacity, 0, len(days))
	for key, acc := range days {
		cl := cluster[key.day]
		out = append(out, types.NodeCapacity{
			Date:                               key.day,
			Node:                               key.node,
			CapacityCPUCoreSeconds:             acc.cpuCoreSeconds,
			CapacityMemoryByteSeconds:          acc.memoryByteSeconds,
			CapacityCPUCoreHours:               labels.SecondsToHours(acc.cpuCoreSeconds),
			CapacityMemoryGigabyteHours:        labels.ByteSecondsToGigabyteHours(acc.memoryByteSeconds),
			ClusterCapacityCPUCoreSeconds:      cl.cpuCoreSeconds,
			ClusterCapacityMemoryByteSeconds:   cl.memoryByteSeconds,
			ClusterCapacityCPUCoreHours:        labels.SecondsToHours(cl.cpuCoreSeconds),
			ClusterCapacityMemoryGigabyteHours: labels.ByteSecondsToGigabyteHours(cl.memoryByteSeconds),
		})
	}

	for day, cl := range cluster {
		if cl.cpuCoreSeconds <= 0 || cl.memoryByteSeconds <= 0 {
			logging.Warn("non-positive cluster capacity",
				zap.Time("date", day),
				zap.Float64("cpuCoreSeconds", cl.cpuCoreSeconds),
				zap.Float64("memoryByteSeconds", cl.memoryByteSeconds))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// CalculateCapacity is the one-shot form for in-memory inputs.
func CalculateCapacity(rows []types.PodUsage) []types.NodeCapacity {
	c := NewCapacityCalculator()
	c.Add(rows)
	return c.Result()
}
