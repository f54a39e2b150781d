// Package match implements resource-id and tag matching of cloud billing
// rows to OCP identifiers.
package match

import (
	"strings"

	"go.uber.org/zap"

	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// Identifiers is the cluster-side identifier sets extracted from OCP rows.
type Identifiers struct {
	ClusterID    string
	ClusterAlias string

	NodeResourceIDs map[string]struct{}
	PVNames         map[string]struct{}
	CSIHandles      map[string]struct{}

	Nodes      map[string]struct{}
	Namespaces map[string]struct{}
}

// CollectIdentifiers extracts the identifier sets from pod and storage rows,
// dropping nulls and empties.
func CollectIdentifiers(pods []types.PodUsage, storage []types.StorageUsage, clusterID, clusterAlias string) Identifiers {
	ids := Identifiers{
		ClusterID:       clusterID,
		ClusterAlias:    clusterAlias,
		NodeResourceIDs: map[string]struct{}{},
		PVNames:         map[string]struct{}{},
		CSIHandles:      map[string]struct{}{},
		Nodes:           map[string]struct{}{},
		Namespaces:      map[string]struct{}{},
	}
	ids.AddPods(pods)
	ids.AddStorage(storage)
	return ids
}

// AddPods extends the identifier sets from a chunk of pod rows.
func (ids *Identifiers) AddPods(pods []types.PodUsage) {
	for i := range pods {
		p := &pods[i]
		if p.ResourceID != "" {
			ids.NodeResourceIDs[p.ResourceID] = struct{}{}
		}
		if p.Node != "" {
			ids.Nodes[p.Node] = struct{}{}
		}
		if p.Namespace != "" {
			ids.Namespaces[p.Namespace] = struct{}{}
		}
	}
}

// AddStorage extends the identifier sets from a chunk of storage rows.
func (ids *Identifiers) AddStorage(storage []types.StorageUsage) {
	for i := range storage {
		s := &storage[i]
		if s.PersistentVolume != "" {
			ids.PVNames[s.PersistentVolume] = struct{}{}
		}
		if s.CSIVolumeHandle != "" {
			ids.CSIHandles[s.CSIVolumeHandle] = struct{}{}
		}
		if s.Namespace != "" {
			ids.Namespaces[s.Namespace] = struct{}{}
		}
	}
}

// SuffixIndex answers "which candidate id is a suffix of this string" in one
// probe per distinct candidate length instead of one per candidate.
type SuffixIndex struct {
	byLength map[int]map[string]struct{}
	lengths  []int
}

// NewSuffixIndex builds the index from a candidate id set.
func NewSuffixIndex(candidates map[string]struct{}) *SuffixIndex {
	idx := &SuffixIndex{byLength: map[int]map[string]struct{}{}}
	for c := range candidates {
		if c == "" {
			continue
		}
		set, ok := idx.byLength[len(c)]
		if !ok {
			set = map[string]struct{}{}
			idx.byLength[len(c)] = set
			idx.lengths = append(idx.lengths, len(c))
		}
		set[c] = struct{}{}
	}
	return idx
}

// Lookup returns the candidate that is a suffix of s, replicating
// substr(s, -length(candidate)) = candidate.
func (idx *SuffixIndex) Lookup(s string) (string, bool) {
	for _, l := range idx.lengths {
		if l > len(s) {
			continue
		}
		suffix := s[len(s)-l:]
		if _, ok := idx.byLength[l][suffix]; ok {
			return suffix, true
		}
	}
	return "", false
}

// Contains reports whether s itself is a candidate.
func (idx *SuffixIndex) Contains(s string) bool {
	set, ok := idx.byLength[len(s)]
	if !ok {
		return false
	}
	_, ok = set[s]
	return ok
}

// ResourceMatcher suffix-matches cloud billing resource ids against node
// resource ids, PV names, and CSI handles, in that priority order; the first
// hit wins and later matches never overwrite earlier ones.
type ResourceMatcher struct {
	nodes *SuffixIndex
	pvs   *SuffixIndex
	csi   *SuffixIndex

	warnThreshold float64
	fatal         bool
}

// NewResourceMatcher builds the matcher. warnThreshold is the overall match
// rate below which a warning fires; fatal upgrades it to an error.
func NewResourceMatcher(ids Identifiers, warnThreshold float64, fatal bool) *ResourceMatcher {
	return &ResourceMatcher{
		nodes:         NewSuffixIndex(ids.NodeResourceIDs),
		pvs:           NewSuffixIndex(ids.PVNames),
		csi:           NewSuffixIndex(ids.CSIHandles),
		warnThreshold: warnThreshold,
		fatal:         fatal,
	}
}

// Match annotates items in place with resource_id_matched,
// matched_resource_id, and match_type. A low match rate is not a failure by
// default: tag matching runs next.
func (m *ResourceMatcher) Match(items []types.CloudLineItem) ([]types.CloudLineItem, error) {
	matched := 0
	for i := range items {
		item := &items[i]
		if item.ResourceID == "" {
			continue
		}

		if id, ok := m.nodes.Lookup(item.ResourceID); ok {
			item.ResourceIDMatched = true
			item.MatchedResourceID = id
			item.MatchType = types.MatchNode
		} else if id, ok := m.pvs.Lookup(item.ResourceID); ok {
			item.ResourceIDMatched = true
			item.MatchedResourceID = id
			item.MatchType = types.MatchPV
		} else if id, ok := m.csi.Lookup(item.ResourceID); ok {
			item.ResourceIDMatched = true
			item.MatchedResourceID = id
			item.MatchType = types.MatchCSIHandle
		}
		if item.ResourceIDMatched {
			matched++
		}
	}

	if len(items) > 0 {
		rate := float64(matched) / float64(len(items))
		metrics.MatchRate.WithLabelValues("resource").Set(rate)
		if rate < m.warnThreshold {
			logging.Warn("low resource id match rate",
				zap.Float64("rate", rate),
				zap.Int("matched", matched),
				zap.Int("total", len(items)))
			if m.fatal {
				return nil, errors.Newf(errors.TypeMatch,
					"resource match rate %.2f below threshold %.2f", rate, m.warnThreshold)
			}
		}
	}
	return items, nil
}

// HasSuffixIn reports whether any candidate in the set is a suffix of s.
// Kept for call sites that need the raw rule outside a matcher.
func HasSuffixIn(s string, candidates map[string]struct{}) bool {
	for c := range candidates {
		if c != "" && strings.HasSuffix(s, c) {
			return true
		}
	}
	return false
}
