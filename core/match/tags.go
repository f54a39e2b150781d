package match

import (
	"fmt"

	"ocp-cost/core/labels"
	"ocp-cost/core/types"
	"ocp-cost/internal/metrics"
)

const (
	tagKeyCluster = "openshift_cluster"
	tagKeyNode    = "openshift_node"
	tagKeyProject = "openshift_project"
)

// TagMatcher matches cloud billing tags against OCP cluster, node, and
// namespace identifiers. Rows already resource-matched are skipped: a row
// carries at most one match strategy.
type TagMatcher struct {
	ids     Identifiers
	enabled map[string]struct{}
}

// NewTagMatcher builds the matcher. A nil enabled set means "allow all tag
// keys", unlike the label filter at aggregation time which is mandatory.
func NewTagMatcher(ids Identifiers, enabled map[string]struct{}) *TagMatcher {
	return &TagMatcher{ids: ids, enabled: enabled}
}

// Match annotates unmatched items in place. Tags evaluate in strict priority
// order: openshift_cluster, then openshift_node, then openshift_project.
// Only the highest-priority hit is recorded.
func (m *TagMatcher) Match(items []types.CloudLineItem) []types.CloudLineItem {
	matched := 0
	considered := 0
	for i := range items {
		item := &items[i]
		if item.ResourceIDMatched {
			continue
		}
		considered++

		tags := labels.Parse(item.Tags, "cloud_tags").Filter(m.enabled)
		if len(tags) == 0 {
			continue
		}

		if v, ok := tags[tagKeyCluster]; ok && (v == m.ids.ClusterID || v == m.ids.ClusterAlias) {
			item.TagMatched = true
			item.MatchedTag = fmt.Sprintf("%s=%s", tagKeyCluster, v)
			item.MatchedCluster = v
			matched++
			continue
		}
		if v, ok := tags[tagKeyNode]; ok {
			if _, hit := m.ids.Nodes[v]; hit {
				item.TagMatched = true
				item.MatchedTag = fmt.Sprintf("%s=%s", tagKeyNode, v)
				item.MatchedNode = v
				matched++
				continue
			}
		}
		if v, ok := tags[tagKeyProject]; ok {
			if _, hit := m.ids.Namespaces[v]; hit {
				item.TagMatched = true
				item.MatchedTag = fmt.Sprintf("%s=%s", tagKeyProject, v)
				item.MatchedNamespace = v
				matched++
			}
		}
	}

	if considered > 0 {
		metrics.MatchRate.WithLabelValues("tag").Set(float64(matched) / float64(considered))
	}
	return items
}
