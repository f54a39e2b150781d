package match

import (
	"testing"

	"ocp-cost/core/types"
)

func set(vals ...string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func TestSuffixIndexLookup(t *testing.T) {
	idx := NewSuffixIndex(set("i-0abc123", "vol-999", ""))

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"full arn suffix", "arn:aws:ec2:us-east-1:123:instance/i-0abc123", "i-0abc123", true},
		{"exact value", "i-0abc123", "i-0abc123", true},
		{"volume id", "something/vol-999", "vol-999", true},
		{"no match", "arn:aws:ec2:us-east-1:123:instance/i-0abc999", "", false},
		{"shorter than candidate", "i-0", "", false},
		{"empty input", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := idx.Lookup(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Lookup(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResourceMatcherPriority(t *testing.T) {
	// "shared" appears in all three sets; node wins.
	ids := Identifiers{
		NodeResourceIDs: set("shared", "i-node1"),
		PVNames:         set("shared", "pv-claim-1"),
		CSIHandles:      set("shared", "vol-csi-1"),
	}
	m := NewResourceMatcher(ids, 0, false)

	items := []types.CloudLineItem{
		{ResourceID: "arn:/shared"},
		{ResourceID: "arn:/pv-claim-1"},
		{ResourceID: "arn:/vol-csi-1"},
		{ResourceID: "arn:/unknown"},
		{ResourceID: ""},
	}
	got, err := m.Match(items)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}

	if !got[0].ResourceIDMatched || got[0].MatchType != types.MatchNode || got[0].MatchedResourceID != "shared" {
		t.Errorf("shared id: got %+v, want node match on shared", got[0])
	}
	if !got[1].ResourceIDMatched || got[1].MatchType != types.MatchPV {
		t.Errorf("pv id: got %+v, want pv match", got[1])
	}
	if !got[2].ResourceIDMatched || got[2].MatchType != types.MatchCSIHandle {
		t.Errorf("csi id: got %+v, want csi match", got[2])
	}
	if got[3].ResourceIDMatched || got[4].ResourceIDMatched {
		t.Errorf("unmatched rows flagged: %+v %+v", got[3], got[4])
	}
}

func TestResourceMatcherLowRateNotFatalByDefault(t *testing.T) {
	m := NewResourceMatcher(Identifiers{NodeResourceIDs: set("i-1")}, 0.5, false)
	items := []types.CloudLineItem{
		{ResourceID: "a"}, {ResourceID: "b"}, {ResourceID: "c"}, {ResourceID: "i-1"},
	}
	if _, err := m.Match(items); err != nil {
		t.Fatalf("low match rate should not error by default: %v", err)
	}

	fatal := NewResourceMatcher(Identifiers{NodeResourceIDs: set("i-1")}, 0.5, true)
	if _, err := fatal.Match(append([]types.CloudLineItem(nil), items...)); err == nil {
		t.Fatal("expected error with fatal threshold")
	}
}

func TestCollectIdentifiers(t *testing.T) {
	pods := []types.PodUsage{
		{Namespace: "app", Node: "node-1", ResourceID: "i-1"},
		{Namespace: "", Node: "", ResourceID: ""},
	}
	storage := []types.StorageUsage{
		{Namespace: "db", PersistentVolume: "pv-1", CSIVolumeHandle: "vol-1"},
		{Namespace: "db", PersistentVolume: "", CSIVolumeHandle: ""},
	}
	ids := CollectIdentifiers(pods, storage, "cluster-1", "alias-1")

	if _, ok := ids.NodeResourceIDs["i-1"]; !ok || len(ids.NodeResourceIDs) != 1 {
		t.Errorf("node resource ids = %v", ids.NodeResourceIDs)
	}
	if _, ok := ids.PVNames["pv-1"]; !ok || len(ids.PVNames) != 1 {
		t.Errorf("pv names = %v", ids.PVNames)
	}
	if _, ok := ids.CSIHandles["vol-1"]; !ok || len(ids.CSIHandles) != 1 {
		t.Errorf("csi handles = %v", ids.CSIHandles)
	}
	if len(ids.Nodes) != 1 || len(ids.Namespaces) != 2 {
		t.Errorf("nodes = %v, namespaces = %v", ids.Nodes, ids.Namespaces)
	}
}

func TestTagMatcherPriority(t *testing.T) {
	ids := Identifiers{
		ClusterID:    "cluster-1",
		ClusterAlias: "prod",
		Nodes:        set("node-1"),
		Namespaces:   set("app"),
	}
	m := NewTagMatcher(ids, nil)

	tests := []struct {
		name    string
		item    types.CloudLineItem
		matched bool
		tag     string
		cluster string
		node    string
		ns      string
	}{
		{
			name:    "cluster by id",
			item:    types.CloudLineItem{Tags: `{"openshift_cluster":"cluster-1"}`},
			matched: true, tag: "openshift_cluster=cluster-1", cluster: "cluster-1",
		},
		{
			name:    "cluster by alias",
			item:    types.CloudLineItem{Tags: `{"openshift_cluster":"prod"}`},
			matched: true, tag: "openshift_cluster=prod", cluster: "prod",
		},
		{
			name: "cluster beats node and project",
			item: types.CloudLineItem{
				Tags: `{"openshift_cluster":"prod","openshift_node":"node-1","openshift_project":"app"}`,
			},
			matched: true, tag: "openshift_cluster=prod", cluster: "prod",
		},
		{
			name:    "node beats project",
			item:    types.CloudLineItem{Tags: `{"openshift_node":"node-1","openshift_project":"app"}`},
			matched: true, tag: "openshift_node=node-1", node: "node-1",
		},
		{
			name:    "project only",
			item:    types.CloudLineItem{Tags: `{"openshift_project":"app"}`},
			matched: true, tag: "openshift_project=app", ns: "app",
		},
		{
			name: "cluster value unknown falls through to node",
			item: types.CloudLineItem{Tags: `{"openshift_cluster":"other","openshift_node":"node-1"}`},
			// an openshift_cluster key with a foreign value does not block
			// the lower-priority keys
			matched: true, tag: "openshift_node=node-1", node: "node-1",
		},
		{
			name:    "no openshift keys",
			item:    types.CloudLineItem{Tags: `{"team":"payments"}`},
			matched: false,
		},
		{
			name:    "invalid tag payload",
			item:    types.CloudLineItem{Tags: `not-json`},
			matched: false,
		},
		{
			name:    "resource-matched row skipped",
			item:    types.CloudLineItem{ResourceIDMatched: true, Tags: `{"openshift_cluster":"cluster-1"}`},
			matched: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match([]types.CloudLineItem{tt.item})[0]
			if got.TagMatched != tt.matched {
				t.Fatalf("TagMatched = %v, want %v", got.TagMatched, tt.matched)
			}
			if got.MatchedTag != tt.tag || got.MatchedCluster != tt.cluster ||
				got.MatchedNode != tt.node || got.MatchedNamespace != tt.ns {
				t.Errorf("got tag=%q cluster=%q node=%q ns=%q, want tag=%q cluster=%q node=%q ns=%q",
					got.MatchedTag, got.MatchedCluster, got.MatchedNode, got.MatchedNamespace,
					tt.tag, tt.cluster, tt.node, tt.ns)
			}
		})
	}
}

func TestTagMatcherEnabledKeysFilter(t *testing.T) {
	ids := Identifiers{ClusterID: "cluster-1", Nodes: set("node-1")}

	// openshift_node filtered out of the allow-list: only cluster can match.
	m := NewTagMatcher(ids, set("openshift_cluster"))
	got := m.Match([]types.CloudLineItem{
		{Tags: `{"openshift_node":"node-1"}`},
		{Tags: `{"openshift_cluster":"cluster-1"}`},
	})
	if got[0].TagMatched {
		t.Error("filtered key should not match")
	}
	if !got[1].TagMatched {
		t.Error("allowed key should match")
	}
}
