// Package labels implements label parsing, merging, and canonical
// serialization. Canonical JSON is the contract with the relational side and
// must round-trip through a second parser without loss.
package labels

import (
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// FixedEnabledKey is always retained regardless of the configured
// enabled-keys list.
const FixedEnabledKey = "vm_kubevirt_io_name"

// Set is a flat string-to-string label mapping.
type Set map[string]string

// parseWarned dedups the once-per-phase parse warning. Counts live in the
// parse-failure metric.
var parseWarned = map[string]bool{}

// Parse parses a label payload into a Set. Two input shapes are accepted:
// JSON ({"k":"v"}) and pipe-delimited (label_k:v|label_k2:v2, with the
// label_ prefix stripped). Parsing fails soft: invalid input yields an empty
// Set and a WARN, counted per phase.
func Parse(payload, phase string) Set {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "{}" {
		return Set{}
	}

	if strings.HasPrefix(payload, "{") {
		out := Set{}
		if err := json.Unmarshal([]byte(payload), &out); err != nil {
			warnParse(phase, err)
			return Set{}
		}
		return out
	}

	out := Set{}
	for _, pair := range strings.Split(payload, "|") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			warnParse(phase, nil)
			return Set{}
		}
		k = strings.TrimPrefix(k, "label_")
		out[k] = v
	}
	return out
}

func warnParse(phase string, err error) {
	metrics.ParseFailures.WithLabelValues(phase).Inc()
	if !parseWarned[phase] {
		parseWarned[phase] = true
		logging.Warn("unparseable label payload, emitting empty map",
			zap.String("phase", phase), zap.Error(err))
	}
}

// Filter returns the subset of s whose keys are in enabled. A nil enabled
// set allows all keys.
func (s Set) Filter(enabled map[string]struct{}) Set {
	if enabled == nil {
		return s
	}
	out := Set{}
	for k, v := range s {
		if _, ok := enabled[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Merge merges sets left to right with right-wins semantics.
func Merge(sets ...Set) Set {
	out := Set{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// CanonicalJSON serializes s with sorted keys and compact separators.
func CanonicalJSON(s Set) string {
	if len(s) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(s[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

// ParseCanonical parses a canonical JSON string back into a Set. Unlike
// Parse it is strict; the round-trip property is part of the sink contract.
func ParseCanonical(js string) (Set, error) {
	out := Set{}
	if err := json.Unmarshal([]byte(js), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnabledSet builds the enabled-keys allow-list, always augmented with
// FixedEnabledKey.
func EnabledSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys)+1)
	out[FixedEnabledKey] = struct{}{}
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// ValidJSONOrEmpty returns s when it parses as JSON, otherwise "{}". Used at
// output formatting so the relational side only ever sees parseable JSON.
func ValidJSONOrEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	if json.Valid([]byte(s)) {
		return s
	}
	return "{}"
}
