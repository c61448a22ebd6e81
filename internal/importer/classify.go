// Package importer validates imported rule documents and classifies the
// rules they carry against the rules already configured.
package importer

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lotas/tabgruppen/internal/types"
)

// FieldDiff is one differing field between an existing and an imported
// rule. Field uses the persisted (JSON) name.
type FieldDiff struct {
	Field    string `json:"field"`
	Existing string `json:"existing"`
	Imported string `json:"imported"`
}

// Conflict pairs an imported rule with the existing rule sharing its label.
type Conflict struct {
	Imported types.DomainRule `json:"imported"`
	Existing types.DomainRule `json:"existing"`
	Diffs    []FieldDiff      `json:"diffs"`
}

// Result partitions an imported rule list. Every imported rule lands in
// exactly one of the three lists, in import order.
type Result struct {
	New         []types.DomainRule `json:"newRules"`
	Conflicting []Conflict         `json:"conflictingRules"`
	Identical   []types.DomainRule `json:"identicalRules"`
}

// Total returns the number of classified rules.
func (r Result) Total() int {
	return len(r.New) + len(r.Conflicting) + len(r.Identical)
}

type field struct {
	name string
	get  func(r *types.DomainRule) string
}

// compared lists every persisted field except id and label. label is the
// join key and is matched case-insensitively.
var compared = []field{
	{"domainFilter", func(r *types.DomainRule) string { return r.DomainFilter }},
	{"titleParsingRegEx", func(r *types.DomainRule) string { return r.TitleParsingRegEx }},
	{"urlParsingRegEx", func(r *types.DomainRule) string { return r.URLParsingRegEx }},
	{"groupNameSource", func(r *types.DomainRule) string { return string(r.GroupNameSource) }},
	{"deduplicationMatchMode", func(r *types.DomainRule) string { return string(r.DeduplicationMatchMode) }},
	{"deduplicationEnabled", func(r *types.DomainRule) string { return strconv.FormatBool(r.DeduplicationEnabled) }},
	{"color", func(r *types.DomainRule) string { return r.Color }},
	{"groupId", func(r *types.DomainRule) string { return r.GroupID }},
	{"presetId", func(r *types.DomainRule) string { return r.PresetID }},
	{"enabled", func(r *types.DomainRule) string { return strconv.FormatBool(r.Enabled) }},
}

func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Classify sorts imported rules into new, conflicting and identical
// relative to existing, keyed by case-insensitive label. When existing
// holds several rules with one label, the first is used.
func Classify(existing, imported []types.DomainRule) Result {
	index := make(map[string]int, len(existing))
	for i := range existing {
		key := labelKey(existing[i].Label)
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	var res Result
	for i := range imported {
		in := imported[i]
		j, ok := index[labelKey(in.Label)]
		if !ok {
			res.New = append(res.New, in)
			continue
		}
		diffs := Diff(&existing[j], &in)
		if len(diffs) == 0 {
			res.Identical = append(res.Identical, in)
			continue
		}
		res.Conflicting = append(res.Conflicting, Conflict{
			Imported: in,
			Existing: existing[j],
			Diffs:    diffs,
		})
	}
	return res
}

// Diff returns the comparable fields that differ between a and b.
func Diff(a, b *types.DomainRule) []FieldDiff {
	var out []FieldDiff
	for _, f := range compared {
		av, bv := f.get(a), f.get(b)
		if av != bv {
			out = append(out, FieldDiff{Field: f.name, Existing: av, Imported: bv})
		}
	}
	return out
}

// Merge applies a classification to existing: new rules are appended and
// conflicting rules replace their counterpart in place when overwrite is
// set. Replaced rules keep the existing id; new rules get a fresh id when
// theirs is empty or already taken. Identical rules change nothing.
func Merge(existing []types.DomainRule, res Result, overwrite bool) []types.DomainRule {
	out := append([]types.DomainRule(nil), existing...)
	if overwrite {
		for _, c := range res.Conflicting {
			for i := range out {
				if out[i].ID == c.Existing.ID && labelKey(out[i].Label) == labelKey(c.Existing.Label) {
					r := c.Imported
					r.ID = out[i].ID
					out[i] = r
					break
				}
			}
		}
	}
	ids := make(map[string]bool, len(out))
	for _, r := range out {
		ids[r.ID] = true
	}
	for _, r := range res.New {
		if r.ID == "" || ids[r.ID] {
			r.ID = uuid.NewString()
		}
		ids[r.ID] = true
		out = append(out, r)
	}
	return out
}
