package importer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lotas/tabgruppen/internal/rules"
	"github.com/lotas/tabgruppen/internal/types"
)

// Issue is one problem found in an import document. Path is a gjson path
// such as "rules.2.groupNameSource"; an empty path means the whole document.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError rejects an import document as a whole.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid import document: " + e.Issues[0].String()
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("invalid import document (%d issues): %s", len(e.Issues), strings.Join(parts, "; "))
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

var ruleStringFields = []string{
	"id", "domainFilter", "label", "titleParsingRegEx", "urlParsingRegEx",
	"groupNameSource", "deduplicationMatchMode", "color", "groupId", "presetId",
}

var ruleBoolFields = []string{"deduplicationEnabled", "enabled"}

// ParseDocument validates and decodes an import document. It accepts the
// export document {version, exportedAt, rules, groups} or a bare array of
// rules. Any issue rejects the document; nothing is partially imported.
func ParseDocument(data []byte) (*types.RuleDocument, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ValidationError{Issues: []Issue{{Message: "not valid JSON"}}}
	}

	root := gjson.ParseBytes(data)
	var (
		issues []Issue
		list   gjson.Result
		prefix string
		doc    = &types.RuleDocument{Version: types.RuleDocumentVersion}
	)

	switch {
	case root.IsArray():
		list = root
	case root.IsObject():
		prefix = "rules."
		list = root.Get("rules")
		if !list.IsArray() {
			issues = append(issues, Issue{"rules", "must be an array"})
		}
		if v := root.Get("version"); v.Exists() {
			if v.Type != gjson.Number || v.Int() < 1 {
				issues = append(issues, Issue{"version", "must be a positive number"})
			} else if v.Int() > types.RuleDocumentVersion {
				issues = append(issues, Issue{"version", fmt.Sprintf("unsupported version %d", v.Int())})
			} else {
				doc.Version = int(v.Int())
			}
		}
		if g := root.Get("groups"); g.Exists() {
			issues = append(issues, checkGroups(g, &doc.Groups)...)
		}
	default:
		return nil, &ValidationError{Issues: []Issue{{Message: "must be an object or an array of rules"}}}
	}

	if list.IsArray() {
		for i, el := range list.Array() {
			path := prefix + strconv.Itoa(i)
			r, ruleIssues := checkRule(path, el)
			issues = append(issues, ruleIssues...)
			if len(ruleIssues) == 0 {
				doc.Rules = append(doc.Rules, r)
			}
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return doc, nil
}

func checkRule(path string, el gjson.Result) (types.DomainRule, []Issue) {
	var r types.DomainRule
	if !el.IsObject() {
		return r, []Issue{{path, "must be an object"}}
	}

	var issues []Issue
	for _, f := range ruleStringFields {
		if v := el.Get(f); v.Exists() && v.Type != gjson.String && v.Type != gjson.Null {
			issues = append(issues, Issue{path + "." + f, "must be a string"})
		}
	}
	for _, f := range ruleBoolFields {
		if v := el.Get(f); v.Exists() && !v.IsBool() {
			issues = append(issues, Issue{path + "." + f, "must be a boolean"})
		}
	}
	if strings.TrimSpace(el.Get("label").String()) == "" {
		issues = append(issues, Issue{path + ".label", "is required"})
	}
	if len(issues) > 0 {
		return r, issues
	}

	if err := json.Unmarshal([]byte(el.Raw), &r); err != nil {
		return r, []Issue{{path, err.Error()}}
	}
	if !el.Get("enabled").Exists() {
		r.Enabled = true
	}
	for _, fe := range rules.Validate(r) {
		issues = append(issues, Issue{path + "." + fe.Field, fe.Message})
	}
	return r, issues
}

func checkGroups(g gjson.Result, out *[]types.LogicalGroup) []Issue {
	if !g.IsArray() {
		return []Issue{{"groups", "must be an array"}}
	}
	var issues []Issue
	for i, el := range g.Array() {
		path := "groups." + strconv.Itoa(i)
		if !el.IsObject() {
			issues = append(issues, Issue{path, "must be an object"})
			continue
		}
		if id := el.Get("id"); id.Type != gjson.String || id.String() == "" {
			issues = append(issues, Issue{path + ".id", "is required"})
			continue
		}
		*out = append(*out, types.LogicalGroup{
			ID:    el.Get("id").String(),
			Label: el.Get("label").String(),
			Color: el.Get("color").String(),
		})
	}
	return issues
}
