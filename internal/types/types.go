package types

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Tab represents a single live browser tab as reported by the extension.
type Tab struct {
	ID           int
	URL          string
	PendingURL   string // set while a navigation is in flight
	Title        string
	Status       string // "loading" or "complete"
	WindowID     int
	GroupID      int // NoGroup if ungrouped
	OpenerTabID  int // 0 if the browser did not report an opener
	Index        int
	Active       bool
	LastAccessed time.Time
}

// NoGroup is the group id the browser reports for ungrouped tabs.
const NoGroup = -1

// TabStatusComplete is the terminal load status of a tab.
const TabStatusComplete = "complete"

// Grouped reports whether the tab currently belongs to a tab group.
func (t *Tab) Grouped() bool {
	return t.GroupID > 0
}

// EffectiveURL returns the committed URL, or the pending one while the
// first navigation has not committed yet.
func (t *Tab) EffectiveURL() string {
	if t.URL != "" {
		return t.URL
	}
	return t.PendingURL
}

// TabGroup represents a browser tab group.
type TabGroup struct {
	ID        int
	Title     string
	Color     string
	Collapsed bool
	WindowID  int
}

// Window is the subset of browser window state the engine needs.
type Window struct {
	ID      int
	Focused bool
}

// Navigation is a pending top-level navigation reported before it commits.
type Navigation struct {
	TabID    int
	URL      string
	FrameID  int // 0 for the top-level frame
	WindowID int
}

// GroupNameSource selects how a group's display name is derived.
type GroupNameSource string

const (
	SourceTitle       GroupNameSource = "title"
	SourceURL         GroupNameSource = "url"
	SourceManual      GroupNameSource = "manual"
	SourceSmart       GroupNameSource = "smart"
	SourceSmartLabel  GroupNameSource = "smart_label"
	SourceSmartPreset GroupNameSource = "smart_preset"
	SourceSmartManual GroupNameSource = "smart_manual"
)

// GroupNameSources lists every known name source in declaration order.
var GroupNameSources = []GroupNameSource{
	SourceTitle, SourceURL, SourceManual, SourceSmart,
	SourceSmartLabel, SourceSmartPreset, SourceSmartManual,
}

// Valid reports whether s is a known name source.
func (s GroupNameSource) Valid() bool {
	for _, known := range GroupNameSources {
		if s == known {
			return true
		}
	}
	return false
}

// Interactive reports whether the source asks the user for the name.
func (s GroupNameSource) Interactive() bool {
	return s == SourceManual || s == SourceSmartManual
}

// MatchMode is the equivalence relation used to detect duplicate tabs.
type MatchMode string

const (
	MatchExact        MatchMode = "exact"
	MatchIncludes     MatchMode = "includes"
	MatchHostname     MatchMode = "hostname"
	MatchHostnamePath MatchMode = "hostname_path"
)

// MatchModes lists every known deduplication match mode.
var MatchModes = []MatchMode{MatchExact, MatchIncludes, MatchHostname, MatchHostnamePath}

// Valid reports whether m is a known match mode.
func (m MatchMode) Valid() bool {
	for _, known := range MatchModes {
		if m == known {
			return true
		}
	}
	return false
}

// DomainRule is a user-authored association between a host pattern and
// grouping/deduplication behavior. Rule order is match priority.
type DomainRule struct {
	ID                     string          `json:"id" yaml:"id"`
	DomainFilter           string          `json:"domainFilter" yaml:"domainFilter"`
	Label                  string          `json:"label" yaml:"label"`
	TitleParsingRegEx      string          `json:"titleParsingRegEx,omitempty" yaml:"titleParsingRegEx,omitempty"`
	URLParsingRegEx        string          `json:"urlParsingRegEx,omitempty" yaml:"urlParsingRegEx,omitempty"`
	GroupNameSource        GroupNameSource `json:"groupNameSource" yaml:"groupNameSource"`
	DeduplicationMatchMode MatchMode       `json:"deduplicationMatchMode" yaml:"deduplicationMatchMode"`
	DeduplicationEnabled   bool            `json:"deduplicationEnabled" yaml:"deduplicationEnabled"`
	Color                  string          `json:"color,omitempty" yaml:"color,omitempty"`
	GroupID                string          `json:"groupId,omitempty" yaml:"groupId,omitempty"`
	PresetID               string          `json:"presetId,omitempty" yaml:"presetId,omitempty"`
	Enabled                bool            `json:"enabled" yaml:"enabled"`
}

// UnmarshalYAML treats a rule without an enabled key as enabled.
func (r *DomainRule) UnmarshalYAML(value *yaml.Node) error {
	type plain DomainRule
	p := plain{Enabled: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = DomainRule(p)
	return nil
}

// LogicalGroup is a user-defined label/color association referenced by
// DomainRule.GroupID.
type LogicalGroup struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Color string `json:"color" yaml:"color"`
}

// UndoAction describes how to revert the action a notification reports.
type UndoAction struct {
	Type   string `json:"type"`
	TabIDs []int  `json:"tabIds"`
}

// UndoUngroup is the only undo action type the engine produces.
const UndoUngroup = "ungroup"

// Notification is a transient, optionally revocable confirmation shown
// after a grouping or deduplication action.
type Notification struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Message    string      `json:"message"`
	UndoAction *UndoAction `json:"undoAction,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Stats holds the engine's monotonically increasing counters.
type Stats struct {
	GroupsCreated    int64 `json:"groupsCreated"`
	TabsDeduplicated int64 `json:"tabsDeduplicated"`
}

// Counter names as persisted in storage.
const (
	CounterGroupsCreated    = "groups_created"
	CounterTabsDeduplicated = "tabs_deduplicated"
)

// RuleDocumentVersion is the current version of the rule export format.
const RuleDocumentVersion = 1

// RuleDocument is the portable export of a rule set.
type RuleDocument struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exportedAt"`
	Rules      []DomainRule   `json:"rules"`
	Groups     []LogicalGroup `json:"groups,omitempty"`
}
