package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/rules"
	"github.com/lotas/tabgruppen/internal/types"
)

// Settings is the user-editable grouping and deduplication configuration.
type Settings struct {
	GroupingEnabled      bool                 `yaml:"groupingEnabled" json:"groupingEnabled"`
	DeduplicationEnabled bool                 `yaml:"deduplicationEnabled" json:"deduplicationEnabled"`
	DefaultMatchMode     types.MatchMode      `yaml:"defaultMatchMode" json:"defaultMatchMode"`
	CollapseGroups       bool                 `yaml:"collapseGroups" json:"collapseGroups"`
	ShowNotifications    bool                 `yaml:"showNotifications" json:"showNotifications"`
	Rules                []types.DomainRule   `yaml:"rules" json:"rules"`
	Groups               []types.LogicalGroup `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		GroupingEnabled:      true,
		DeduplicationEnabled: true,
		DefaultMatchMode:     types.MatchExact,
		ShowNotifications:    true,
	}
}

// Problem is an enabled rule that failed validation and was disabled.
type Problem struct {
	Index  int
	Rule   types.DomainRule
	Errors []rules.FieldError
}

// LoadSettings reads settings from path. A missing file yields the
// defaults. Rules are back-filled and invalid ones are disabled.
func LoadSettings(path string) (Settings, error) {
	s, _, err := CheckSettings(path)
	return s, err
}

// CheckSettings is LoadSettings that also reports the rules it disabled.
func CheckSettings(path string) (Settings, []Problem, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil, nil
	}
	if err != nil {
		return s, nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, s.Normalize(), nil
}

// SaveSettings writes settings to path, creating the directory if needed.
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Normalize fills fields older settings files lack and disables rules that
// fail validation:
//   - a rule without id gets a fresh one
//   - an empty name source becomes title when a title pattern is set,
//     smart_label otherwise
//   - an empty or unknown default mode becomes exact, and an empty rule
//     mode becomes the default mode
func (s *Settings) Normalize() []Problem {
	var problems []Problem
	if !s.DefaultMatchMode.Valid() {
		s.DefaultMatchMode = types.MatchExact
	}
	seen := make(map[string]bool, len(s.Rules))
	for i := range s.Rules {
		r := &s.Rules[i]
		if r.ID == "" || seen[r.ID] {
			r.ID = uuid.NewString()
		}
		seen[r.ID] = true
		if r.GroupNameSource == "" {
			if r.TitleParsingRegEx != "" {
				r.GroupNameSource = types.SourceTitle
			} else {
				r.GroupNameSource = types.SourceSmartLabel
			}
		}
		if r.DeduplicationMatchMode == "" {
			r.DeduplicationMatchMode = s.DefaultMatchMode
		}
		if !r.Enabled {
			continue
		}
		if errs := rules.Validate(*r); len(errs) > 0 {
			r.Enabled = false
			for _, fe := range errs {
				applog.Warn("settings.rule_invalid", fe, "rule", r.ID, "label", r.Label)
			}
			problems = append(problems, Problem{Index: i, Rule: *r, Errors: errs})
		}
	}
	return problems
}
