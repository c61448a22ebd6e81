package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/tabgruppen/internal/storage"
	"github.com/lotas/tabgruppen/internal/types"
)

const ungrouped = "Ungrouped"

// Markdown formats a rule set as a markdown document, one section per
// logical group in rule order, followed by the recent action history.
func Markdown(rules []types.DomainRule, groups []types.LogicalGroup, actions []storage.Action) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Tab Rules\n")
	fmt.Fprintf(&b, "> Exported %s\n", time.Now().Format("2006-01-02 15:04"))

	labels := make(map[string]string, len(groups))
	for _, g := range groups {
		labels[g.ID] = g.Label
	}

	var order []string
	sections := make(map[string][]types.DomainRule)
	for _, r := range rules {
		name := ungrouped
		if l, ok := labels[r.GroupID]; ok && l != "" {
			name = l
		} else if r.GroupID != "" {
			name = r.GroupID
		}
		if _, ok := sections[name]; !ok {
			order = append(order, name)
		}
		sections[name] = append(sections[name], r)
	}

	for _, name := range order {
		list := sections[name]
		noun := "rules"
		if len(list) == 1 {
			noun = "rule"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", name, len(list), noun)
		for _, r := range list {
			fmt.Fprintf(&b, "- %s\n", ruleLine(r))
		}
	}

	if len(actions) > 0 {
		fmt.Fprintf(&b, "\n## Recent actions\n\n")
		for _, a := range actions {
			line := fmt.Sprintf("- %s: %s (%d tabs) — %s", a.Title, a.Message, len(a.TabIDs), relativeTime(a.CreatedAt))
			if a.UndoneAt != nil {
				line += ", undone"
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

func ruleLine(r types.DomainRule) string {
	label := r.Label
	if label == "" {
		label = r.DomainFilter
	}
	s := fmt.Sprintf("**%s** `%s` name: %s", label, r.DomainFilter, r.GroupNameSource)
	if r.TitleParsingRegEx != "" {
		s += fmt.Sprintf(" title `%s`", r.TitleParsingRegEx)
	}
	if r.URLParsingRegEx != "" {
		s += fmt.Sprintf(" url `%s`", r.URLParsingRegEx)
	}
	if r.DeduplicationEnabled {
		s += fmt.Sprintf(", dedup %s", r.DeduplicationMatchMode)
	}
	if !r.Enabled {
		s += " (disabled)"
	}
	return s
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
