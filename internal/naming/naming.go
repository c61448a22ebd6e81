// Package naming derives tab group display names from a domain rule and the
// opener tab's current title and URL.
package naming

import (
	"regexp"
	"strings"
	"sync"

	"github.com/lotas/tabgruppen/internal/types"
)

// DefaultName is used when neither a strategy nor the rule label yields a
// name.
const DefaultName = "New Group"

// Opener is the snapshot of the opener tab a name is derived from.
type Opener struct {
	Title string
	URL   string
}

// Resolution is the outcome of resolving a group name. For interactive
// sources Name is provisional: it titles the group until the user answers
// the naming prompt, and is offered as the prompt's default.
type Resolution struct {
	Name        string
	Interactive bool
	Source      types.GroupNameSource
}

type strategy func(r *types.DomainRule, o Opener) (string, bool)

var strategies = map[types.GroupNameSource]strategy{
	types.SourceTitle: func(r *types.DomainRule, o Opener) (string, bool) {
		return extract(r.TitleParsingRegEx, o.Title)
	},
	types.SourceURL: func(r *types.DomainRule, o Opener) (string, bool) {
		return extract(r.URLParsingRegEx, o.URL)
	},
	types.SourceSmart: smart,
	types.SourceSmartLabel: func(r *types.DomainRule, o Opener) (string, bool) {
		if name, ok := smart(r, o); ok {
			return name, true
		}
		return nonEmpty(r.Label)
	},
	types.SourceSmartPreset: func(r *types.DomainRule, o Opener) (string, bool) {
		if name, ok := smart(r, o); ok {
			return name, true
		}
		return nonEmpty(r.PresetID)
	},
	// The answer comes from the user; until then the group carries the
	// fallback name.
	types.SourceManual: func(*types.DomainRule, Opener) (string, bool) {
		return "", false
	},
	types.SourceSmartManual: smart,
}

// Resolve derives the group name for rule given the opener's current state.
// Sources without a table entry, and every failed strategy, end in the
// unconditional fallback: the rule label, else DefaultName.
func Resolve(rule *types.DomainRule, opener Opener) Resolution {
	if rule == nil {
		return Resolution{Name: DefaultName}
	}
	res := Resolution{
		Source:      rule.GroupNameSource,
		Interactive: rule.GroupNameSource.Interactive(),
	}
	if fn, ok := strategies[rule.GroupNameSource]; ok {
		if name, ok := fn(rule, opener); ok {
			res.Name = name
			return res
		}
	}
	res.Name = Fallback(rule)
	return res
}

// Fallback returns the rule label if non-empty, otherwise DefaultName.
func Fallback(rule *types.DomainRule) string {
	if rule != nil {
		if label := strings.TrimSpace(rule.Label); label != "" {
			return label
		}
	}
	return DefaultName
}

// smart tries the title pattern first, then the URL pattern, using
// whichever are populated.
func smart(r *types.DomainRule, o Opener) (string, bool) {
	if r.TitleParsingRegEx != "" {
		if name, ok := extract(r.TitleParsingRegEx, o.Title); ok {
			return name, true
		}
	}
	if r.URLParsingRegEx != "" {
		if name, ok := extract(r.URLParsingRegEx, o.URL); ok {
			return name, true
		}
	}
	return "", false
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

var (
	patternMu    sync.Mutex
	patternCache = make(map[string]*regexp.Regexp)
)

// extract applies pattern to input and returns capture group 1, trimmed.
// An empty or uncompilable pattern, no match, a missing group, or an empty
// capture all count as failure.
func extract(pattern, input string) (name string, ok bool) {
	if pattern == "" || input == "" {
		return "", false
	}
	re := compile(pattern)
	if re == nil {
		return "", false
	}
	defer func() {
		if recover() != nil {
			name, ok = "", false
		}
	}()
	m := re.FindStringSubmatch(input)
	if len(m) < 2 {
		return "", false
	}
	return nonEmpty(m[1])
}

func compile(pattern string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	patternCache[pattern] = re
	return re
}
