package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lotas/tabgruppen/internal/types"
)

var errEmptyFilter = errors.New("empty domain filter")

// FieldError is a single validation failure on a rule field. Field uses
// the persisted (JSON) field name.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks a rule against the persisted-rule invariants: the domain
// filter compiles, enums are known, and the regex required by a title or
// url name source is present and compiles. A nil result means valid.
func Validate(r types.DomainRule) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(r.DomainFilter) == "" {
		errs = append(errs, FieldError{"domainFilter", "is required"})
	} else if _, err := compileFilter(r.DomainFilter); err != nil {
		errs = append(errs, FieldError{"domainFilter", fmt.Sprintf("invalid pattern: %v", err)})
	}

	if r.GroupNameSource != "" && !r.GroupNameSource.Valid() {
		errs = append(errs, FieldError{"groupNameSource", fmt.Sprintf("unknown source %q", r.GroupNameSource)})
	}
	if r.DeduplicationMatchMode != "" && !r.DeduplicationMatchMode.Valid() {
		errs = append(errs, FieldError{"deduplicationMatchMode", fmt.Sprintf("unknown mode %q", r.DeduplicationMatchMode)})
	}

	switch r.GroupNameSource {
	case types.SourceTitle:
		if fe := requirePattern("titleParsingRegEx", r.TitleParsingRegEx); fe != nil {
			errs = append(errs, *fe)
		}
	case types.SourceURL:
		if fe := requirePattern("urlParsingRegEx", r.URLParsingRegEx); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

func requirePattern(field, pattern string) *FieldError {
	if strings.TrimSpace(pattern) == "" {
		return &FieldError{field, "is required for this group name source"}
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return &FieldError{field, fmt.Sprintf("does not compile: %v", err)}
	}
	return nil
}

// ValidateAll validates every rule and returns the failures keyed by the
// rule's index in list.
func ValidateAll(list []types.DomainRule) map[int][]FieldError {
	out := make(map[int][]FieldError)
	for i, r := range list {
		if errs := Validate(r); len(errs) > 0 {
			out[i] = errs
		}
	}
	return out
}
