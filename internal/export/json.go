package export

import (
	"encoding/json"
	"time"

	"github.com/lotas/tabgruppen/internal/types"
)

// Document builds the portable rule document for a rule set.
func Document(rules []types.DomainRule, groups []types.LogicalGroup, now time.Time) types.RuleDocument {
	if rules == nil {
		rules = []types.DomainRule{}
	}
	return types.RuleDocument{
		Version:    types.RuleDocumentVersion,
		ExportedAt: now.UTC(),
		Rules:      rules,
		Groups:     groups,
	}
}

// JSON formats a rule set as an import-compatible JSON document.
func JSON(rules []types.DomainRule, groups []types.LogicalGroup) (string, error) {
	b, err := json.MarshalIndent(Document(rules, groups, time.Now()), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
