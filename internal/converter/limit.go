package converter

import (
	"encoding/json"

	"github.com/bnema/cbsync/internal/models"
)

// MaxRules is Safari/WebKit's limit per content blocker
const MaxRules = 50000

// Truncate keeps the first limit entries. Entries are ordered by priority
// (home group rules, then affinity overflow, then allow-list rules), so
// the tail is what gets dropped.
func Truncate(rules []models.WebKitRule, limit int) ([]models.WebKitRule, bool) {
	if limit <= 0 {
		limit = MaxRules
	}
	if len(rules) <= limit {
		return rules, false
	}
	return rules[:limit:limit], true
}

// Deduplicate removes repeated entries, keeping the first occurrence
func Deduplicate(rules []models.WebKitRule) []models.WebKitRule {
	seen := make(map[string]struct{}, len(rules))
	result := make([]models.WebKitRule, 0, len(rules))

	for _, r := range rules {
		key, err := json.Marshal(r)
		if err != nil {
			result = append(result, r)
			continue
		}

		if _, ok := seen[string(key)]; !ok {
			seen[string(key)] = struct{}{}
			result = append(result, r)
		}
	}

	return result
}
