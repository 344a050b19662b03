package models

// Reserved filter identifiers
const (
	// UserFilterID holds the rules the user wrote by hand.
	UserFilterID = 0
	// AllowListFilterID tags rules synthesized from the allow-list.
	AllowListFilterID = -1
	// FirstCustomFilterID is the lowest id handed out to custom subscriptions.
	FirstCustomFilterID = 1000
)

// Rule is a single line of filter text together with the filter it came from
type Rule struct {
	FilterID int
	Text     string
}

// RulesFromLines tags every line with filterID, skipping empty lines.
func RulesFromLines(filterID int, lines []string) []Rule {
	rules := make([]Rule, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		rules = append(rules, Rule{FilterID: filterID, Text: l})
	}
	return rules
}

// Texts returns the rule texts in order.
func Texts(rules []Rule) []string {
	texts := make([]string, len(rules))
	for i, r := range rules {
		texts[i] = r.Text
	}
	return texts
}
