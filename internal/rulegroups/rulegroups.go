// Package rulegroups splits the active rule set into the six content
// blockers, honoring !#safari_cb_affinity directives found in rule lists.
package rulegroups

import (
	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/bnema/cbsync/internal/parser"
)

// CategoryProvider lists the filters of a catalog category in display order
type CategoryProvider interface {
	FiltersInCategory(categoryID int) []models.FilterMetadata
}

// group binds an output group to the catalog categories it absorbs
type group struct {
	key        models.OutputGroup
	categories []int
}

var groups = []group{
	{key: models.GroupGeneral, categories: []int{models.CategoryAdBlocking, models.CategoryLanguageSpecific}},
	{key: models.GroupPrivacy, categories: []int{models.CategoryPrivacy}},
	{key: models.GroupSecurity, categories: []int{models.CategorySecurity}},
	{key: models.GroupSocial, categories: []int{models.CategorySocial, models.CategoryAnnoyances}},
	{key: models.GroupOther, categories: []int{models.CategoryOther}},
	{key: models.GroupCustom, categories: []int{models.CategoryCustomFilters}},
}

// groupsByAffinity maps directive block names to output groups
var groupsByAffinity = map[string][]models.OutputGroup{
	"general":  {models.GroupGeneral},
	"privacy":  {models.GroupPrivacy},
	"security": {models.GroupSecurity},
	"social":   {models.GroupSocial},
	"other":    {models.GroupOther},
	"custom":   {models.GroupCustom},
	"all":      models.OutputGroups,
}

// Categories returns the catalog categories backing an output group
func Categories(key models.OutputGroup) []int {
	for _, g := range groups {
		if g.key == key {
			return append([]int(nil), g.categories...)
		}
	}
	return nil
}

// Grouper partitions rules into output groups
type Grouper struct {
	categories CategoryProvider
	logger     log.Logger
}

// New creates a Grouper reading category membership from categories
func New(categories CategoryProvider, logger log.Logger) *Grouper {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Grouper{categories: categories, logger: logger}
}

// Group returns the six output groups in their fixed order.
//
// Within a group, rules follow category order, then filter order within
// the category, then line order within the filter; user rules come after
// the category filters. Rules moved by an affinity directive are appended
// after the group's own rules, in the order they were met. Directive lines
// are never emitted.
func (g *Grouper) Group(rules []models.Rule) []models.RuleGroup {
	byFilter := indexByFilter(rules)

	natural := make(map[models.OutputGroup][]models.Rule, len(groups))
	overflow := make(map[models.OutputGroup][]models.Rule, len(groups))

	for i, grp := range groups {
		var list []models.Rule
		for _, categoryID := range grp.categories {
			for _, f := range g.categories.FiltersInCategory(categoryID) {
				if f.FilterID == models.UserFilterID {
					continue
				}
				list = g.sortWithAffinityBlocks(byFilter[f.FilterID], list, overflow)
			}
		}

		// User rules belong to every group, but their diverted rules are
		// collected on the first pass only.
		userOverflow := overflow
		if i > 0 {
			userOverflow = nil
		}
		list = g.sortWithAffinityBlocks(byFilter[models.UserFilterID], list, userOverflow)

		natural[grp.key] = list
	}

	result := make([]models.RuleGroup, 0, len(groups))
	for _, grp := range groups {
		list := natural[grp.key]
		if extra := overflow[grp.key]; len(extra) > 0 {
			list = append(list, extra...)
		}

		g.logger.Debug(map[string]any{
			"group":    string(grp.key),
			"rules":    len(list),
			"affinity": len(overflow[grp.key]),
		}, "Rules grouped")

		result = append(result, models.RuleGroup{Key: grp.key, Rules: list})
	}

	return result
}

// sortWithAffinityBlocks walks one filter's rules, appending undirected
// rules to into and directed ones to overflow. A nil overflow drops
// directed rules.
func (g *Grouper) sortWithAffinityBlocks(filterRules, into []models.Rule, overflow map[models.OutputGroup][]models.Rule) []models.Rule {
	var active []models.OutputGroup

	for _, rule := range filterRules {
		kind, names := parser.Directive(rule.Text)
		switch {
		case kind == parser.ScopedDirective:
			active = g.resolveBlocks(names)
		case kind == parser.ResetDirective:
			active = nil
		case len(active) > 0:
			if overflow == nil {
				continue
			}
			for _, key := range active {
				overflow[key] = append(overflow[key], rule)
			}
		default:
			into = append(into, rule)
		}
	}

	return into
}

// resolveBlocks maps directive block names to distinct output groups.
// Unknown names resolve to nothing.
func (g *Grouper) resolveBlocks(names []string) []models.OutputGroup {
	var result []models.OutputGroup
	seen := make(map[models.OutputGroup]bool, len(names))

	for _, name := range names {
		keys, ok := groupsByAffinity[name]
		if !ok {
			g.logger.Debug(map[string]any{"block": name}, "Ignoring unknown affinity block")
			continue
		}
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				result = append(result, key)
			}
		}
	}

	return result
}

// indexByFilter groups rules by filter id, keeping their order
func indexByFilter(rules []models.Rule) map[int][]models.Rule {
	byFilter := make(map[int][]models.Rule)
	for _, r := range rules {
		byFilter[r.FilterID] = append(byFilter[r.FilterID], r)
	}
	return byFilter
}
