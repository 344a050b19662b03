package rulegroups

import (
	"testing"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticCategories is a fixed category -> filters mapping
type staticCategories map[int][]int

func (s staticCategories) FiltersInCategory(categoryID int) []models.FilterMetadata {
	var result []models.FilterMetadata
	for _, id := range s[categoryID] {
		result = append(result, models.FilterMetadata{FilterID: id, GroupID: categoryID})
	}
	return result
}

var testCategories = staticCategories{
	models.CategoryAdBlocking:       {1, 2},
	models.CategoryPrivacy:          {3},
	models.CategorySocial:           {4},
	models.CategoryAnnoyances:       {14},
	models.CategorySecurity:         {15},
	models.CategoryOther:            {16},
	models.CategoryLanguageSpecific: {7},
	models.CategoryCustomFilters:    {1000},
}

func rule(filterID int, text string) models.Rule {
	return models.Rule{FilterID: filterID, Text: text}
}

func texts(g models.RuleGroup) []string {
	return models.Texts(g.Rules)
}

func byKey(t *testing.T, grouped []models.RuleGroup, key models.OutputGroup) models.RuleGroup {
	t.Helper()
	for _, g := range grouped {
		if g.Key == key {
			return g
		}
	}
	t.Fatalf("group %s missing", key)
	return models.RuleGroup{}
}

func newGrouper() *Grouper {
	return New(testCategories, log.NewNoopLogger())
}

func TestGroupAffinityDirectives(t *testing.T) {
	rules := []models.Rule{
		rule(1, "example1.org##.ad"),
		rule(1, "!#safari_cb_affinity(security)"),
		rule(1, "example2.org##.ad"),
		rule(1, "!#safari_cb_affinity(other)"),
		rule(1, "example6.org##.ad"),
		rule(1, "!#safari_cb_affinity"),
		rule(1, "!#safari_cb_affinity"),
		rule(1, "example3.org##.ad"),
		rule(3, "example4.org##.ad"),
		rule(4, "example5.org##.ad"),
	}

	grouped := newGrouper().Group(rules)
	require.Len(t, grouped, 6)

	keys := make([]models.OutputGroup, len(grouped))
	for i, g := range grouped {
		keys[i] = g.Key
	}
	assert.Equal(t, models.OutputGroups, keys)

	assert.Equal(t, []string{"example1.org##.ad", "example3.org##.ad"}, texts(grouped[0]))
	assert.Equal(t, []string{"example4.org##.ad"}, texts(grouped[1]))
	assert.Equal(t, []string{"example2.org##.ad"}, texts(grouped[2]))
	assert.Equal(t, []string{"example5.org##.ad"}, texts(grouped[3]))
	assert.Equal(t, []string{"example6.org##.ad"}, texts(grouped[4]))
	assert.Empty(t, grouped[5].Rules)
}

func TestGroupOverflowAppendedAfterNaturalRules(t *testing.T) {
	rules := []models.Rule{
		rule(1, "a.com##.x"),
		rule(1, "!#safari_cb_affinity(custom)"),
		rule(1, "a.com##.y"),
		rule(1000, "b.com##.z"),
	}

	grouped := newGrouper().Group(rules)

	assert.Equal(t, []string{"a.com##.x"}, texts(byKey(t, grouped, models.GroupGeneral)))
	assert.Equal(t, []string{"b.com##.z", "a.com##.y"}, texts(byKey(t, grouped, models.GroupCustom)))
}

func TestGroupCategoryAndFilterOrder(t *testing.T) {
	rules := []models.Rule{
		rule(7, "lang.com##.ad"),
		rule(2, "second.com##.ad"),
		rule(1, "first.com##.ad"),
		rule(1, "first.com##.ad2"),
		rule(14, "annoy.com##.ad"),
		rule(4, "social.com##.ad"),
	}

	grouped := newGrouper().Group(rules)

	assert.Equal(t,
		[]string{"first.com##.ad", "first.com##.ad2", "second.com##.ad", "lang.com##.ad"},
		texts(byKey(t, grouped, models.GroupGeneral)))
	assert.Equal(t,
		[]string{"social.com##.ad", "annoy.com##.ad"},
		texts(byKey(t, grouped, models.GroupSocial)))
}

func TestGroupUserRulesInEveryGroup(t *testing.T) {
	rules := []models.Rule{
		rule(3, "tracker.com##.x"),
		rule(models.UserFilterID, "user.com##.mine"),
	}

	grouped := newGrouper().Group(rules)
	for _, g := range grouped {
		assert.Equal(t, "user.com##.mine", g.Rules[len(g.Rules)-1].Text, "group %s", g.Key)
	}
	assert.Equal(t, []string{"tracker.com##.x", "user.com##.mine"}, texts(byKey(t, grouped, models.GroupPrivacy)))
}

func TestGroupDivertedUserRulesAppearOnce(t *testing.T) {
	rules := []models.Rule{
		rule(models.UserFilterID, "user.com##.everywhere"),
		rule(models.UserFilterID, "!#safari_cb_affinity(security)"),
		rule(models.UserFilterID, "user.com##.security-only"),
		rule(15, "malware.com##.x"),
	}

	grouped := newGrouper().Group(rules)

	assert.Equal(t,
		[]string{"malware.com##.x", "user.com##.everywhere", "user.com##.security-only"},
		texts(byKey(t, grouped, models.GroupSecurity)))
	assert.Equal(t, []string{"user.com##.everywhere"}, texts(byKey(t, grouped, models.GroupGeneral)))
}

func TestGroupAllAndMultipleBlocks(t *testing.T) {
	rules := []models.Rule{
		rule(16, "!#safari_cb_affinity(all)"),
		rule(16, "every.com##.x"),
		rule(16, "!#safari_cb_affinity(general, privacy, general)"),
		rule(16, "two.com##.x"),
	}

	grouped := newGrouper().Group(rules)
	for _, g := range grouped {
		switch g.Key {
		case models.GroupGeneral, models.GroupPrivacy:
			assert.Equal(t, []string{"every.com##.x", "two.com##.x"}, texts(g), "group %s", g.Key)
		default:
			assert.Equal(t, []string{"every.com##.x"}, texts(g), "group %s", g.Key)
		}
	}
}

func TestGroupUnknownAndEmptyBlocksKeepHomeGroup(t *testing.T) {
	rules := []models.Rule{
		rule(3, "!#safari_cb_affinity(nonsense)"),
		rule(3, "a.com##.x"),
		rule(3, "!#safari_cb_affinity()"),
		rule(3, "b.com##.x"),
		rule(3, "!#safari_cb_affinity(security)"),
	}

	grouped := newGrouper().Group(rules)
	assert.Equal(t, []string{"a.com##.x", "b.com##.x"}, texts(byKey(t, grouped, models.GroupPrivacy)))
	assert.Empty(t, byKey(t, grouped, models.GroupSecurity).Rules)
}

func TestGroupDirectiveScopeEndsWithFilter(t *testing.T) {
	rules := []models.Rule{
		rule(1, "!#safari_cb_affinity(other)"),
		rule(1, "moved.com##.x"),
		rule(2, "stays.com##.x"),
	}

	grouped := newGrouper().Group(rules)
	assert.Equal(t, []string{"stays.com##.x"}, texts(byKey(t, grouped, models.GroupGeneral)))
	assert.Equal(t, []string{"moved.com##.x"}, texts(byKey(t, grouped, models.GroupOther)))
}

func TestGroupPreservesEveryRule(t *testing.T) {
	rules := []models.Rule{
		rule(1, "a##.1"),
		rule(1, "!#safari_cb_affinity(privacy,social)"),
		rule(1, "a##.2"),
		rule(1, "!#safari_cb_affinity"),
		rule(3, "b##.1"),
		rule(15, "c##.1"),
		rule(1000, "d##.1"),
	}

	grouped := newGrouper().Group(rules)

	counts := make(map[string]int)
	for _, g := range grouped {
		for _, r := range g.Rules {
			counts[r.Text]++
		}
	}

	assert.Equal(t, map[string]int{
		"a##.1": 1,
		"a##.2": 2,
		"b##.1": 1,
		"c##.1": 1,
		"d##.1": 1,
	}, counts)
}

func TestGroupIsDeterministic(t *testing.T) {
	rules := []models.Rule{
		rule(models.UserFilterID, "u##.1"),
		rule(1, "!#safari_cb_affinity(all)"),
		rule(1, "a##.1"),
		rule(3, "b##.1"),
		rule(1000, "c##.1"),
	}

	g := newGrouper()
	assert.Equal(t, g.Group(rules), g.Group(rules))
}

func TestGroupIgnoresFiltersOutsideCatalog(t *testing.T) {
	grouped := newGrouper().Group([]models.Rule{rule(999, "lost.com##.x")})
	for _, g := range grouped {
		assert.Empty(t, g.Rules)
	}
}

func TestCategories(t *testing.T) {
	assert.Equal(t, []int{models.CategoryAdBlocking, models.CategoryLanguageSpecific}, Categories(models.GroupGeneral))
	assert.Equal(t, []int{models.CategoryCustomFilters}, Categories(models.GroupCustom))
	assert.Nil(t, Categories("nope"))
}
