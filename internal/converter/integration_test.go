package converter

import (
	"context"
	"strings"
	"testing"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/bnema/cbsync/internal/parser"
	"github.com/bnema/cbsync/internal/rulegroups"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listCategories map[int][]int

func (c listCategories) FiltersInCategory(id int) []models.FilterMetadata {
	var out []models.FilterMetadata
	for _, fid := range c[id] {
		out = append(out, models.FilterMetadata{FilterID: fid, GroupID: id})
	}
	return out
}

const easyList = `[Adblock Plus 2.0]
! Title: Test list
! Version: 1.0.0

||ads.example.com^$third-party
example.org##.banner
/(https?:\/\/)\w{30,}\.me\/\w{30,}\./$script,third-party
!#safari_cb_affinity(security)
||malware.example^
!#safari_cb_affinity
/foo|bar/$script
example.com#%#//scriptlet('abort-on-property-read', 'x')
||cdn.example.net^$redirect=noopjs
`

func TestListThroughGroupsAndCompiler(t *testing.T) {
	lines, err := parser.ReadLines(strings.NewReader(easyList))
	require.NoError(t, err)

	grouper := rulegroups.New(listCategories{models.CategoryAdBlocking: {1}}, log.NewNoopLogger())
	groups := grouper.Group(models.RulesFromLines(1, lines))

	compiler, err := NewCompiler(DefaultCacheSize, log.NewNoopLogger())
	require.NoError(t, err)

	byKey := make(map[models.OutputGroup]*models.CompiledBlockSet)
	for _, g := range groups {
		set, err := compiler.Compile(context.Background(), g.Rules, 0)
		require.NoError(t, err, g.Key)
		byKey[g.Key] = set
	}

	general := byKey[models.GroupGeneral]
	require.Equal(t, 3, general.RulesCount)
	assert.Equal(t, []string{models.LoadThirdParty}, general.Rules[0].Trigger.LoadType)
	assert.Equal(t, ".banner", general.Rules[1].Action.Selector)
	assert.NotContains(t, general.Rules[2].Trigger.URLFilter, `\w`)
	assert.Contains(t, general.Rules[2].Trigger.URLFilter, `[a-zA-Z0-9_]+`)

	// disjunction, scriptlet and redirect rules cannot be expressed
	assert.Equal(t, 3, general.Skipped)
	assert.Equal(t, 1, general.SkipReasons[SkipInvalidRegex])

	security := byKey[models.GroupSecurity]
	require.Equal(t, 1, security.RulesCount)
	assert.Contains(t, security.Rules[0].Trigger.URLFilter, `malware\.example`)

	assert.True(t, byKey[models.GroupPrivacy].IsEmpty())
}

func TestConvertFilterFlow(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		reason   string
		expanded bool
	}{
		{
			name:     "open numeric quantifier is approximated",
			line:     `/(https?:\/\/)\w{30,}\.me\/\w{30,}\./$script,third-party`,
			expanded: true,
		},
		{
			name:   "exact numeric quantifier is rejected",
			line:   `/(https?:\/\/)\w{30}\.me\/\w{30}\./$script`,
			reason: SkipInvalidRegex,
		},
		{
			name:   "disjunction is rejected",
			line:   `/foo|bar/$script`,
			reason: SkipInvalidRegex,
		},
		{
			name: "plain network rule",
			line: `||example.com^`,
		},
		{
			name:   "unsupported option is rejected by the parser",
			line:   `||example.com^$csp=script-src 'none'`,
			reason: parser.SkipUnsupportedOpt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, reason := ConvertFilter(parser.ParseLine(tt.line))
			if tt.reason != "" {
				assert.Nil(t, rule)
				assert.Equal(t, tt.reason, reason)
				return
			}

			require.NotNil(t, rule)
			assert.Empty(t, reason)
			if tt.expanded {
				assert.NotContains(t, rule.Trigger.URLFilter, `\w`)
				assert.Contains(t, rule.Trigger.URLFilter, `[a-zA-Z0-9_]`)
			}
		})
	}
}

func TestPatternWithOpenQuantifierValidates(t *testing.T) {
	result := PatternToRegex(`/(https?:\/\/)\w{30,}\.me\/\w{30,}\./`)

	assert.NotContains(t, result, `{30,}`)
	assert.Empty(t, RegexIssues(result))
	assert.NotEmpty(t, RegexIssues(PatternToRegex(`/(https?:\/\/)\w{30}\.me\/\w{30}\./`)))
}
