package models

import "time"

// Category identifiers used by the filter catalog
const (
	CategoryCustomFilters    = 0
	CategoryAdBlocking       = 1
	CategoryPrivacy          = 2
	CategorySocial           = 3
	CategoryAnnoyances       = 4
	CategorySecurity         = 5
	CategoryOther            = 6
	CategoryLanguageSpecific = 7
)

// FilterMetadata describes one filter list and its local state.
// Only filters that are both enabled and installed contribute rules.
type FilterMetadata struct {
	FilterID        int       `json:"filterId" yaml:"filterId"`
	GroupID         int       `json:"groupId" yaml:"groupId"`
	Name            string    `json:"name" yaml:"name"`
	Version         string    `json:"version" yaml:"version"`
	DisplayNumber   int       `json:"displayNumber" yaml:"displayNumber"`
	SubscriptionURL string    `json:"subscriptionUrl,omitempty" yaml:"subscriptionUrl"`
	LastCheckTime   time.Time `json:"lastCheckTime" yaml:"-"`
	LastUpdateTime  time.Time `json:"lastUpdateTime" yaml:"-"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	Installed       bool      `json:"installed" yaml:"installed"`
	Loaded          bool      `json:"loaded" yaml:"-"`
	CustomURL       string    `json:"customUrl,omitempty" yaml:"-"`
	Trusted         bool      `json:"trusted" yaml:"trusted"`
}

// Active reports whether the filter takes part in compilation.
func (m FilterMetadata) Active() bool {
	return m.Enabled && m.Installed
}

// IsCustom reports whether the user subscribed to this filter by URL.
func (m FilterMetadata) IsCustom() bool {
	return m.CustomURL != ""
}

// OutputGroup names one of the six content blockers the rule set is split into
type OutputGroup string

const (
	GroupGeneral  OutputGroup = "general"
	GroupPrivacy  OutputGroup = "privacy"
	GroupSecurity OutputGroup = "security"
	GroupSocial   OutputGroup = "socialWidgetsAndAnnoyances"
	GroupOther    OutputGroup = "other"
	GroupCustom   OutputGroup = "custom"
)

// OutputGroups lists the output groups in their fixed order.
var OutputGroups = []OutputGroup{
	GroupGeneral,
	GroupPrivacy,
	GroupSecurity,
	GroupSocial,
	GroupOther,
	GroupCustom,
}

// RuleGroup is the ordered rule list of one output group
type RuleGroup struct {
	Key   OutputGroup
	Rules []Rule
}
