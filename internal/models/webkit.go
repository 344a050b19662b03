package models

import "encoding/json"

// WebKitRule is a single Safari/WebKit content blocker entry
type WebKitRule struct {
	Trigger WebKitTrigger `json:"trigger"`
	Action  WebKitAction  `json:"action"`
}

// WebKitTrigger defines when an entry activates
type WebKitTrigger struct {
	URLFilter                string   `json:"url-filter"`
	URLFilterIsCaseSensitive *bool    `json:"url-filter-is-case-sensitive,omitempty"`
	ResourceType             []string `json:"resource-type,omitempty"`
	LoadType                 []string `json:"load-type,omitempty"`
	IfDomain                 []string `json:"if-domain,omitempty"`
	UnlessDomain             []string `json:"unless-domain,omitempty"`
}

// WebKitAction defines what happens when an entry triggers
type WebKitAction struct {
	Type     string `json:"type"`               // block, block-cookies, css-display-none, ignore-previous-rules
	Selector string `json:"selector,omitempty"` // only for css-display-none
}

// Action type constants
const (
	ActionBlock              = "block"
	ActionBlockCookies       = "block-cookies"
	ActionCSSDisplayNone     = "css-display-none"
	ActionIgnorePreviousRule = "ignore-previous-rules"
)

// Resource type constants (WebKit names)
const (
	ResourceDocument   = "document"
	ResourceImage      = "image"
	ResourceStyleSheet = "style-sheet"
	ResourceScript     = "script"
	ResourceFont       = "font"
	ResourceRaw        = "raw"
	ResourceSVG        = "svg-document"
	ResourceMedia      = "media"
	ResourcePopup      = "popup"
)

// Load type constants
const (
	LoadFirstParty = "first-party"
	LoadThirdParty = "third-party"
)

// IgnoreEverythingRule disables every entry loaded before it. A blocker
// holding only this entry blocks nothing.
func IgnoreEverythingRule() WebKitRule {
	return WebKitRule{
		Trigger: WebKitTrigger{URLFilter: "none"},
		Action:  WebKitAction{Type: ActionIgnorePreviousRule},
	}
}

// CompiledBlockSet is the platform payload for one content blocker.
// A set is never modified after it has been published.
type CompiledBlockSet struct {
	Rules      []WebKitRule
	RulesCount int
	OverLimit  bool

	// Skipped counts rules WebKit cannot express, by reason
	Skipped     int
	SkipReasons map[string]int
}

// EmptyBlockSet returns the cleared set used when filtering is disabled or a
// group has nothing to block.
func EmptyBlockSet() *CompiledBlockSet {
	return &CompiledBlockSet{Rules: []WebKitRule{IgnoreEverythingRule()}}
}

// IsEmpty reports whether the set carries only the cleared entry.
func (s *CompiledBlockSet) IsEmpty() bool {
	return s.RulesCount == 0
}

// MarshalJSON encodes the set as the JSON array the content blocker host loads.
func (s *CompiledBlockSet) MarshalJSON() ([]byte, error) {
	if len(s.Rules) == 0 {
		return json.Marshal([]WebKitRule{IgnoreEverythingRule()})
	}
	return json.Marshal(s.Rules)
}
