package converter

import (
	"strings"

	"github.com/bnema/cbsync/internal/models"
)

// Skip reason constants
const (
	SkipInvalidRegex      = "invalid-regex"
	SkipCosmeticException = "cosmetic-exception"
	SkipEmptySelector     = "empty-selector"
	SkipDocumentPattern   = "document-exception-pattern"
)

// ConvertFilter converts a single parsed rule to a WebKit entry. A nil
// entry comes with the reason it was skipped; comments yield neither.
func ConvertFilter(f models.Filter) (*models.WebKitRule, string) {
	switch f.Type {
	case models.FilterTypeNetwork:
		return convertNetwork(f, models.ActionBlock)
	case models.FilterTypeException:
		if f.Options.Document {
			return convertDocumentException(f)
		}
		return convertNetwork(f, models.ActionIgnorePreviousRule)
	case models.FilterTypeCosmetic:
		return convertCosmetic(f)
	case models.FilterTypeCosmeticException:
		// WebKit has no element hiding exception
		return nil, SkipCosmeticException
	case models.FilterTypeUnsupported:
		return nil, f.Reason
	}
	return nil, ""
}

func convertNetwork(f models.Filter, action string) (*models.WebKitRule, string) {
	regex := PatternToRegex(f.Pattern)
	if len(RegexIssues(regex)) > 0 {
		return nil, SkipInvalidRegex
	}

	rule := &models.WebKitRule{
		Trigger: models.WebKitTrigger{
			URLFilter:    regex,
			ResourceType: f.Options.ResourceTypes,
		},
		Action: models.WebKitAction{Type: action},
	}

	if f.Options.MatchCase {
		t := true
		rule.Trigger.URLFilterIsCaseSensitive = &t
	}

	if tp := f.Options.ThirdParty; tp != nil {
		rule.Trigger.LoadType = []string{models.LoadFirstParty}
		if *tp {
			rule.Trigger.LoadType = []string{models.LoadThirdParty}
		}
	}

	rule.Trigger.IfDomain = normalizeDomains(f.Options.Domains)
	rule.Trigger.UnlessDomain = normalizeDomains(f.Options.ExcludeDomains)

	return rule, ""
}

// convertDocumentException turns @@||host^$document into an entry that
// lifts every earlier rule on pages of host. The wildcard form @@||*$document
// relies on domain= to pick the pages instead.
func convertDocumentException(f models.Filter) (*models.WebKitRule, string) {
	host, ok := documentHost(f.Pattern)
	if !ok {
		return nil, SkipDocumentPattern
	}

	rule := &models.WebKitRule{
		Trigger: models.WebKitTrigger{URLFilter: ".*"},
		Action:  models.WebKitAction{Type: models.ActionIgnorePreviousRule},
	}

	// WebKit rejects a trigger with both if-domain and unless-domain
	switch {
	case host != "":
		rule.Trigger.IfDomain = []string{normalizeDomain(host)}
	case len(f.Options.Domains) > 0:
		rule.Trigger.IfDomain = normalizeDomains(f.Options.Domains)
	default:
		rule.Trigger.UnlessDomain = normalizeDomains(f.Options.ExcludeDomains)
	}

	return rule, ""
}

// documentHost extracts the hostname of a ||host^ pattern. The empty host
// stands for ||* and the bare wildcard.
func documentHost(pattern string) (string, bool) {
	host, anchored := strings.CutPrefix(pattern, "||")
	host = strings.TrimSuffix(strings.TrimSuffix(host, "|"), "^")
	if strings.Trim(host, "*") == "" {
		return "", true
	}
	if !anchored || strings.ContainsAny(host, "/*^|?=:") {
		return "", false
	}
	return host, true
}

func convertCosmetic(f models.Filter) (*models.WebKitRule, string) {
	if f.Selector == "" {
		return nil, SkipEmptySelector
	}

	rule := &models.WebKitRule{
		Trigger: models.WebKitTrigger{URLFilter: ".*"},
		Action: models.WebKitAction{
			Type:     models.ActionCSSDisplayNone,
			Selector: f.Selector,
		},
	}

	var include, exclude []string
	for _, d := range f.Domains {
		if ex, ok := strings.CutPrefix(d, "~"); ok {
			exclude = append(exclude, normalizeDomain(ex))
		} else {
			include = append(include, normalizeDomain(d))
		}
	}
	rule.Trigger.IfDomain = include
	rule.Trigger.UnlessDomain = exclude

	return rule, ""
}

// normalizeDomains returns nil for an empty list so the trigger field is omitted
func normalizeDomains(domains []string) []string {
	if len(domains) == 0 {
		return nil
	}
	result := make([]string, len(domains))
	for i, d := range domains {
		result[i] = normalizeDomain(d)
	}
	return result
}

// normalizeDomain adds the * prefix WebKit uses to match subdomains
func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if !strings.HasPrefix(d, "*") && !strings.HasPrefix(d, ".") {
		return "*" + d
	}
	return d
}
