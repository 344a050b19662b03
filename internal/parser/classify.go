package parser

import "strings"

// Trust tells whether a rule may run with advanced capabilities
type Trust int

const (
	Trusted Trust = iota
	Untrusted
)

func (t Trust) String() string {
	if t == Untrusted {
		return "untrusted"
	}
	return "trusted"
}

// advancedMarkers are the separators of scriptlet, JS and CSS injection rules.
var advancedMarkers = []string{
	"#%#", "#@%#", // script injection and AdGuard scriptlets
	"##+js(", "#@#+js(", // uBlock scriptlets
	"#$#", "#@$#", // CSS injection
	"#$?#", "#@$?#", // extended CSS injection
}

// Classify returns Untrusted for rules that inject scripts or styles and
// Trusted for plain network and cosmetic rules.
func Classify(ruleText string) Trust {
	if strings.HasPrefix(ruleText, "!") {
		return Trusted
	}
	for _, m := range advancedMarkers {
		if strings.Contains(ruleText, m) {
			return Untrusted
		}
	}
	return Trusted
}

// Affinity directive syntax
const (
	AffinityDirective      = "!#safari_cb_affinity"
	AffinityDirectiveStart = AffinityDirective + "("
)

// DirectiveKind distinguishes the two affinity directive forms
type DirectiveKind int

const (
	NotDirective DirectiveKind = iota
	// ScopedDirective names the blocks that receive the following rules
	ScopedDirective
	// ResetDirective returns the following rules to their home group
	ResetDirective
)

// Directive detects an affinity directive. For scoped directives it also
// returns the trimmed block names listed between the parentheses; empty
// names are dropped.
func Directive(ruleText string) (DirectiveKind, []string) {
	switch {
	case strings.HasPrefix(ruleText, AffinityDirectiveStart):
		return ScopedDirective, affinityBlockNames(ruleText)
	case ruleText == AffinityDirective:
		return ResetDirective, nil
	}
	return NotDirective, nil
}

// IsDirective reports whether ruleText is any affinity directive
func IsDirective(ruleText string) bool {
	kind, _ := Directive(ruleText)
	return kind != NotDirective
}

func affinityBlockNames(ruleText string) []string {
	body := strings.TrimPrefix(ruleText, AffinityDirectiveStart)
	body = strings.TrimSuffix(body, ")")

	var names []string
	for _, part := range strings.Split(body, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
