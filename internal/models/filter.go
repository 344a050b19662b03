package models

// FilterType represents the kind of a parsed rule line
type FilterType int

const (
	FilterTypeComment FilterType = iota
	FilterTypeNetwork
	FilterTypeException
	FilterTypeCosmetic
	FilterTypeCosmeticException
	FilterTypeUnsupported // scriptlets, HTML filters, procedural
)

// String returns a short name used in logs and stats
func (t FilterType) String() string {
	switch t {
	case FilterTypeComment:
		return "comment"
	case FilterTypeNetwork:
		return "network"
	case FilterTypeException:
		return "exception"
	case FilterTypeCosmetic:
		return "cosmetic"
	case FilterTypeCosmeticException:
		return "cosmetic-exception"
	}
	return "unsupported"
}

// Filter is a parsed ABP/uBlock rule line
type Filter struct {
	Type     FilterType
	Raw      string        // Original rule line
	Pattern  string        // URL pattern for network rules
	Selector string        // CSS selector for cosmetic rules
	Domains  []string      // Domains a cosmetic rule applies to
	Options  FilterOptions // Network rule options
	Reason   string        // Why an unsupported rule was rejected
}

// FilterOptions contains parsed network rule options
type FilterOptions struct {
	ThirdParty     *bool    // nil = any, true = 3p only, false = 1p only
	ResourceTypes  []string // script, image, stylesheet, etc.
	Domains        []string // domain= values (apply to these domains)
	ExcludeDomains []string // ~domain values (exclude these domains)
	MatchCase      bool     // case-sensitive matching
	Important      bool     // override exceptions
	Document       bool     // $document: the rule targets whole pages
}

// IsEmpty returns true if no options are set
func (o FilterOptions) IsEmpty() bool {
	return o.ThirdParty == nil &&
		len(o.ResourceTypes) == 0 &&
		len(o.Domains) == 0 &&
		len(o.ExcludeDomains) == 0 &&
		!o.MatchCase &&
		!o.Important &&
		!o.Document
}
