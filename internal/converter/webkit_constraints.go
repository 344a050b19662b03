package converter

// WebKit Content Blocker Regex Constraints
//
// WebKit's Content Blocker uses a strict subset of JavaScript regular expressions.
//
// References:
// - https://webkit.org/blog/3476/content-blockers-first-look/
// - https://github.com/AdguardTeam/SafariConverterLib
//
// SUPPORTED: . [a-z] [^a-z] () * + ? ^ (start only) $ (end only) and escaped literals.
//
// UNSUPPORTED: \w \W \d \D \s \S (expanded before validation), \b \B,
// {n} {n,m} ({n,} is approximated with +), | outside character classes,
// lookarounds, named groups, unicode property escapes and non-ASCII characters.

import (
	"regexp"
	"strings"
)

// unsupportedConstructs are regex syntax fragments WebKit rejects outright
var unsupportedConstructs = []struct {
	fragment string
	name     string
}{
	{`(?<!`, "negative lookbehind"},
	{`(?<=`, "positive lookbehind"},
	{`(?=`, "positive lookahead"},
	{`(?!`, "negative lookahead"},
	{`(?P<`, "named group"},
	{`(?<`, "named group"},
	{`\p{`, "unicode property"},
	{`\P{`, "unicode property"},
}

// RegexIssues lists the reasons pattern cannot be loaded by WebKit.
// An empty result means the pattern is usable as a url-filter.
func RegexIssues(pattern string) []string {
	var issues []string

	if _, err := regexp.Compile(pattern); err != nil {
		return []string{"does not compile"}
	}

	for _, u := range unsupportedConstructs {
		if strings.Contains(pattern, u.fragment) {
			issues = append(issues, u.name)
		}
	}

	if containsDisjunction(pattern) {
		issues = append(issues, "disjunction (|) outside character class")
	}

	if m := reNumericQuantifier.FindString(pattern); m != "" {
		issues = append(issues, "numeric quantifier: "+m)
	} else if m := reNumericQuantifierOpen.FindString(pattern); m != "" {
		issues = append(issues, "numeric quantifier: "+m)
	}

	if reNonASCII.MatchString(pattern) {
		issues = append(issues, "non-ASCII characters")
	}

	if reWordBoundary.MatchString(pattern) {
		issues = append(issues, "word boundary")
	}

	// expandCharacterClasses removes these from regex patterns
	if reShorthandClass.MatchString(pattern) {
		issues = append(issues, "shorthand character class")
	}

	return issues
}
