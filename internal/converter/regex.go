package converter

import (
	"regexp"
	"strings"
)

// Anchors and separator as uBlock's make-rulesets.js writes them
const (
	// ^ in a pattern: any character that cannot appear in a hostname
	restrSeparator = `[^%.0-9a-z_-]`
	// ||host: scheme, then optional subdomains
	restrHostnameAnchor = `^[a-z-]+://(?:[^/?#]+\.)?`
	// ||.host: the dot is part of the pattern
	restrHostnameDotAnchor = `^[a-z-]+://(?:[^/?#]+)?`
)

var (
	// regex metacharacters other than * and ^, which have pattern meaning
	rePlainChars = regexp.MustCompile(`[.+?${}()|[\]\\]`)

	reShorthandClass        = regexp.MustCompile(`\\[wWdDsS]`)
	reNumericQuantifierOpen = regexp.MustCompile(`\{[0-9]+,\}`)
	reNumericQuantifier     = regexp.MustCompile(`\{[0-9]+(,[0-9]+)?\}`)
	reNonASCII              = regexp.MustCompile(`[^\x00-\x7F]`)
	reWordBoundary          = regexp.MustCompile(`\\[bB]`)
)

// shorthandClasses spells out the classes WebKit's regex engine lacks
var shorthandClasses = map[string]string{
	`\w`: `[a-zA-Z0-9_]`,
	`\W`: `[^a-zA-Z0-9_]`,
	`\d`: `[0-9]`,
	`\D`: `[^0-9]`,
	`\s`: `[ \t\n\r\f\v]`,
	`\S`: `[^ \t\n\r\f\v]`,
}

// PatternToRegex converts an ABP/uBlock pattern to a WebKit-compatible regex
func PatternToRegex(pattern string) string {
	s := pattern
	hostAnchor, leftAnchor, rightAnchor := false, false, false

	if rest, ok := strings.CutPrefix(s, "||"); ok {
		hostAnchor, s = true, rest
	} else if rest, ok := strings.CutPrefix(s, "|"); ok {
		leftAnchor, s = true, rest
	}
	if rest, ok := strings.CutSuffix(s, "|"); ok {
		rightAnchor, s = true, rest
	}

	// "", "*" and "||*" match every URL
	if strings.Trim(s, "*") == "" {
		return ".*"
	}

	if len(s) > 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		return expandCharacterClasses(s[1 : len(s)-1])
	}

	re := rePlainChars.ReplaceAllString(s, `\$0`)
	re = strings.ReplaceAll(re, "^", restrSeparator)
	re = strings.Trim(re, "*")
	re = collapseWildcards(re)

	switch {
	case hostAnchor && strings.HasPrefix(re, `\.`):
		re = restrHostnameDotAnchor + re
	case hostAnchor:
		re = restrHostnameAnchor + re
	case leftAnchor:
		re = "^" + re
	}
	if rightAnchor {
		re += "$"
	}

	return re
}

// collapseWildcards turns each run of * into .*
func collapseWildcards(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	star := false
	for i := 0; i < len(s); i++ {
		if s[i] == '*' {
			if !star {
				b.WriteString(".*")
			}
			star = true
			continue
		}
		star = false
		b.WriteByte(s[i])
	}
	return b.String()
}

// containsDisjunction reports a | outside character classes
func containsDisjunction(pattern string) bool {
	inClass, escaped := false, false

	for _, ch := range pattern {
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '[':
			inClass = true
		case ch == ']':
			inClass = false
		case ch == '|' && !inClass:
			return true
		}
	}
	return false
}

// expandCharacterClasses replaces shorthand classes with explicit sets and
// approximates {n,} with +
func expandCharacterClasses(pattern string) string {
	pattern = reShorthandClass.ReplaceAllStringFunc(pattern, func(m string) string {
		return shorthandClasses[m]
	})
	return reNumericQuantifierOpen.ReplaceAllString(pattern, `+`)
}
