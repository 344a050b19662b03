package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/bnema/cbsync/internal/models"
)

// Reasons attached to rules that have no content blocker form
const (
	SkipScriptlet       = "scriptlet (##+js, #%#//scriptlet)"
	SkipScriptInjection = "script-injection (#%#)"
	SkipCSSInjection    = "css-injection (#$#)"
	SkipHTMLFilter      = "html-filter (##^, $$)"
	SkipProcedural      = "procedural (:has, :xpath, etc)"
	SkipUnsupportedOpt  = "unsupported-option (redirect, csp, etc)"
)

// maxLineLength bounds a single rule line; some lists carry very long
// domain= options.
const maxLineLength = 1024 * 1024

var (
	scriptletMarkers = []string{"##+js(", "#@#+js(", "#%#//scriptlet(", "#@%#//scriptlet("}
	scriptMarkers    = []string{"#%#", "#@%#"}
	styleMarkers     = []string{"#$#", "#@$#"}
	htmlMarkers      = []string{"##^", "#@#^", "$$", "$@$"}

	proceduralMarkers = []string{
		":has(", ":has-text(", ":xpath(", ":matches-css(",
		":matches-attr(", ":min-text-length(", ":not(",
		":upward(", ":remove(", ":style(",
	}

	// options that change what happens to a request rather than whether it loads
	rewriteOptions = []string{
		"redirect=", "redirect-rule=",
		"csp=", "removeparam=", "replace=",
		"header=", "method=", "to=",
		"permissions=", "uritransform=",
	}

	resourceTypes = map[string]string{
		"script":            models.ResourceScript,
		"image":             models.ResourceImage,
		"img":               models.ResourceImage,
		"stylesheet":        models.ResourceStyleSheet,
		"css":               models.ResourceStyleSheet,
		"font":              models.ResourceFont,
		"media":             models.ResourceMedia,
		"xmlhttprequest":    models.ResourceRaw,
		"xhr":               models.ResourceRaw,
		"object":            models.ResourceRaw,
		"object-subrequest": models.ResourceRaw,
		"ping":              models.ResourceRaw,
		"beacon":            models.ResourceRaw,
		"other":             models.ResourceRaw,
		"websocket":         models.ResourceRaw,
		"subdocument":       models.ResourceDocument,
		"frame":             models.ResourceDocument,
		"document":          models.ResourceDocument,
		"doc":               models.ResourceDocument,
		"popup":             models.ResourcePopup,
	}
)

// ReadLines splits rule list content into trimmed, non-empty lines
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	return lines, scanner.Err()
}

// ParseLine parses one trimmed ABP/uBlock/AdGuard rule line
func ParseLine(line string) models.Filter {
	if strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
		return models.Filter{Type: models.FilterTypeComment, Raw: line}
	}

	switch {
	case containsAny(line, scriptletMarkers):
		return unsupported(line, SkipScriptlet)
	case containsAny(line, scriptMarkers):
		return unsupported(line, SkipScriptInjection)
	case containsAny(line, styleMarkers):
		return unsupported(line, SkipCSSInjection)
	case containsAny(line, htmlMarkers):
		return unsupported(line, SkipHTMLFilter)
	case containsAny(line, proceduralMarkers):
		return unsupported(line, SkipProcedural)
	}

	if idx := strings.Index(line, "#@#"); idx != -1 {
		return cosmetic(line, idx, "#@#", models.FilterTypeCosmeticException)
	}
	if idx := strings.Index(line, "##"); idx != -1 {
		return cosmetic(line, idx, "##", models.FilterTypeCosmetic)
	}

	if rest, ok := strings.CutPrefix(line, "@@"); ok {
		return network(line, rest, models.FilterTypeException)
	}
	return network(line, line, models.FilterTypeNetwork)
}

func unsupported(line, reason string) models.Filter {
	return models.Filter{Type: models.FilterTypeUnsupported, Raw: line, Reason: reason}
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func cosmetic(line string, sep int, marker string, typ models.FilterType) models.Filter {
	return models.Filter{
		Type:     typ,
		Raw:      line,
		Selector: line[sep+len(marker):],
		Domains:  splitList(line[:sep], ","),
	}
}

// network splits body into pattern and $options. A '$' that is escaped or
// followed by '/' belongs to a regex pattern.
func network(line, body string, typ models.FilterType) models.Filter {
	f := models.Filter{Type: typ, Raw: line, Pattern: body}

	idx := strings.LastIndex(body, "$")
	if idx == -1 || (idx > 0 && body[idx-1] == '\\') {
		return f
	}
	opts := body[idx+1:]
	if strings.HasPrefix(opts, "/") {
		return f
	}
	if containsAny(opts, rewriteOptions) {
		return unsupported(line, SkipUnsupportedOpt)
	}

	f.Pattern = body[:idx]
	f.Options = parseOptions(opts)
	return f
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseOptions(s string) models.FilterOptions {
	var opts models.FilterOptions

	for _, opt := range splitList(s, ",") {
		switch opt {
		case "third-party", "3p":
			t := true
			opts.ThirdParty = &t
		case "~third-party", "~3p", "first-party", "1p":
			f := false
			opts.ThirdParty = &f
		case "match-case":
			opts.MatchCase = true
		case "important":
			opts.Important = true
		case "document", "doc":
			opts.Document = true
			opts.ResourceTypes = append(opts.ResourceTypes, models.ResourceDocument)
		default:
			if v, ok := strings.CutPrefix(opt, "domain="); ok {
				for _, d := range splitList(v, "|") {
					if ex, neg := strings.CutPrefix(d, "~"); neg {
						opts.ExcludeDomains = append(opts.ExcludeDomains, ex)
					} else {
						opts.Domains = append(opts.Domains, d)
					}
				}
				continue
			}
			// negated types are widened to the type itself
			if rt, ok := resourceTypes[strings.TrimPrefix(opt, "~")]; ok {
				opts.ResourceTypes = append(opts.ResourceTypes, rt)
			}
		}
	}

	return opts
}
