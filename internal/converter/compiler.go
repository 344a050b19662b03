package converter

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/bnema/cbsync/internal/parser"
)

// DefaultCacheSize bounds the memo of converted rule texts
const DefaultCacheSize = 200000

// ctxCheckInterval is how many rules are converted between context checks
const ctxCheckInterval = 1024

// conversion is the memoized outcome of converting one rule text
type conversion struct {
	rule    *models.WebKitRule
	comment bool
	reason  string
}

// Compiler turns ordered rule lists into compiled content blocker sets.
// It remembers the outcome per rule text, so rules shared by several
// groups (user rules, allow-list rules) are parsed once.
type Compiler struct {
	cache  *lru.Cache[string, conversion]
	logger log.Logger
}

// NewCompiler creates a compiler; cacheSize <= 0 disables the memo
func NewCompiler(cacheSize int, logger log.Logger) (*Compiler, error) {
	if logger == nil {
		logger = log.GetLogger()
	}
	c := &Compiler{logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, conversion](cacheSize)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// Compile converts rules in order, removes duplicate entries and keeps at
// most limit entries (MaxRules when limit <= 0). Comment lines are ignored.
// When every non-comment rule is rejected a *ConversionError is returned.
func (c *Compiler) Compile(ctx context.Context, rules []models.Rule, limit int) (*models.CompiledBlockSet, error) {
	entries := make([]models.WebKitRule, 0, len(rules))
	reasons := make(map[string]int)
	candidates, skipped := 0, 0
	var sample string

	for i, r := range rules {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, &ConversionError{Err: err}
			}
		}

		res := c.convert(r.Text)
		if res.comment {
			continue
		}
		candidates++

		if res.rule == nil {
			skipped++
			reasons[res.reason]++
			if sample == "" {
				sample = r.Text
			}
			continue
		}
		entries = append(entries, *res.rule)
	}

	if candidates > 0 && len(entries) == 0 {
		return nil, &ConversionError{Sample: sample, Err: ErrNothingConverted}
	}

	entries = Deduplicate(entries)
	entries, overLimit := Truncate(entries, limit)

	if skipped > 0 {
		c.logger.Debug(map[string]any{
			"skipped": skipped,
			"reasons": reasons,
			"sample":  sample,
		}, "Some rules cannot be expressed as content blocker entries")
	}

	return &models.CompiledBlockSet{
		Rules:       entries,
		RulesCount:  len(entries),
		OverLimit:   overLimit,
		Skipped:     skipped,
		SkipReasons: reasons,
	}, nil
}

func (c *Compiler) convert(text string) conversion {
	if c.cache != nil {
		if res, ok := c.cache.Get(text); ok {
			return res
		}
	}

	var res conversion
	f := parser.ParseLine(text)
	if f.Type == models.FilterTypeComment {
		res.comment = true
	} else {
		res.rule, res.reason = ConvertFilter(f)
	}

	if c.cache != nil {
		c.cache.Add(text, res)
	}
	return res
}
