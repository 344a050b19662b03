// Package allowlist keeps the domains on which filtering is turned off
// (default mode) or the only domains on which it stays on (inverted mode).
package allowlist

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/bnema/cbsync/internal/models"
)

var ErrInvalidDomain = errors.New("invalid domain")

// Persister stores the allow-list state
type Persister interface {
	AllowList() (models.AllowListState, bool, error)
	SaveAllowList(models.AllowListState) error
}

// List is the allow-list store
type List struct {
	mu       sync.RWMutex
	state    models.AllowListState
	persist  Persister
	validate *validator.Validate
}

// New loads the stored allow-list, or seeds it when nothing is stored yet.
// persist may be nil for an in-memory list.
func New(persist Persister, seed models.AllowListState) (*List, error) {
	l := &List{
		persist:  persist,
		validate: validator.New(),
	}

	if persist != nil {
		stored, ok, err := persist.AllowList()
		if err != nil {
			return nil, fmt.Errorf("loading allow-list: %w", err)
		}
		if ok {
			seed = stored
		}
	}

	if seed.Mode == "" {
		seed.Mode = models.AllowListDefault
	}
	if seed.Mode != models.AllowListDefault && seed.Mode != models.AllowListInverted {
		return nil, fmt.Errorf("unknown allow-list mode %q", seed.Mode)
	}
	l.state.Mode = seed.Mode
	for _, d := range seed.Domains {
		n, err := l.normalize(d)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(l.state.Domains, n) {
			l.state.Domains = append(l.state.Domains, n)
		}
	}
	return l, nil
}

func (l *List) normalize(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	d = strings.TrimPrefix(d, "www.")
	if d == "" || l.validate.Var(d, "hostname_rfc1123") != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}

// Mode returns the current mode
func (l *List) Mode() models.AllowListMode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Mode
}

// Domains returns the listed domains in insertion order
func (l *List) Domains() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.state.Domains)
}

// Add lists a domain. It reports false when the domain was already listed.
func (l *List) Add(domain string) (bool, error) {
	d, err := l.normalize(domain)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Contains(l.state.Domains, d) {
		return false, nil
	}
	next := l.state
	next.Domains = append(slices.Clone(l.state.Domains), d)
	return true, l.commit(next)
}

// Remove unlists a domain. It reports false when the domain was not listed.
func (l *List) Remove(domain string) (bool, error) {
	d, err := l.normalize(domain)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.state.Domains, d)
	if i < 0 {
		return false, nil
	}
	next := l.state
	next.Domains = slices.Delete(slices.Clone(l.state.Domains), i, i+1)
	return true, l.commit(next)
}

// SetMode switches between default and inverted mode
func (l *List) SetMode(mode models.AllowListMode) error {
	if mode != models.AllowListDefault && mode != models.AllowListInverted {
		return fmt.Errorf("unknown allow-list mode %q", mode)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.state
	next.Mode = mode
	return l.commit(next)
}

func (l *List) commit(next models.AllowListState) error {
	if l.persist != nil {
		if err := l.persist.SaveAllowList(next); err != nil {
			return fmt.Errorf("saving allow-list: %w", err)
		}
	}
	l.state = next
	return nil
}

// RulesIfDefault returns one document exception per domain in default mode,
// nil in inverted mode.
func (l *List) RulesIfDefault() []models.Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.state.Mode != models.AllowListDefault {
		return nil
	}
	rules := make([]models.Rule, 0, len(l.state.Domains))
	for _, d := range l.state.Domains {
		rules = append(rules, models.Rule{
			FilterID: models.AllowListFilterID,
			Text:     "@@||" + d + "^$document",
		})
	}
	return rules
}

// Rules returns the allow-list rules for the current mode
func (l *List) Rules() []models.Rule {
	if l.Mode() == models.AllowListDefault {
		return l.RulesIfDefault()
	}
	return []models.Rule{{
		FilterID: models.AllowListFilterID,
		Text:     InvertedRule(l.Domains()),
	}}
}

// InvertedRule builds the rule that allows every document except those on
// the given domains.
func InvertedRule(domains []string) string {
	rule := "@@||*$document"
	if len(domains) == 0 {
		return rule
	}
	excluded := make([]string, len(domains))
	for i, d := range domains {
		excluded[i] = "~" + d
	}
	return rule + ",domain=" + strings.Join(excluded, "|")
}
