// Package filters owns filter metadata and the per-filter rule index.
package filters

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/cbsync/internal/catalog"
	"github.com/bnema/cbsync/internal/clock"
	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/bnema/cbsync/internal/parser"
	"github.com/bnema/cbsync/internal/storage"
)

var (
	ErrUnknownFilter = errors.New("unknown filter")
	ErrNotCustom     = errors.New("not a custom filter")
)

// Update is the downloaded content of one filter
type Update struct {
	Meta  models.FilterMetadata
	Lines []string
}

// Manager is the single owner of filter metadata and rules. Every mutation
// is persisted before it becomes visible.
type Manager struct {
	mu     sync.RWMutex
	store  *storage.Store
	clock  clock.Clock
	logger log.Logger

	meta  map[int]models.FilterMetadata
	rules map[int][]models.Rule
}

// NewManager merges the catalog with the stored filter state and loads the
// rules of every downloaded filter.
func NewManager(cat *catalog.Catalog, store *storage.Store, clk clock.Clock, logger log.Logger) (*Manager, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.GetLogger()
	}

	states, err := store.FilterStates()
	if err != nil {
		return nil, fmt.Errorf("loading filter states: %w", err)
	}

	m := &Manager{
		store:  store,
		clock:  clk,
		logger: logger,
		meta:   make(map[int]models.FilterMetadata, len(cat.Filters)+len(states)),
		rules:  make(map[int][]models.Rule),
	}

	for _, f := range cat.Filters {
		if st, ok := states[f.FilterID]; ok {
			f.Version = st.Version
			f.LastCheckTime = st.LastCheckTime
			f.LastUpdateTime = st.LastUpdateTime
			f.Enabled = st.Enabled
			f.Installed = st.Installed
			f.Loaded = st.Loaded
		}
		m.meta[f.FilterID] = f
	}
	for id, st := range states {
		if st.IsCustom() {
			m.meta[id] = st
		} else if _, ok := m.meta[id]; !ok {
			logger.Debug(map[string]any{"filter_id": id}, "Ignoring stored state of a filter missing from the catalog")
		}
	}

	ids := []int{models.UserFilterID}
	for id, f := range m.meta {
		if f.Loaded {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		lines, err := store.LoadRules(id)
		if err != nil {
			return nil, fmt.Errorf("loading rules of filter %d: %w", id, err)
		}
		if len(lines) > 0 {
			m.rules[id] = models.RulesFromLines(id, lines)
		}
	}

	return m, nil
}

// FiltersInCategory returns the filters of a category ordered by display
// number, then id.
func (m *Manager) FiltersInCategory(categoryID int) []models.FilterMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.FilterMetadata
	for _, f := range m.meta {
		if f.GroupID == categoryID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return catalog.Less(out[i], out[j]) })
	return out
}

// Filters returns every known filter in catalog order
func (m *Manager) Filters() []models.FilterMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FilterMetadata, 0, len(m.meta))
	for _, f := range m.meta {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return catalog.Less(out[i], out[j]) })
	return out
}

// Filter returns the metadata of one filter
func (m *Manager) Filter(id int) (models.FilterMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.meta[id]
	return f, ok
}

// Rules returns the stored rules of a filter
func (m *Manager) Rules(id int) []models.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Rule(nil), m.rules[id]...)
}

// SetRules replaces the rules of a known filter
func (m *Manager) SetRules(id int, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.meta[id]
	if !ok {
		return fmt.Errorf("filter %d: %w", id, ErrUnknownFilter)
	}
	f.Loaded = true
	if err := m.store.SaveFilter(f, lines); err != nil {
		return err
	}
	m.meta[id] = f
	m.rules[id] = models.RulesFromLines(id, lines)
	return nil
}

// UserRules returns the rules the user wrote by hand
func (m *Manager) UserRules() []string {
	return models.Texts(m.Rules(models.UserFilterID))
}

// SetUserRules replaces the user rules
func (m *Manager) SetUserRules(lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveRules(models.UserFilterID, lines); err != nil {
		return err
	}
	m.rules[models.UserFilterID] = models.RulesFromLines(models.UserFilterID, lines)
	return nil
}

// ApplyUpdates commits a batch of downloads: versions, timestamps and rules
// change together or not at all.
func (m *Manager) ApplyUpdates(updates []Update) error {
	if len(updates) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	states := make([]models.FilterMetadata, 0, len(updates))
	lines := make(map[int][]string, len(updates))

	for _, u := range updates {
		f, ok := m.meta[u.Meta.FilterID]
		if !ok {
			return fmt.Errorf("filter %d: %w", u.Meta.FilterID, ErrUnknownFilter)
		}
		if u.Meta.Version != "" {
			f.Version = u.Meta.Version
		}
		if u.Meta.Name != "" && f.IsCustom() {
			f.Name = u.Meta.Name
		}
		f.LastCheckTime = now
		f.LastUpdateTime = now
		f.Loaded = true
		states = append(states, f)
		lines[f.FilterID] = u.Lines
	}

	if err := m.store.SaveFilters(states, lines); err != nil {
		return fmt.Errorf("saving filter updates: %w", err)
	}
	for _, f := range states {
		m.meta[f.FilterID] = f
		m.rules[f.FilterID] = models.RulesFromLines(f.FilterID, lines[f.FilterID])
	}
	return nil
}

// MarkChecked records a check that found nothing newer
func (m *Manager) MarkChecked(ids []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	states := make([]models.FilterMetadata, 0, len(ids))
	for _, id := range ids {
		f, ok := m.meta[id]
		if !ok {
			continue
		}
		f.LastCheckTime = now
		states = append(states, f)
	}
	if err := m.store.SaveFilters(states, nil); err != nil {
		return err
	}
	for _, f := range states {
		m.meta[f.FilterID] = f
	}
	return nil
}

// SetEnabled switches a filter on or off. Enabling also installs it.
func (m *Manager) SetEnabled(id int, enabled bool) (models.FilterMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.meta[id]
	if !ok {
		return models.FilterMetadata{}, fmt.Errorf("filter %d: %w", id, ErrUnknownFilter)
	}
	f.Enabled = enabled
	if enabled {
		f.Installed = true
	}
	if err := m.store.SaveFilterState(f); err != nil {
		return models.FilterMetadata{}, err
	}
	m.meta[id] = f
	return f, nil
}

// AddCustomFilter subscribes to a filter list by URL and stores its rules
func (m *Manager) AddCustomFilter(url, title string, trusted bool, version string, lines []string) (models.FilterMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := models.FirstCustomFilterID
	for id, f := range m.meta {
		if f.IsCustom() && f.CustomURL == url {
			return models.FilterMetadata{}, fmt.Errorf("custom filter %q already exists with id %d", url, id)
		}
		if id >= next {
			next = id + 1
		}
	}
	if title == "" {
		title = url
	}

	now := m.clock.Now()
	f := models.FilterMetadata{
		FilterID:        next,
		GroupID:         models.CategoryCustomFilters,
		Name:            title,
		Version:         version,
		DisplayNumber:   next,
		SubscriptionURL: url,
		CustomURL:       url,
		Trusted:         trusted,
		Enabled:         true,
		Installed:       true,
		Loaded:          true,
		LastCheckTime:   now,
		LastUpdateTime:  now,
	}
	if err := m.store.SaveFilter(f, lines); err != nil {
		return models.FilterMetadata{}, err
	}
	m.meta[f.FilterID] = f
	m.rules[f.FilterID] = models.RulesFromLines(f.FilterID, lines)

	m.logger.Info(map[string]any{"filter_id": f.FilterID, "url": url, "trusted": trusted}, "Custom filter added")
	return f, nil
}

// RemoveCustomFilter drops a custom filter and its rules
func (m *Manager) RemoveCustomFilter(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.meta[id]
	if !ok {
		return fmt.Errorf("filter %d: %w", id, ErrUnknownFilter)
	}
	if !f.IsCustom() {
		return fmt.Errorf("filter %d: %w", id, ErrNotCustom)
	}
	if err := m.store.DeleteFilter(id); err != nil {
		return err
	}
	delete(m.meta, id)
	delete(m.rules, id)
	return nil
}

// ActiveRules returns the rules of every enabled and installed filter plus
// the user rules. Untrusted rules of untrusted custom filters are dropped;
// advanced counts the untrusted rules that were kept.
func (m *Manager) ActiveRules() (rules []models.Rule, advanced int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.meta))
	for id, f := range m.meta {
		if f.Active() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	ids = append(ids, models.UserFilterID)

	for _, id := range ids {
		f := m.meta[id]
		gated := f.IsCustom() && !f.Trusted
		dropped := 0
		for _, r := range m.rules[id] {
			if parser.Classify(r.Text) == parser.Untrusted {
				if gated {
					dropped++
					continue
				}
				advanced++
			}
			rules = append(rules, r)
		}
		if dropped > 0 {
			m.logger.Debug(map[string]any{"filter_id": id, "dropped": dropped}, "Dropped untrusted rules")
		}
	}
	return rules, advanced
}

// SinceLastCheck reports how long ago a filter was last checked; ok is false
// when it never was.
func (m *Manager) SinceLastCheck(id int) (time.Duration, bool) {
	f, found := m.Filter(id)
	if !found || f.LastCheckTime.IsZero() {
		return 0, false
	}
	return m.clock.Now().Sub(f.LastCheckTime), true
}
