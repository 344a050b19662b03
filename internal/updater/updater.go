// Package updater checks filter subscriptions for new versions and
// downloads them.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/bnema/cbsync/internal/clock"
	"github.com/bnema/cbsync/internal/events"
	"github.com/bnema/cbsync/internal/fetcher"
	"github.com/bnema/cbsync/internal/filters"
	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
)

const (
	DefaultUpdatePeriod    = 48 * time.Hour
	DefaultFirstCheckDelay = 5 * time.Minute

	// recentCheck is how long an enabled filter is considered fresh
	recentCheck = 5 * time.Minute
)

// FilterStore is the owner of filter metadata and rules
type FilterStore interface {
	Filters() []models.FilterMetadata
	Filter(id int) (models.FilterMetadata, bool)
	Rules(id int) []models.Rule
	ApplyUpdates(updates []filters.Update) error
	MarkChecked(ids []int) error
	SinceLastCheck(id int) (time.Duration, bool)
	SetEnabled(id int, enabled bool) (models.FilterMetadata, error)
	AddCustomFilter(url, title string, trusted bool, version string, lines []string) (models.FilterMetadata, error)
	RemoveCustomFilter(id int) error
}

// Remote downloads filter metadata and rules
type Remote interface {
	FetchMetadata(ctx context.Context, ids []int) ([]fetcher.RemoteFilter, error)
	FetchRules(ctx context.Context, filterID int, forceRemote, useOptimized bool) ([]string, error)
	FetchCustomRules(ctx context.Context, url string) (fetcher.Header, []string, error)
}

// Selection is the set of filters due for a check
type Selection struct {
	FilterIDs       []int
	CustomFilterIDs []int
}

// Empty reports whether nothing was selected
func (s Selection) Empty() bool {
	return len(s.FilterIDs) == 0 && len(s.CustomFilterIDs) == 0
}

// Updater keeps installed filters up to date
type Updater struct {
	filters      FilterStore
	remote       Remote
	bus          *events.Bus
	clock        clock.Clock
	logger       log.Logger
	period       time.Duration
	firstDelay   time.Duration
	useOptimized bool
	onChanged    func()

	check sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	stopped bool
}

// New creates an Updater. onChanged is called once after any check or
// action that changed the active rules.
func New(store FilterStore, remote Remote, bus *events.Bus, clk clock.Clock, cfg models.FiltersConfig, onChanged func(), logger log.Logger) *Updater {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	if onChanged == nil {
		onChanged = func() {}
	}
	return &Updater{
		filters:      store,
		remote:       remote,
		bus:          bus,
		clock:        clk,
		logger:       logger,
		period:       cfg.UpdatePeriod,
		firstDelay:   cfg.FirstCheckDelay,
		useOptimized: cfg.UseOptimized,
		onChanged:    onChanged,
	}
}

// SelectFiltersToUpdate returns the installed and enabled filters that are
// due for a check: all of them when force is set, otherwise those never
// checked or checked at least one update period ago. A zero period only
// selects filters that were never checked.
func (u *Updater) SelectFiltersToUpdate(force bool) Selection {
	var sel Selection
	now := u.clock.Now()

	for _, f := range u.filters.Filters() {
		if !f.Active() {
			continue
		}
		due := force || f.LastCheckTime.IsZero() ||
			(u.period > 0 && now.Sub(f.LastCheckTime) >= u.period)
		if !due {
			continue
		}
		if f.IsCustom() {
			sel.CustomFilterIDs = append(sel.CustomFilterIDs, f.FilterID)
		} else {
			sel.FilterIDs = append(sel.FilterIDs, f.FilterID)
		}
	}
	return sel
}

// CheckForUpdates runs one update check and returns the filters that were
// updated. Standard filters are downloaded together and committed only if
// every download succeeded. Custom filters are refreshed one by one and
// their failures are only logged.
func (u *Updater) CheckForUpdates(ctx context.Context, force bool) ([]models.FilterMetadata, error) {
	sel := u.SelectFiltersToUpdate(force)
	return u.run(ctx, sel, force)
}

// ForceUpdate checks every installed and enabled filter regardless of when
// it was last checked.
func (u *Updater) ForceUpdate(ctx context.Context) error {
	_, err := u.CheckForUpdates(ctx, true)
	return err
}

func (u *Updater) run(ctx context.Context, sel Selection, force bool) ([]models.FilterMetadata, error) {
	u.check.Lock()
	defer u.check.Unlock()

	if sel.Empty() {
		u.logger.Debug(nil, "No filters due for an update")
		u.bus.Publish(events.FiltersUpdateFinished{Success: true, Forced: force})
		return nil, nil
	}

	u.logger.Info(map[string]any{
		"filters": len(sel.FilterIDs),
		"custom":  len(sel.CustomFilterIDs),
		"forced":  force,
	}, "Checking filters for updates")

	updated, err := u.updateStandard(ctx, sel.FilterIDs)
	if err != nil {
		u.logger.Error(map[string]any{"error": err}, "Filters update failed")
		u.bus.Publish(events.FiltersUpdateFinished{Success: false, Forced: force})
		return nil, err
	}

	updated = append(updated, u.updateCustom(ctx, sel.CustomFilterIDs)...)

	if len(updated) > 0 {
		u.onChanged()
	}
	u.logger.Info(map[string]any{"updated": len(updated)}, "Filters update finished")
	u.bus.Publish(events.FiltersUpdateFinished{Success: true, Forced: force, Updated: updated})
	return updated, nil
}

// updateStandard downloads every filter with a newer remote version.
// Nothing is committed unless all downloads succeed.
func (u *Updater) updateStandard(ctx context.Context, ids []int) ([]models.FilterMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	remote, err := u.remote.FetchMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading filters metadata: %w", err)
	}

	var toDownload []fetcher.RemoteFilter
	var unchanged []int
	for _, rf := range remote {
		local, ok := u.filters.Filter(rf.Meta.FilterID)
		if !ok {
			continue
		}
		if u.changed(local, rf) {
			toDownload = append(toDownload, rf)
		} else {
			unchanged = append(unchanged, local.FilterID)
		}
	}

	var updates []filters.Update
	if len(toDownload) > 0 {
		updates, err = u.download(ctx, toDownload)
		if err != nil {
			return nil, err
		}
		if err := u.filters.ApplyUpdates(updates); err != nil {
			return nil, err
		}
	}
	if err := u.filters.MarkChecked(unchanged); err != nil {
		u.logger.Warn(map[string]any{"error": err}, "Could not record filter check time")
	}

	updated := make([]models.FilterMetadata, 0, len(updates))
	for _, up := range updates {
		f, _ := u.filters.Filter(up.Meta.FilterID)
		updated = append(updated, f)
		u.bus.Publish(events.FilterDownloadSucceeded{Filter: f, RulesCount: len(up.Lines)})
	}
	return updated, nil
}

// changed reports whether the remote side of a filter must be applied.
// Without a remote version, a loaded filter is compared by content when the
// rules are at hand and is otherwise always refreshed.
func (u *Updater) changed(local models.FilterMetadata, rf fetcher.RemoteFilter) bool {
	switch {
	case !local.Loaded:
		return true
	case rf.Meta.Version != "":
		return IsGreaterVersion(rf.Meta.Version, local.Version)
	case rf.Lines != nil:
		return !sameRules(u.filters.Rules(local.FilterID), rf.Lines)
	}
	return true
}

func sameRules(stored []models.Rule, lines []string) bool {
	if len(stored) != len(lines) {
		return false
	}
	for i, r := range stored {
		if r.Text != lines[i] {
			return false
		}
	}
	return true
}

// download fetches all filters concurrently and fails as soon as one fails.
// Rules that came along with the metadata are not fetched again.
func (u *Updater) download(ctx context.Context, remote []fetcher.RemoteFilter) ([]filters.Update, error) {
	p := pool.NewWithResults[filters.Update]().
		WithErrors().
		WithContext(ctx).
		WithCancelOnError()

	for _, rf := range remote {
		rf := rf
		m := rf.Meta
		p.Go(func(ctx context.Context) (filters.Update, error) {
			u.bus.Publish(events.FilterDownloadStarted{Filter: m})
			if rf.Lines != nil {
				return filters.Update{Meta: m, Lines: rf.Lines}, nil
			}

			lines, err := u.remote.FetchRules(ctx, m.FilterID, true, u.useOptimized)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					u.bus.Publish(events.FilterDownloadFailed{Filter: m, Err: err})
				}
				return filters.Update{}, fmt.Errorf("filter %d: %w", m.FilterID, err)
			}
			return filters.Update{Meta: m, Lines: lines}, nil
		})
	}

	updates, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Meta.FilterID < updates[j].Meta.FilterID
	})
	return updates, nil
}

// updateCustom re-fetches custom subscriptions. Failures are skipped.
func (u *Updater) updateCustom(ctx context.Context, ids []int) []models.FilterMetadata {
	var updated []models.FilterMetadata
	for _, id := range ids {
		f, ok := u.filters.Filter(id)
		if !ok {
			continue
		}

		u.bus.Publish(events.FilterDownloadStarted{Filter: f})
		header, lines, err := u.remote.FetchCustomRules(ctx, f.CustomURL)
		if err != nil {
			u.logger.Warn(map[string]any{"filter_id": id, "url": f.CustomURL, "error": err}, "Custom filter update failed")
			u.bus.Publish(events.FilterDownloadFailed{Filter: f, Err: err})
			continue
		}

		if f.Loaded && header.Version != "" && !IsGreaterVersion(header.Version, f.Version) {
			if err := u.filters.MarkChecked([]int{id}); err != nil {
				u.logger.Warn(map[string]any{"filter_id": id, "error": err}, "Could not record filter check time")
			}
			continue
		}

		meta := models.FilterMetadata{FilterID: id, Version: header.Version, Name: header.Title}
		if err := u.filters.ApplyUpdates([]filters.Update{{Meta: meta, Lines: lines}}); err != nil {
			u.logger.Warn(map[string]any{"filter_id": id, "error": err}, "Custom filter could not be saved")
			continue
		}
		f, _ = u.filters.Filter(id)
		updated = append(updated, f)
		u.bus.Publish(events.FilterDownloadSucceeded{Filter: f, RulesCount: len(lines)})
	}
	return updated
}

// EnableFilter turns a filter on. A filter that was never downloaded is
// fetched right away; otherwise it is checked for updates unless it was
// checked moments ago.
func (u *Updater) EnableFilter(ctx context.Context, id int) error {
	f, err := u.filters.SetEnabled(id, true)
	if err != nil {
		return err
	}

	if !f.Loaded {
		if err := u.install(ctx, f); err != nil {
			return err
		}
		u.onChanged()
		return nil
	}

	u.onChanged()
	if since, ok := u.filters.SinceLastCheck(id); ok && since < recentCheck {
		return nil
	}

	sel := Selection{}
	if f.IsCustom() {
		sel.CustomFilterIDs = []int{id}
	} else {
		sel.FilterIDs = []int{id}
	}
	_, err = u.run(ctx, sel, true)
	return err
}

// install downloads a filter for the first time, preferring a local copy
func (u *Updater) install(ctx context.Context, f models.FilterMetadata) error {
	u.check.Lock()
	defer u.check.Unlock()

	u.bus.Publish(events.FilterDownloadStarted{Filter: f})
	lines, err := u.remote.FetchRules(ctx, f.FilterID, false, u.useOptimized)
	if err != nil {
		u.bus.Publish(events.FilterDownloadFailed{Filter: f, Err: err})
		return fmt.Errorf("installing filter %d: %w", f.FilterID, err)
	}

	header := fetcher.ParseHeader(lines)
	meta := models.FilterMetadata{FilterID: f.FilterID, Version: header.Version}
	if err := u.filters.ApplyUpdates([]filters.Update{{Meta: meta, Lines: lines}}); err != nil {
		return err
	}

	f, _ = u.filters.Filter(f.FilterID)
	u.bus.Publish(events.FilterDownloadSucceeded{Filter: f, RulesCount: len(lines)})
	return nil
}

// DisableFilter turns a filter off
func (u *Updater) DisableFilter(id int) error {
	if _, err := u.filters.SetEnabled(id, false); err != nil {
		return err
	}
	u.onChanged()
	return nil
}

// AddCustomFilter subscribes to a list by URL. The list title is used when
// title is empty.
func (u *Updater) AddCustomFilter(ctx context.Context, url, title string, trusted bool) (models.FilterMetadata, error) {
	header, lines, err := u.remote.FetchCustomRules(ctx, url)
	if err != nil {
		return models.FilterMetadata{}, err
	}
	if title == "" {
		title = header.Title
	}
	f, err := u.filters.AddCustomFilter(url, title, trusted, header.Version, lines)
	if err != nil {
		return models.FilterMetadata{}, err
	}
	u.onChanged()
	return f, nil
}

// RemoveCustomFilter unsubscribes from a custom list
func (u *Updater) RemoveCustomFilter(id int) error {
	if err := u.filters.RemoveCustomFilter(id); err != nil {
		return err
	}
	u.onChanged()
	return nil
}

// Start schedules the first check after the first-check delay. On a first
// run that check is forced. Later checks follow every update period, each
// timed from the end of the previous one; a zero period disables them.
// firstCheckDone, when set, is called once the first check has succeeded.
func (u *Updater) Start(ctx context.Context, firstRun bool, firstCheckDone func()) {
	ctx, cancel := context.WithCancel(ctx)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancel = cancel
	u.stopped = false
	u.timer = time.AfterFunc(u.firstDelay, func() { u.scheduled(ctx, firstRun, firstCheckDone) })

	u.logger.Info(map[string]any{
		"first_check": u.firstDelay.String(),
		"period":      u.period.String(),
		"first_run":   firstRun,
	}, "Filters update scheduler started")
}

func (u *Updater) scheduled(ctx context.Context, force bool, done func()) {
	_, err := u.CheckForUpdates(ctx, force)
	switch {
	case err == nil && done != nil:
		done()
	case err != nil && ctx.Err() == nil:
		u.logger.Warn(map[string]any{"error": err}, "Scheduled filters update failed, retrying next period")
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped || u.period <= 0 {
		return
	}
	u.timer = time.AfterFunc(u.period, func() { u.scheduled(ctx, false, nil) })
}

// Stop cancels the schedule and any running scheduled check
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopped = true
	if u.timer != nil {
		u.timer.Stop()
	}
	if u.cancel != nil {
		u.cancel()
	}
}
