// Package blocker turns the active filter rules into one compiled content
// blocker per output group.
package blocker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bnema/cbsync/internal/events"
	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
)

// RuleSource provides the rules of every active filter plus the user rules
type RuleSource interface {
	ActiveRules() (rules []models.Rule, advanced int)
}

// AllowList provides the rules synthesized from the allow-list
type AllowList interface {
	Rules() []models.Rule
}

// Grouper splits rules into the output groups
type Grouper interface {
	Group(rules []models.Rule) []models.RuleGroup
}

// Compiler converts an ordered rule list into a block set of at most limit entries
type Compiler interface {
	Compile(ctx context.Context, rules []models.Rule, limit int) (*models.CompiledBlockSet, error)
}

// GroupError reports a group whose compilation failed. The group keeps its
// previous block set.
type GroupError struct {
	Group models.OutputGroup
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("compiling %s: %v", e.Group, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Adapter compiles the rule set and holds the active block sets
type Adapter struct {
	rules     RuleSource
	allowList AllowList
	grouper   Grouper
	compiler  Compiler
	bus       *events.Bus
	logger    log.Logger
	limit     int

	enabled atomic.Bool
	run     sync.Mutex

	mu     sync.RWMutex
	active map[models.OutputGroup]*models.CompiledBlockSet
	info   map[models.OutputGroup]events.BlockerInfo
}

// New creates an Adapter with filtering enabled
func New(rules RuleSource, allowList AllowList, grouper Grouper, compiler Compiler, bus *events.Bus, limit int, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.GetLogger()
	}
	a := &Adapter{
		rules:     rules,
		allowList: allowList,
		grouper:   grouper,
		compiler:  compiler,
		bus:       bus,
		logger:    logger,
		limit:     limit,
		active:    make(map[models.OutputGroup]*models.CompiledBlockSet, len(models.OutputGroups)),
		info:      make(map[models.OutputGroup]events.BlockerInfo, len(models.OutputGroups)),
	}
	a.enabled.Store(true)
	return a
}

// SetFilteringEnabled toggles filtering globally. It takes effect on the next Update.
func (a *Adapter) SetFilteringEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// FilteringEnabled reports the global filtering switch
func (a *Adapter) FilteringEnabled() bool {
	return a.enabled.Load()
}

// Active returns the block set currently in effect for a group, nil before
// the first successful pass.
func (a *Adapter) Active(group models.OutputGroup) *models.CompiledBlockSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active[group]
}

// Info returns the last known state of every group
func (a *Adapter) Info() map[models.OutputGroup]events.BlockerInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[models.OutputGroup]events.BlockerInfo, len(a.info))
	for k, v := range a.info {
		out[k] = v
	}
	return out
}

// Update runs one compilation pass.
//
// Each group is compiled from its grouped rules followed by the allow-list
// rules. A group that fails keeps its previous block set and the failures
// are returned together; the other groups are still replaced. With
// filtering disabled every group gets the cleared set and nothing is
// compiled.
func (a *Adapter) Update(ctx context.Context) error {
	a.run.Lock()
	defer a.run.Unlock()

	if !a.enabled.Load() {
		next := make(map[models.OutputGroup]*models.CompiledBlockSet, len(models.OutputGroups))
		for _, g := range models.OutputGroups {
			next[g] = models.EmptyBlockSet()
		}
		a.commit(next, nil, 0)
		a.logger.Info(nil, "Filtering disabled, content blockers cleared")
		return nil
	}

	rules, advanced := a.rules.ActiveRules()
	groups := a.grouper.Group(rules)
	allow := a.allowList.Rules()

	next := make(map[models.OutputGroup]*models.CompiledBlockSet, len(groups))
	failed := make(map[models.OutputGroup]bool)
	var errs []error

	for _, g := range groups {
		list := make([]models.Rule, 0, len(g.Rules)+len(allow))
		list = append(list, g.Rules...)
		list = append(list, allow...)

		set, err := a.compiler.Compile(ctx, list, a.limit)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			a.logger.Error(map[string]any{
				"group": g.Key,
				"rules": len(list),
				"error": err,
			}, "Content blocker compilation failed, keeping previous rules")
			failed[g.Key] = true
			errs = append(errs, &GroupError{Group: g.Key, Err: err})
			continue
		}
		if len(set.Rules) == 0 {
			set.Rules = []models.WebKitRule{models.IgnoreEverythingRule()}
		}
		next[g.Key] = set
	}

	if len(next) > 0 {
		a.commit(next, failed, advanced)
	} else {
		a.markFailed(failed)
	}
	return errors.Join(errs...)
}

// commit swaps in the new sets, then notifies observers
func (a *Adapter) commit(next map[models.OutputGroup]*models.CompiledBlockSet, failed map[models.OutputGroup]bool, advanced int) {
	a.mu.Lock()
	for g, set := range next {
		a.active[g] = set
		a.info[g] = events.BlockerInfo{RulesCount: set.RulesCount, OverLimit: set.OverLimit}
	}
	for g := range failed {
		info := a.info[g]
		info.HasError = true
		a.info[g] = info
	}

	total, overLimit := 0, false
	for _, info := range a.info {
		total += info.RulesCount
		overLimit = overLimit || info.OverLimit
	}
	infos := make(map[models.OutputGroup]events.BlockerInfo, len(a.info))
	for g, info := range a.info {
		infos[g] = info
	}
	a.mu.Unlock()

	for _, g := range models.OutputGroups {
		set, ok := next[g]
		if !ok {
			continue
		}
		a.bus.Publish(events.ContentBlockerUpdateRequired{Group: g, Compiled: set, Info: infos[g]})
	}
	a.bus.Publish(events.ContentBlockerUpdated{
		RulesCount:                 total,
		OverLimit:                  overLimit,
		AdvancedBlockingRulesCount: advanced,
	})

	a.logger.Info(map[string]any{
		"rules":      total,
		"over_limit": overLimit,
		"advanced":   advanced,
		"failed":     len(failed),
	}, "Content blockers updated")
}

func (a *Adapter) markFailed(failed map[models.OutputGroup]bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for g := range failed {
		info := a.info[g]
		info.HasError = true
		a.info[g] = info
	}
}
