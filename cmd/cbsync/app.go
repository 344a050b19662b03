package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/cbsync/internal/allowlist"
	"github.com/bnema/cbsync/internal/blocker"
	"github.com/bnema/cbsync/internal/catalog"
	"github.com/bnema/cbsync/internal/clock"
	"github.com/bnema/cbsync/internal/converter"
	"github.com/bnema/cbsync/internal/events"
	"github.com/bnema/cbsync/internal/fetcher"
	"github.com/bnema/cbsync/internal/filters"
	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/bnema/cbsync/internal/output"
	"github.com/bnema/cbsync/internal/parser"
	"github.com/bnema/cbsync/internal/reload"
	"github.com/bnema/cbsync/internal/rulegroups"
	"github.com/bnema/cbsync/internal/storage"
	"github.com/bnema/cbsync/internal/updater"
)

// application holds every component of the pipeline
type application struct {
	cfg        models.Config
	store      *storage.Store
	catalog    *catalog.Catalog
	filters    *filters.Manager
	allowList  *allowlist.List
	bus        *events.Bus
	adapter    *blocker.Adapter
	controller *reload.Controller
	updater    *updater.Updater
	writer     *output.Writer
	firstRun   bool

	mu        sync.Mutex
	reloadErr error
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg models.Config) (*application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	cat, err := catalog.Load(cfg.Filters.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	initialized, err := store.Initialized()
	if err != nil {
		store.Close()
		return nil, err
	}

	manager, err := filters.NewManager(cat, store, clk, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	allowList, err := allowlist.New(store, models.AllowListState{
		Mode:    models.AllowListMode(cfg.AllowList.Mode),
		Domains: cfg.AllowList.Domains,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	compiler, err := converter.NewCompiler(converter.DefaultCacheSize, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewBus()
	grouper := rulegroups.New(manager, logger)
	adapter := blocker.New(manager, allowList, grouper, compiler, bus, cfg.Output.RulesLimit, logger)
	adapter.SetFilteringEnabled(cfg.FilteringEnabled)

	controller := reload.New(adapter.Update, cfg.Reload, logger)

	remote := fetcher.NewService(fetcher.New(cfg.HTTP), cfg.Filters, manager, logger)
	upd := updater.New(manager, remote, bus, clk, cfg.Filters, controller.RuleSetChanged, logger)

	writer := output.New(cfg.Output, clk, logger)
	bus.Subscribe(writer.Handle)
	bus.Subscribe(logEvent)

	app := &application{
		cfg:        cfg,
		store:      store,
		catalog:    cat,
		filters:    manager,
		allowList:  allowList,
		bus:        bus,
		adapter:    adapter,
		controller: controller,
		updater:    upd,
		writer:     writer,
		firstRun:   !initialized,
	}

	controller.OnError(app.recordReloadError)

	if err := app.loadUserRules(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// loadUserRules reads the user rules file into the filter manager. A
// missing file means no user rules.
func (a *application) loadUserRules() error {
	path := a.cfg.Filters.UserRulesFile
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return a.filters.SetUserRules(nil)
	}
	if err != nil {
		return fmt.Errorf("reading user rules: %w", err)
	}

	lines, err := parser.ReadLines(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reading user rules: %w", err)
	}
	return a.filters.SetUserRules(lines)
}

func (a *application) recordReloadError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reloadErr = errors.Join(a.reloadErr, err)
}

// waitReload waits for pending reloads and returns their failures
func (a *application) waitReload(ctx context.Context) error {
	if err := a.controller.Wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.reloadErr
	a.reloadErr = nil
	return err
}

// reloadAndWait requests a rule set reload and waits for it to finish
func (a *application) reloadAndWait(ctx context.Context) error {
	a.controller.RuleSetChanged()
	return a.waitReload(ctx)
}

func (a *application) Close() {
	a.updater.Stop()
	a.controller.Close()
	if err := a.store.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Failed to close storage")
	}
}

// logEvent reports filter downloads in the log
func logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.FilterDownloadSucceeded:
		log.Info(map[string]any{
			"filter_id": e.Filter.FilterID,
			"name":      e.Filter.Name,
			"version":   e.Filter.Version,
			"rules":     e.RulesCount,
		}, "Filter downloaded")
	case events.FilterDownloadFailed:
		log.Warn(map[string]any{
			"filter_id": e.Filter.FilterID,
			"name":      e.Filter.Name,
			"error":     e.Err,
		}, "Filter download failed")
	case events.ContentBlockerUpdated:
		if e.OverLimit {
			log.Warn(map[string]any{"rules": e.RulesCount}, "Rule set too large, some rules were not applied")
		}
	}
}
