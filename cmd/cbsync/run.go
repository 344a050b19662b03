package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep content blockers in sync until interrupted",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	app, err := buildApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info(map[string]any{
		"output":    app.cfg.Output.Dir,
		"filters":   len(app.filters.Filters()),
		"first_run": app.firstRun,
	}, "Starting cbsync")

	watchConfig(app)

	if app.cfg.Filters.UserRulesFile != "" {
		watcher, err := watchUserRules(ctx, app)
		if err != nil {
			log.Warn(map[string]any{"error": err, "file": app.cfg.Filters.UserRulesFile}, "User rules will not be reloaded on change")
		} else {
			defer watcher.Close()
		}
	}

	app.controller.RuleSetChanged()
	var firstCheckDone func()
	if app.firstRun {
		// the forced first check runs again on the next start until it succeeds
		firstCheckDone = func() {
			if err := app.store.MarkInitialized(time.Now()); err != nil {
				log.Warn(map[string]any{"error": err}, "Failed to record first run")
			}
		}
	}
	app.updater.Start(ctx, app.firstRun, firstCheckDone)

	<-ctx.Done()
	log.Info(nil, "cbsync stopped")
	return nil
}

// watchConfig applies filtering_enabled changes from the config file
func watchConfig(app *application) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		var next models.Config
		if err := viper.Unmarshal(&next); err != nil {
			log.Warn(map[string]any{"error": err}, "Ignoring unreadable config change")
			return
		}
		if err := next.Validate(); err != nil {
			log.Warn(map[string]any{"error": err}, "Ignoring invalid config change")
			return
		}

		if next.FilteringEnabled != app.adapter.FilteringEnabled() {
			log.Info(map[string]any{"enabled": next.FilteringEnabled}, "Filtering switched")
			app.adapter.SetFilteringEnabled(next.FilteringEnabled)
			app.controller.RuleSetChanged()
		}
	})
	viper.WatchConfig()
}

// watchUserRules reloads the user rules whenever their file changes. The
// directory is watched so editors that replace the file are handled.
func watchUserRules(ctx context.Context, app *application) (*fsnotify.Watcher, error) {
	path, err := filepath.Abs(app.cfg.Filters.UserRulesFile)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := app.loadUserRules(); err != nil {
					log.Warn(map[string]any{"error": err}, "Failed to reload user rules")
					continue
				}
				log.Debug(map[string]any{"file": path}, "User rules changed")
				app.controller.RuleSetChanged()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn(map[string]any{"error": err}, "User rules watcher error")
			}
		}
	}()

	return watcher, nil
}
