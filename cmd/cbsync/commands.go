package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bnema/cbsync/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known filters and their state",
	RunE:  runList,
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Compile the active rules into content blockers",
	RunE:  runConvert,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check filters for updates and recompile",
	RunE:  runUpdate,
}

var enableCmd = &cobra.Command{
	Use:   "enable <filterId>",
	Short: "Enable a filter, downloading it if needed",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnable,
}

var disableCmd = &cobra.Command{
	Use:   "disable <filterId>",
	Short: "Disable a filter",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisable,
}

func init() {
	convertCmd.Flags().Bool("verbose", false, "show skipped rules per group")
	updateCmd.Flags().Bool("force", false, "check every filter regardless of when it was last checked")
}

// withApp builds the application, runs fn and tears everything down
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *application) error) error {
	app, err := buildApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

func parseFilterID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid filter id %q", s)
	}
	return id, nil
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application) error {
		fmt.Println("Filters:")
		group := -1
		for _, f := range app.filters.Filters() {
			if f.GroupID != group {
				group = f.GroupID
				fmt.Printf("\n  %s\n", app.catalog.GroupName(group))
			}

			status := "disabled"
			if f.Active() {
				status = "enabled"
			}
			version := f.Version
			if !f.Loaded {
				version = "not downloaded"
			}
			fmt.Printf("    [%s] %4d %s (%s)\n", status, f.FilterID, f.Name, version)
			if f.IsCustom() && !f.Trusted {
				fmt.Printf("           untrusted: scriptlet and injection rules are ignored\n")
			}
		}
		return nil
	})
}

func runConvert(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	return withApp(cmd, func(ctx context.Context, app *application) error {
		if !app.adapter.FilteringEnabled() {
			fmt.Println("Filtering is disabled: every content blocker is cleared")
		}

		updateErr := app.adapter.Update(ctx)

		info := app.adapter.Info()
		total := 0
		for _, g := range models.OutputGroups {
			gi := info[g]
			total += gi.RulesCount

			note := ""
			switch {
			case gi.HasError:
				note = " (compilation failed, previous rules kept)"
			case gi.OverLimit:
				note = " (over limit, truncated)"
			}
			fmt.Printf("  %-28s %6d rules%s\n", g, gi.RulesCount, note)

			set := app.adapter.Active(g)
			if verbose && set != nil && set.Skipped > 0 {
				reasons := make([]string, 0, len(set.SkipReasons))
				for r := range set.SkipReasons {
					reasons = append(reasons, r)
				}
				sort.Strings(reasons)
				for _, r := range reasons {
					fmt.Printf("      - %s: %d\n", r, set.SkipReasons[r])
				}
			}
		}
		fmt.Printf("\nTotal rules: %d, written to %s\n", total, app.cfg.Output.Dir)
		return updateErr
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	return withApp(cmd, func(ctx context.Context, app *application) error {
		updated, err := app.updater.CheckForUpdates(ctx, force)
		if err != nil {
			return err
		}

		if len(updated) == 0 {
			fmt.Println("All filters are up to date")
			return nil
		}
		for _, f := range updated {
			fmt.Printf("  Updated %s to %s\n", f.Name, f.Version)
		}
		return app.waitReload(ctx)
	})
}

func runEnable(cmd *cobra.Command, args []string) error {
	id, err := parseFilterID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *application) error {
		if err := app.updater.EnableFilter(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Enabled filter %d\n", id)
		return app.waitReload(ctx)
	})
}

func runDisable(cmd *cobra.Command, args []string) error {
	id, err := parseFilterID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *application) error {
		if err := app.updater.DisableFilter(id); err != nil {
			return err
		}
		fmt.Printf("Disabled filter %d\n", id)
		return app.waitReload(ctx)
	})
}
