package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/cbsync/internal/models"
)

var allowListCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "Manage the allow-list",
	RunE:  runAllowListShow,
}

var allowListAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Add a domain to the allow-list",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllowListAdd,
}

var allowListRemoveCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Remove a domain from the allow-list",
	Args:  cobra.ExactArgs(1),
	RunE:  runAllowListRemove,
}

var allowListModeCmd = &cobra.Command{
	Use:       "mode <default|inverted>",
	Short:     "Switch the allow-list mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.AllowListDefault), string(models.AllowListInverted)},
	RunE:      runAllowListMode,
}

func init() {
	allowListCmd.AddCommand(allowListAddCmd, allowListRemoveCmd, allowListModeCmd)
}

func runAllowListShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application) error {
		fmt.Printf("Mode: %s\n", app.allowList.Mode())
		for _, d := range app.allowList.Domains() {
			fmt.Printf("  %s\n", d)
		}
		return nil
	})
}

func runAllowListAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application) error {
		added, err := app.allowList.Add(args[0])
		if err != nil {
			return err
		}
		if !added {
			fmt.Printf("%s is already listed\n", args[0])
			return nil
		}
		fmt.Printf("Added %s\n", args[0])
		return app.reloadAndWait(ctx)
	})
}

func runAllowListRemove(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application) error {
		removed, err := app.allowList.Remove(args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("%s is not listed\n", args[0])
			return nil
		}
		fmt.Printf("Removed %s\n", args[0])
		return app.reloadAndWait(ctx)
	})
}

func runAllowListMode(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *application) error {
		if err := app.allowList.SetMode(models.AllowListMode(args[0])); err != nil {
			return err
		}
		fmt.Printf("Allow-list mode: %s\n", args[0])
		return app.reloadAndWait(ctx)
	})
}
