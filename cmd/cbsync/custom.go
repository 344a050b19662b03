package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var customCmd = &cobra.Command{
	Use:   "custom",
	Short: "Manage custom filter subscriptions",
}

var customAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Subscribe to a filter list by URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustomAdd,
}

var customRemoveCmd = &cobra.Command{
	Use:   "remove <filterId>",
	Short: "Remove a custom filter",
	Args:  cobra.ExactArgs(1),
	RunE:  runCustomRemove,
}

func init() {
	customAddCmd.Flags().String("title", "", "display name (default: the list title)")
	customAddCmd.Flags().Bool("trusted", false, "allow scriptlet and injection rules from this list")
	customCmd.AddCommand(customAddCmd, customRemoveCmd)
}

func runCustomAdd(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	trusted, _ := cmd.Flags().GetBool("trusted")

	return withApp(cmd, func(ctx context.Context, app *application) error {
		f, err := app.updater.AddCustomFilter(ctx, args[0], title, trusted)
		if err != nil {
			return err
		}
		fmt.Printf("Added custom filter %d: %s\n", f.FilterID, f.Name)
		return app.waitReload(ctx)
	})
}

func runCustomRemove(cmd *cobra.Command, args []string) error {
	id, err := parseFilterID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *application) error {
		if err := app.updater.RemoveCustomFilter(id); err != nil {
			return err
		}
		fmt.Printf("Removed custom filter %d\n", id)
		return app.waitReload(ctx)
	})
}
