package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage local cached data",
	}

	var withDB bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove spooled uploads and, with --db, the message cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, app.Options{}, func(_ context.Context, rt *app.Runtime) error {
				if err := rt.ClearCache(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", rt.Paths.CacheDir)
				if !withDB {
					return nil
				}
				if err := rt.ClearDatabase(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", rt.Paths.DBFile)

				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&withDB, "db", false, "also wipe the local message database")
	cmd.AddCommand(clearCmd)

	return cmd
}
