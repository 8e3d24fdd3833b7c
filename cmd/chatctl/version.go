package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
)

const updateCheckTimeout = 10 * time.Second

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, app.BuildVersionWithDate())
			if !check {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), updateCheckTimeout)
			defer cancel()
			snapshot, err := app.NewUpdateChecker(app.UpdateCheckerConfig{
				CurrentVersion: app.BuildVersion(),
			}).Check(ctx)
			if err != nil {
				return fmt.Errorf("check for updates: %w", err)
			}
			if !snapshot.UpdateAvailable {
				fmt.Fprintln(out, "up to date")

				return nil
			}
			fmt.Fprintf(out, "update available: %s\n%s\n", snapshot.Latest.Version, snapshot.Latest.HTMLURL)

			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check the release feed for a newer version")

	return cmd
}
