package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
	"github.com/fundihub/fundichat/internal/config"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		target conversationTarget
		local  bool
	)
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search messages in a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			query := strings.Join(args, " ")

			if local {
				if strings.TrimSpace(target.id) == "" {
					return errors.New("--local needs --conversation")
				}

				return withRuntime(cmd, opts, app.Options{}, func(ctx context.Context, rt *app.Runtime) error {
					limit := rt.CurrentConfig().Chat.SearchPageSize
					if limit <= 0 {
						limit = config.DefaultSearchPageSize
					}
					found, err := rt.MessageRepo.Search(ctx, target.id, query, limit)
					if err != nil {
						return err
					}
					for _, msg := range found {
						fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
					}

					return nil
				})
			}

			return withSession(cmd, opts, func(ctx context.Context, rt *app.Runtime) error {
				if _, err := target.open(ctx, rt); err != nil {
					return fmt.Errorf("open conversation: %w", err)
				}
				found, err := rt.Chat.SearchMessages(ctx, query)
				if err != nil {
					return err
				}
				for _, msg := range found {
					fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
				}

				return nil
			})
		},
	}
	target.register(cmd)
	cmd.Flags().BoolVar(&local, "local", false, "search the local cache without connecting")

	return cmd
}
