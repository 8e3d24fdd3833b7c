package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
	"github.com/fundihub/fundichat/internal/domain"
)

const deliveryPollInterval = 100 * time.Millisecond

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		target conversationTarget
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			text := strings.Join(args, " ")

			return withSession(cmd, opts, func(ctx context.Context, rt *app.Runtime) error {
				if _, err := target.open(ctx, rt); err != nil {
					return fmt.Errorf("open conversation: %w", err)
				}
				msg, err := rt.Chat.SendText(ctx, text)
				if msg.Status == domain.DeliveryFailed {
					return err
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}

				msg = waitForDelivery(ctx, rt.Store, msg, wait)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", messageRef(msg), msg.Status)

				return nil
			})
		},
	}
	target.register(cmd)
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the backend echo")

	return cmd
}

// waitForDelivery polls the store until msg is confirmed, ctx ends or wait
// elapses, returning the latest copy.
func waitForDelivery(ctx context.Context, store *domain.ConversationStore, msg domain.Message, wait time.Duration) domain.Message {
	if msg.ClientID == "" || msg.Status == domain.DeliveryConfirmed || wait <= 0 {
		return msg
	}

	ticker := time.NewTicker(deliveryPollInterval)
	defer ticker.Stop()
	timeout := time.After(wait)
	for {
		if latest, ok := store.MessageByClientID(msg.ConversationID, msg.ClientID); ok {
			msg = latest
		}
		if msg.Status == domain.DeliveryConfirmed || msg.Status == domain.DeliveryFailed {
			return msg
		}
		select {
		case <-ctx.Done():
			return msg
		case <-timeout:
			return msg
		case <-ticker.C:
		}
	}
}

func messageRef(msg domain.Message) string {
	if msg.ID != "" {
		return msg.ID
	}

	return "client:" + msg.ClientID
}
