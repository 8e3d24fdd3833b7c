package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/domain"
)

type rootOptions struct {
	quiet  bool
	userID string
	token  string
}

func (o *rootOptions) credentials() config.Credentials {
	return config.Credentials{
		UserID: strings.TrimSpace(o.userID),
		Token:  strings.TrimSpace(o.token),
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Command line client for the marketplace chat",
		Long: `chatctl talks to the chat backend with the same session core the
desktop client uses: persistent socket, offline queue, uploads and the
local message cache.`,
		Version:       app.BuildVersionWithDate(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress console logs")
	cmd.PersistentFlags().StringVar(&opts.userID, "user", "", "user id (default $"+config.EnvUserID+")")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "auth token (default $"+config.EnvAuthToken+")")

	cmd.AddCommand(
		newListenCmd(opts),
		newSendCmd(opts),
		newUploadCmd(opts),
		newSearchCmd(opts),
		newVersionCmd(),
		newCacheCmd(opts),
	)

	return cmd
}

// withRuntime runs fn against an initialized runtime and closes it after.
func withRuntime(cmd *cobra.Command, opts *rootOptions, runtimeOpts app.Options, fn func(ctx context.Context, rt *app.Runtime) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtimeOpts.Quiet = opts.quiet
	rt, err := app.Initialize(ctx, runtimeOpts)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	return fn(ctx, rt)
}

// withSession is withRuntime plus sign-in.
func withSession(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, rt *app.Runtime) error) error {
	return withRuntime(cmd, opts, app.Options{}, func(ctx context.Context, rt *app.Runtime) error {
		if err := rt.StartSession(ctx, opts.credentials()); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		if err := rt.Chat.LastError(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; messages will be queued\n", err)
			rt.Chat.ClearError()
		}

		return fn(ctx, rt)
	})
}

// conversationTarget names a conversation either by id or by the other
// participants.
type conversationTarget struct {
	id      string
	with    []string
	service string
}

func (t *conversationTarget) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.id, "conversation", "", "conversation id")
	cmd.Flags().StringSliceVar(&t.with, "with", nil, "other participant user ids")
	cmd.Flags().StringVar(&t.service, "service", "", "service name for a provider conversation")
}

var errNoTarget = errors.New("set --conversation or --with")

func (t *conversationTarget) empty() bool {
	return strings.TrimSpace(t.id) == "" && len(t.with) == 0
}

func (t *conversationTarget) validate() error {
	if t.empty() {
		return errNoTarget
	}
	if strings.TrimSpace(t.id) != "" && len(t.with) > 0 {
		return errors.New("--conversation and --with are mutually exclusive")
	}

	return nil
}

func (t *conversationTarget) kind() (domain.ConversationKind, map[string]string) {
	service := strings.TrimSpace(t.service)
	if service == "" {
		return domain.ConversationKindDirect, nil
	}

	return domain.ConversationKindProviderClient, map[string]string{"serviceName": service}
}

// open activates the target conversation, creating it when addressed by
// participants.
func (t *conversationTarget) open(ctx context.Context, rt *app.Runtime) (domain.Conversation, error) {
	if err := t.validate(); err != nil {
		return domain.Conversation{}, err
	}
	if id := strings.TrimSpace(t.id); id != "" {
		if err := rt.Chat.SelectConversation(ctx, id); err != nil {
			return domain.Conversation{}, err
		}
		conv, _ := rt.Store.Conversation(id)

		return conv, nil
	}
	kind, meta := t.kind()

	return rt.Chat.OpenOrCreateConversation(ctx, t.with, kind, meta)
}
