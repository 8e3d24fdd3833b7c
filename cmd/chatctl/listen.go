package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
)

const metricsShutdownTimeout = 2 * time.Second

func newListenCmd(opts *rootOptions) *cobra.Command {
	var (
		target      conversationTarget
		listenFor   time.Duration
		metricsAddr string
		markRead    bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print chat traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, app.Options{Exclusive: true}, func(ctx context.Context, rt *app.Runtime) error {
				out := cmd.OutOrStdout()
				if metricsAddr != "" {
					stopMetrics := serveMetrics(metricsAddr, rt.Metrics.Handler())
					defer stopMetrics()
				}
				watch(ctx, rt.Bus, out)

				if err := rt.StartSession(ctx, opts.credentials()); err != nil {
					return fmt.Errorf("start session: %w", err)
				}
				if !target.empty() {
					conv, err := target.open(ctx, rt)
					if err != nil {
						return fmt.Errorf("open conversation: %w", err)
					}
					fmt.Fprintf(out, "watching conversation %s\n", conv.ID)
					for _, msg := range rt.Store.Messages(conv.ID) {
						fmt.Fprintln(out, formatMessage(msg))
					}
					if markRead {
						if _, err := rt.Chat.MarkVisibleAsRead(ctx); err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "warning: mark read: %v\n", err)
						}
					}
				}

				if listenFor > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(listenFor):
					}

					return nil
				}
				<-ctx.Done()

				return nil
			})
		},
	}
	target.register(cmd)
	cmd.Flags().DurationVar(&listenFor, "for", 0, "listen duration, e.g. 30s (default until interrupt)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark loaded messages as read")

	return cmd
}

func watch(ctx context.Context, b bus.MessageBus, out io.Writer) {
	bus.Listen(ctx, b, connectors.TopicConnStatus, func(status connectors.ConnStatus) {
		fmt.Fprintf(out, "* %s\n", app.DescribeConnStatus(status))
	})
	bus.Listen(ctx, b, connectors.TopicMessage, func(ev domain.MessageEvent) {
		if !ev.Incoming {
			return
		}
		fmt.Fprintln(out, formatMessage(ev.Message))
	})
	bus.Listen(ctx, b, connectors.TopicTyping, func(update connectors.TypingUpdate) {
		if len(update.UserIDs) == 0 {
			return
		}
		fmt.Fprintf(out, "* %s typing in %s\n", strings.Join(update.UserIDs, ", "), update.ConversationID)
	})
	bus.Listen(ctx, b, connectors.TopicReadReceipt, func(r domain.ReadReceipt) {
		fmt.Fprintf(out, "* %s read %s\n", r.UserID, r.MessageID)
	})
	bus.Listen(ctx, b, connectors.TopicChatError, func(e connectors.ChatError) {
		fmt.Fprintf(out, "! %s: %s\n", e.Op, e.Message)
	})
}

// serveMetrics starts an HTTP listener for /metrics and returns its stop
// function.
func serveMetrics(addr string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func formatMessage(msg domain.Message) string {
	at := msg.Timestamp.Local().Format(time.DateTime)
	body := msg.Content
	if msg.File != nil {
		body = fmt.Sprintf("[%s] %s %s", msg.Kind, msg.File.Name, msg.File.URL)
		if msg.File.LocalOnly {
			body += " (local only)"
		}
	}

	return fmt.Sprintf("%s %s <%s> %s", at, msg.ConversationID, msg.SenderID, body)
}
