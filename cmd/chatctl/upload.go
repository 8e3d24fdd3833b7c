package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fundihub/fundichat/internal/app"
	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/upload"
)

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var target conversationTarget
	cmd := &cobra.Command{
		Use:   "upload [file...]",
		Short: "Upload files and share them in a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}

			return withSession(cmd, opts, func(ctx context.Context, rt *app.Runtime) error {
				if _, err := target.open(ctx, rt); err != nil {
					return fmt.Errorf("open conversation: %w", err)
				}
				printProgress(ctx, rt.Bus, cmd.ErrOrStderr())

				sent, err := rt.Chat.SendFile(ctx, files)
				for _, msg := range sent {
					fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
				}

				return err
			})
		},
	}
	target.register(cmd)

	return cmd
}

func readFiles(paths []string) ([]*upload.File, error) {
	files := make([]*upload.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, &upload.File{
			Name:     filepath.Base(path),
			MIMEType: detectMIME(path, data),
			Data:     data,
		})
	}

	return files, nil
}

// detectMIME prefers the extension and falls back to content sniffing.
func detectMIME(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	sniffed := http.DetectContentType(data)
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mediaType
	}

	return sniffed
}

func printProgress(ctx context.Context, b bus.MessageBus, out io.Writer) {
	bus.Listen(ctx, b, connectors.TopicUploadProgress, func(p connectors.UploadProgress) {
		fmt.Fprintf(out, "uploading %s (%d/%d) %d%%\n", p.FileName, p.Index+1, p.Total, p.Percent)
	})
}
