package notifications

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestDesktopSender_PassesPayloadThrough(t *testing.T) {
	var gotTitle, gotMessage string
	s := NewDesktopSender(slog.New(slog.NewTextHandler(io.Discard, nil)), "")
	s.notify = func(title, message string, _ any) error {
		gotTitle, gotMessage = title, message

		return nil
	}

	s.Send(Payload{Title: "@u2", Content: "u2: hello"})

	if gotTitle != "@u2" || gotMessage != "u2: hello" {
		t.Fatalf("unexpected notification: %q %q", gotTitle, gotMessage)
	}
}

func TestDesktopSender_SwallowsBackendErrors(t *testing.T) {
	s := NewDesktopSender(nil, "")
	calls := 0
	s.notify = func(string, string, any) error {
		calls++

		return errors.New("no dbus session")
	}

	s.Send(Payload{Title: "t"})
	if calls != 1 {
		t.Fatalf("expected one notify call, got %d", calls)
	}
}
