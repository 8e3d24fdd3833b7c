package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/connectors"
)

const releasesFixture = `[
	{"tag_name":"v0.8.0-rc.1","prerelease":true,"html_url":"https://example.com/r/0.8.0-rc.1","published_at":"2026-02-14T01:00:00Z"},
	{"tag_name":"v0.7.1","draft":true,"published_at":"2026-02-13T01:00:00Z"},
	{"tag_name":"v0.7.0","body":"body-1","html_url":"https://example.com/r/0.7.0","published_at":"2026-02-12T01:00:00Z"},
	{"tag_name":"v0.6.1","body":"body-2","html_url":"https://example.com/r/0.6.1","published_at":"2026-02-10T01:00:00Z"}
]`

func TestNormalizeSemver(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "0.7.0", want: "v0.7.0"},
		{name: "already prefixed", in: "v0.7.0", want: "v0.7.0"},
		{name: "trim spaces", in: " 0.7.0 ", want: "v0.7.0"},
	}

	for _, tt := range tests {
		if got := normalizeSemver(tt.in); got != tt.want {
			t.Fatalf("%s: normalizeSemver(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestIsReleaseNewer(t *testing.T) {
	tests := []struct {
		name    string
		current string
		latest  string
		want    bool
	}{
		{name: "newer release", current: "0.9.2", latest: "0.10.1", want: true},
		{name: "equal release", current: "v0.10.1", latest: "0.10.1", want: false},
		{name: "current newer", current: "0.10.2", latest: "0.10.1", want: false},
		{name: "dev current treated older", current: "dev", latest: "0.10.1", want: true},
		{name: "invalid latest ignored", current: "0.10.1", latest: "not-semver", want: false},
	}

	for _, tt := range tests {
		if got := isReleaseNewer(tt.current, tt.latest); got != tt.want {
			t.Fatalf("%s: isReleaseNewer(%q, %q) = %v, want %v", tt.name, tt.current, tt.latest, got, tt.want)
		}
	}
}

func TestUpdateCheckerCheckSkipsDraftsAndPrereleases(t *testing.T) {
	var acceptHeader, userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptHeader = r.Header.Get("Accept")
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, releasesFixture)
	}))
	defer server.Close()

	checker := NewUpdateChecker(UpdateCheckerConfig{
		CurrentVersion: "0.6.0",
		Endpoint:       server.URL,
		HTTPClient:     server.Client(),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	snapshot, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if acceptHeader != "application/vnd.github+json" {
		t.Fatalf("unexpected Accept header %q", acceptHeader)
	}
	if !strings.HasPrefix(userAgent, Name+"/") {
		t.Fatalf("unexpected User-Agent %q", userAgent)
	}
	if snapshot.Latest.Version != "v0.7.0" {
		t.Fatalf("unexpected latest version: %q", snapshot.Latest.Version)
	}
	if snapshot.Latest.HTMLURL != "https://example.com/r/0.7.0" {
		t.Fatalf("unexpected latest html url: %q", snapshot.Latest.HTMLURL)
	}
	if len(snapshot.Releases) != 2 {
		t.Fatalf("expected 2 published releases, got %d", len(snapshot.Releases))
	}
	if !snapshot.UpdateAvailable {
		t.Fatalf("expected update available")
	}
	if current, ok := checker.CurrentSnapshot(); !ok || current.Latest.Version != "v0.7.0" {
		t.Fatalf("expected snapshot to be recorded, got %+v (known=%v)", current, ok)
	}
}

func TestUpdateCheckerCheckErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error body", status: http.StatusForbidden, body: "rate limited", wantErr: "unexpected status 403: rate limited"},
		{name: "bad json", status: http.StatusOK, body: "{", wantErr: "decode releases response"},
		{name: "only drafts", status: http.StatusOK, body: `[{"tag_name":"v1.0.0","draft":true}]`, wantErr: errNoReleases.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			checker := NewUpdateChecker(UpdateCheckerConfig{
				CurrentVersion: "0.6.0",
				Endpoint:       server.URL,
				HTTPClient:     server.Client(),
				Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			_, err := checker.Check(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if _, ok := checker.CurrentSnapshot(); ok {
				t.Fatalf("failed check must not record a snapshot")
			}
		})
	}
}

func TestUpdateCheckerStartRecoversAfterFailedCheck(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")

			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, releasesFixture)
	}))
	defer server.Close()

	checker := NewUpdateChecker(UpdateCheckerConfig{
		CurrentVersion: "0.6.0",
		Endpoint:       server.URL,
		HTTPClient:     server.Client(),
		Interval:       25 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	checker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snapshot, ok := checker.CurrentSnapshot(); ok {
			if snapshot.Latest.Version != "v0.7.0" {
				t.Fatalf("unexpected latest version after recovery: %q", snapshot.Latest.Version)
			}

			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("expected checker to recover and record a snapshot")
}

func TestUpdateCheckerPublishesSnapshotsToBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := newTestMessageBus(t)
	sub := messageBus.Subscribe(connectors.TopicUpdateSnapshot)
	t.Cleanup(func() {
		messageBus.Unsubscribe(sub, connectors.TopicUpdateSnapshot)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, releasesFixture)
	}))
	defer server.Close()

	var published bus.MessageBus = messageBus
	checker := NewUpdateChecker(UpdateCheckerConfig{
		CurrentVersion: "0.7.0",
		Endpoint:       server.URL,
		HTTPClient:     server.Client(),
		Bus:            published,
		Logger:         logger,
	})
	if _, err := checker.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	select {
	case raw := <-sub:
		snapshot, ok := raw.(UpdateSnapshot)
		if !ok {
			t.Fatalf("expected UpdateSnapshot payload, got %T", raw)
		}
		if snapshot.UpdateAvailable {
			t.Fatalf("0.7.0 is current, no update expected")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update snapshot to be published to bus")
	}
}
