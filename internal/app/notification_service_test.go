package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/notifications"
)

func startNotificationService(t *testing.T, store *domain.ConversationStore, cfg func() config.AppConfig, foreground func() bool) (*bus.PubSubBus, *collectingNotificationSender) {
	t.Helper()

	messageBus := newTestMessageBus(t)
	sender := newCollectingNotificationSender()
	if cfg == nil {
		defaults := config.Default()
		cfg = func() config.AppConfig { return defaults }
	}
	if foreground == nil {
		foreground = func() bool { return false }
	}
	service := NewNotificationService(messageBus, store, cfg, foreground, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service.Start(ctx)

	return messageBus, sender
}

func incomingEvent(id, convID, sender, content string) domain.MessageEvent {
	return domain.MessageEvent{
		Message:  domain.Message{ID: id, ConversationID: convID, SenderID: sender, Content: content, Kind: domain.MessageKindText},
		Incoming: true,
	}
}

func TestNotificationServiceIncomingDirectMessage(t *testing.T) {
	messageBus, sender := startNotificationService(t, domain.NewConversationStore(), nil, nil)

	messageBus.Publish(connectors.TopicMessage, incomingEvent("m1", "c1", "user-b", "  Hello\nthere "))

	got := sender.waitForCount(t, 1)
	if got[0].Title != "@user-b" {
		t.Fatalf("expected title @user-b, got %q", got[0].Title)
	}
	if got[0].Content != "user-b: Hello there" {
		t.Fatalf("expected content %q, got %q", "user-b: Hello there", got[0].Content)
	}
}

func TestNotificationServiceProviderConversationTitle(t *testing.T) {
	store := domain.NewConversationStore()
	store.Prepend(domain.Conversation{
		ID:             "c1",
		ParticipantIDs: []string{"user-a", "user-b"},
		Kind:           domain.ConversationKindProviderClient,
		Metadata:       map[string]string{"serviceName": "Plumbing repair"},
	})
	messageBus, sender := startNotificationService(t, store, nil, nil)

	messageBus.Publish(connectors.TopicMessage, incomingEvent("m1", "c1", "user-b", "I can come at 5"))

	got := sender.waitForCount(t, 1)
	if got[0].Title != "#Plumbing repair" {
		t.Fatalf("expected provider title, got %q", got[0].Title)
	}
}

func TestNotificationServiceSkipsOutgoingAndEchoes(t *testing.T) {
	messageBus, sender := startNotificationService(t, domain.NewConversationStore(), nil, nil)

	outgoing := incomingEvent("m0", "c1", "user-a", "mine")
	outgoing.Incoming = false
	messageBus.Publish(connectors.TopicMessage, outgoing)
	messageBus.Publish(connectors.TopicMessage, incomingEvent("m1", "c1", "user-b", "hi"))
	messageBus.Publish(connectors.TopicMessage, incomingEvent("m1", "c1", "user-b", "hi"))

	sender.waitForCount(t, 1)
	sender.assertCount(t, 1)
}

func TestNotificationServiceFocusRules(t *testing.T) {
	cfg := config.Default()
	var cfgMu sync.RWMutex
	messageBus, sender := startNotificationService(t, domain.NewConversationStore(), func() config.AppConfig {
		cfgMu.RLock()
		defer cfgMu.RUnlock()

		return cfg
	}, func() bool { return true })

	messageBus.Publish(connectors.TopicMessage, incomingEvent("m1", "active", "user-b", "visible already"))
	sender.assertCount(t, 0)

	background := incomingEvent("m2", "other", "user-c", "elsewhere")
	background.Background = true
	messageBus.Publish(connectors.TopicMessage, background)
	sender.waitForCount(t, 1)

	cfgMu.Lock()
	cfg.Notifications.NotifyWhenFocused = true
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicMessage, incomingEvent("m3", "active", "user-b", "now notify"))
	got := sender.waitForCount(t, 2)
	if got[1].Content != "user-b: now notify" {
		t.Fatalf("unexpected content %q", got[1].Content)
	}

	cfgMu.Lock()
	cfg.Notifications.Enabled = false
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicMessage, incomingEvent("m4", "active", "user-b", "muted"))
	sender.assertCount(t, 2)
}

func TestMessagePreview(t *testing.T) {
	tests := []struct {
		name string
		msg  domain.Message
		want string
	}{
		{name: "photo", msg: domain.Message{Kind: domain.MessageKindImage, Content: "a.jpg"}, want: "sent a photo"},
		{name: "voice", msg: domain.Message{Kind: domain.MessageKindAudio}, want: "sent a voice message"},
		{name: "file uses ref name", msg: domain.Message{Kind: domain.MessageKindFile, Content: "x", File: &domain.FileRef{Name: "quote.pdf"}}, want: "sent a file: quote.pdf"},
		{name: "empty text", msg: domain.Message{Kind: domain.MessageKindText, Content: "  "}, want: "(empty)"},
		{name: "long text", msg: domain.Message{Kind: domain.MessageKindText, Content: strings.Repeat("a", 200)}, want: strings.Repeat("a", maxPreviewRunes-1) + "…"},
	}

	for _, tc := range tests {
		if got := messagePreview(tc.msg); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestNotificationServiceConnectionStatus(t *testing.T) {
	messageBus, sender := startNotificationService(t, domain.NewConversationStore(), nil, nil)

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnStatus{State: connectors.ConnectionStateConnecting, Target: "chat.example.com"})
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnStatus{State: connectors.ConnectionStateConnected, Target: "chat.example.com"})
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnStatus{State: connectors.ConnectionStateConnected, Target: "chat.example.com"})
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnStatus{State: connectors.ConnectionStateExhausted, Target: "chat.example.com", Attempt: 5})

	got := sender.waitForCount(t, 2)
	sender.assertCount(t, 2)
	if got[0].Title != "Chat - connected" || got[0].Content != "connected to chat.example.com" {
		t.Fatalf("unexpected connected notification: %+v", got[0])
	}
	if got[1].Title != "Chat - exhausted" || got[1].Content != "exhausted from chat.example.com (attempt 5)" {
		t.Fatalf("unexpected exhausted notification: %+v", got[1])
	}
}

func TestNotificationServiceUpdateAvailable(t *testing.T) {
	cfg := config.Default()
	var cfgMu sync.RWMutex
	messageBus, sender := startNotificationService(t, domain.NewConversationStore(), func() config.AppConfig {
		cfgMu.RLock()
		defer cfgMu.RUnlock()

		return cfg
	}, nil)

	cfgMu.Lock()
	cfg.Notifications.UpdateAvailable = false
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicUpdateSnapshot, UpdateSnapshot{CurrentVersion: "1.0.0", UpdateAvailable: true, Latest: ReleaseInfo{Version: "1.1.0"}})
	sender.assertCount(t, 0)

	cfgMu.Lock()
	cfg.Notifications.UpdateAvailable = true
	cfgMu.Unlock()
	snapshot := UpdateSnapshot{CurrentVersion: "1.0.0", UpdateAvailable: true, Latest: ReleaseInfo{Version: "1.2.0", HTMLURL: "https://example.com/r/1.2.0"}}
	messageBus.Publish(connectors.TopicUpdateSnapshot, snapshot)
	messageBus.Publish(connectors.TopicUpdateSnapshot, snapshot)
	messageBus.Publish(connectors.TopicUpdateSnapshot, UpdateSnapshot{CurrentVersion: "1.2.0", Latest: ReleaseInfo{Version: "1.2.0"}})

	got := sender.waitForCount(t, 1)
	sender.assertCount(t, 1)
	if got[0].Title != "Update available: 1.2.0" {
		t.Fatalf("unexpected title %q", got[0].Title)
	}
	if got[0].Content != "You are running 1.0.0. https://example.com/r/1.2.0" {
		t.Fatalf("unexpected content %q", got[0].Content)
	}
}

func newTestMessageBus(t *testing.T) *bus.PubSubBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	current := s.snapshot()
	if len(current) != expected {
		t.Fatalf("expected %d notifications, got %d", expected, len(current))
	}
}
