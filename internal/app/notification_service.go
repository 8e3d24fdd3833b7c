package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/notifications"
)

const (
	notificationTitleConnection = "Chat"
	maxPreviewRunes             = 140
	seenMessagesLimit           = 256
)

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	store         *domain.ConversationStore
	currentConfig func() config.AppConfig
	isForeground  func() bool
	sender        notifications.Sender
	logger        *slog.Logger

	mu               sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool
	lastUpdate       string
	seen             map[string]struct{}
	seenOrder        []string
}

func NewNotificationService(
	messageBus bus.MessageBus,
	store *domain.ConversationStore,
	currentConfig func() config.AppConfig,
	isForeground func() bool,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		store:         store,
		currentConfig: currentConfig,
		isForeground:  isForeground,
		sender:        sender,
		logger:        logger,
		seen:          make(map[string]struct{}),
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	bus.Listen(ctx, s.bus, connectors.TopicMessage, s.handleMessage)
	bus.Listen(ctx, s.bus, connectors.TopicConnStatus, s.handleConnectionStatus)
	bus.Listen(ctx, s.bus, connectors.TopicUpdateSnapshot, s.handleUpdateSnapshot)
}

func (s *NotificationService) handleMessage(ev domain.MessageEvent) {
	if !ev.Incoming {
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.IncomingMessage, ev.Background) {
		return
	}
	if !s.markSeen(ev.Message) {
		return
	}

	msg := ev.Message
	sender := strings.TrimSpace(msg.SenderID)
	if sender == "" {
		sender = "unknown"
	}

	s.send(notifications.Payload{
		Title:   s.conversationTitle(msg.ConversationID, sender),
		Content: fmt.Sprintf("%s: %s", sender, messagePreview(msg)),
	})
}

func (s *NotificationService) handleConnectionStatus(status connectors.ConnStatus) {
	if status.State == "" {
		return
	}

	s.mu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.mu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.mu.Unlock()

	switch status.State {
	case connectors.ConnectionStateConnected, connectors.ConnectionStateDisconnected, connectors.ConnectionStateExhausted:
	default:
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.ConnectionStatus, false) {
		return
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", notificationTitleConnection, status.State),
		Content: DescribeConnStatus(status),
	})
}

func (s *NotificationService) handleUpdateSnapshot(snapshot UpdateSnapshot) {
	if !snapshot.UpdateAvailable {
		return
	}
	latest := strings.TrimSpace(snapshot.Latest.Version)
	if latest == "" {
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.UpdateAvailable, false) {
		return
	}

	s.mu.Lock()
	if s.lastUpdate == latest {
		s.mu.Unlock()

		return
	}
	s.lastUpdate = latest
	s.mu.Unlock()

	content := fmt.Sprintf("You are running %s.", snapshot.CurrentVersion)
	if link := strings.TrimSpace(snapshot.Latest.HTMLURL); link != "" {
		content += " " + link
	}
	s.send(notifications.Payload{
		Title:   "Update available: " + latest,
		Content: content,
	})
}

// shouldNotify applies the global switch, the per-kind switch and focus.
// Background traffic still notifies while the window is focused.
func (s *NotificationService) shouldNotify(prefs config.NotificationConfig, kindEnabled, background bool) bool {
	if !prefs.Enabled || !kindEnabled {
		return false
	}
	if prefs.NotifyWhenFocused || background || s.isForeground == nil {
		return true
	}

	return !s.isForeground()
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

// markSeen reports whether msg is new. Echoes of the same message notify once.
func (s *NotificationService) markSeen(msg domain.Message) bool {
	key := msg.ID
	if key == "" {
		key = "client:" + msg.ClientID
	}
	if key == "client:" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.seenOrder = append(s.seenOrder, key)
	if len(s.seenOrder) > seenMessagesLimit {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}

	return true
}

func (s *NotificationService) conversationTitle(conversationID, sender string) string {
	if s.store != nil {
		if conv, ok := s.store.Conversation(conversationID); ok {
			if service := strings.TrimSpace(conv.Metadata["serviceName"]); service != "" {
				return "#" + service
			}
		}
	}

	return "@" + sender
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}

func messagePreview(msg domain.Message) string {
	switch msg.Kind {
	case domain.MessageKindImage:
		return "sent a photo"
	case domain.MessageKindAudio:
		return "sent a voice message"
	case domain.MessageKindFile:
		name := strings.TrimSpace(msg.Content)
		if msg.File != nil && strings.TrimSpace(msg.File.Name) != "" {
			name = strings.TrimSpace(msg.File.Name)
		}
		if name == "" {
			return "sent a file"
		}

		return "sent a file: " + name
	}

	body := strings.Join(strings.Fields(msg.Content), " ")
	if body == "" {
		return "(empty)"
	}
	runes := []rune(body)
	if len(runes) > maxPreviewRunes {
		return string(runes[:maxPreviewRunes-1]) + "…"
	}

	return body
}
