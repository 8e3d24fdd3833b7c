package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

type notifyFunc func(title, message string, icon any) error

// DesktopSender shows notifications through the OS notification service.
type DesktopSender struct {
	logger *slog.Logger
	icon   any
	notify notifyFunc
}

// NewDesktopSender returns a sender using iconPath when it is not empty.
func NewDesktopSender(logger *slog.Logger, iconPath string) *DesktopSender {
	if logger == nil {
		logger = slog.Default()
	}

	return &DesktopSender{
		logger: logger,
		icon:   iconPath,
		notify: beeep.Notify,
	}
}

func (s *DesktopSender) Send(payload Payload) {
	if err := s.notify(payload.Title, payload.Content, s.icon); err != nil {
		s.logger.Warn("desktop notification failed", "title", payload.Title, "error", err)
	}
}
