package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
)

// SocketTarget is the host part of the socket URL; query parameters may
// carry identity and are never shown.
func SocketTarget(cfg config.BackendConfig) string {
	raw := strings.TrimSpace(cfg.SocketURL)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	return u.Host
}

// ConnectionStatusFromConfig is the status shown before the first socket
// event arrives.
func ConnectionStatusFromConfig(cfg config.BackendConfig) connectors.ConnStatus {
	status := connectors.ConnStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: "websocket",
		Target:        SocketTarget(cfg),
	}
	if status.Target != "" {
		status.State = connectors.ConnectionStateConnecting
	}

	return status
}

// DescribeConnStatus renders a status line such as
// "reconnecting to chat.example.com (attempt 2): dial tcp: refused".
func DescribeConnStatus(status connectors.ConnStatus) string {
	state := string(status.State)
	if state == "" {
		state = "unknown"
	}

	var b strings.Builder
	b.WriteString(state)
	if target := strings.TrimSpace(status.Target); target != "" {
		preposition := "to"
		if status.State == connectors.ConnectionStateDisconnected || status.State == connectors.ConnectionStateExhausted {
			preposition = "from"
		}
		fmt.Fprintf(&b, " %s %s", preposition, target)
	}
	if status.Attempt > 0 && status.State != connectors.ConnectionStateConnected {
		fmt.Fprintf(&b, " (attempt %d)", status.Attempt)
	}
	if errText := strings.TrimSpace(status.Err); errText != "" {
		fmt.Fprintf(&b, ": %s", errText)
	}

	return b.String()
}
