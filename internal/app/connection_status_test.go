package app

import (
	"testing"

	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
)

func TestSocketTarget(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "wss host", raw: "wss://chat.example.com/socket", want: "chat.example.com"},
		{name: "query is hidden", raw: "ws://localhost:5000/ws?token=secret", want: "localhost:5000"},
		{name: "empty", raw: "  ", want: ""},
		{name: "no host", raw: "not a url", want: ""},
	}

	for _, tc := range tests {
		if got := SocketTarget(config.BackendConfig{SocketURL: tc.raw}); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestConnectionStatusFromConfig(t *testing.T) {
	offline := ConnectionStatusFromConfig(config.BackendConfig{})
	if offline.State != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected without socket url, got %q", offline.State)
	}

	connecting := ConnectionStatusFromConfig(config.BackendConfig{SocketURL: "wss://chat.example.com/ws"})
	if connecting.State != connectors.ConnectionStateConnecting {
		t.Fatalf("expected connecting, got %q", connecting.State)
	}
	if connecting.Target != "chat.example.com" || connecting.TransportName != "websocket" {
		t.Fatalf("unexpected status: %+v", connecting)
	}
}

func TestDescribeConnStatus(t *testing.T) {
	tests := []struct {
		name   string
		status connectors.ConnStatus
		want   string
	}{
		{
			name:   "connected",
			status: connectors.ConnStatus{State: connectors.ConnectionStateConnected, Target: "chat.example.com", Attempt: 3},
			want:   "connected to chat.example.com",
		},
		{
			name:   "reconnecting with error",
			status: connectors.ConnStatus{State: connectors.ConnectionStateReconnecting, Target: "chat.example.com", Attempt: 2, Err: "dial tcp: refused"},
			want:   "reconnecting to chat.example.com (attempt 2): dial tcp: refused",
		},
		{
			name:   "exhausted",
			status: connectors.ConnStatus{State: connectors.ConnectionStateExhausted, Target: "chat.example.com", Attempt: 5},
			want:   "exhausted from chat.example.com (attempt 5)",
		},
		{
			name:   "empty",
			status: connectors.ConnStatus{},
			want:   "unknown",
		},
	}

	for _, tc := range tests {
		if got := DescribeConnStatus(tc.status); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
