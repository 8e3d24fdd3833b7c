package connectors

import "time"

// ConnectionState describes the socket lifecycle state shown in UI.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
	// ConnectionStateExhausted is terminal: the reconnect budget ran out.
	ConnectionStateExhausted ConnectionState = "exhausted"
)

// ConnStatus is a bus event snapshot of current connection status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Attempt       int
	Timestamp     time.Time
}

// UploadProgress reports overall batch progress for a conversation.
type UploadProgress struct {
	ConversationID string
	FileName       string
	Index          int
	Total          int
	Percent        int
}

// TypingUpdate is the UI-facing set of remote typists in a conversation.
type TypingUpdate struct {
	ConversationID string
	UserIDs        []string
}

// ChatError is a recoverable controller failure for display.
type ChatError struct {
	Op        string
	Message   string
	Timestamp time.Time
}
