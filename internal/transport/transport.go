package transport

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("transport is not connected")

// Credentials identify the session owner to the chat backend.
type Credentials struct {
	UserID string
	Token  string
}

// Transport is a message-oriented duplex channel to the chat backend. One
// frame is one complete JSON envelope.
type Transport interface {
	Name() string
	Connect(ctx context.Context, creds Credentials) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
