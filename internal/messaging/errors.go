package messaging

import (
	"errors"
	"fmt"

	"github.com/fundihub/fundichat/internal/transport"
)

var (
	ErrQueueFull          = errors.New("outbound queue is full")
	ErrClosed             = errors.New("messaging client is closed")
	ErrNotConnected       = transport.ErrNotConnected
	ErrFallbackThrottled  = errors.New("fallback send throttled")
	ErrMissingCredentials = errors.New("user id is required")
)

// DeliveryError reports a message that reached neither the socket nor the
// fallback channel. The message stays queued for the next connection.
type DeliveryError struct {
	ClientID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver message %s: %v", e.ClientID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// TransportError wraps a connection-level failure surfaced through
// EventError.
type TransportError struct {
	Op      string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("transport %s (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}

	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
