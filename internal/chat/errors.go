package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNoUser               = errors.New("no current user")
	ErrNotInitialized       = errors.New("chat session is not initialized")
	ErrClosed               = errors.New("chat session is closed")
	ErrInvalidParticipants  = errors.New("a conversation needs at least two participants")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrNoAudioCapture       = errors.New("audio capture is not available")
	ErrAlreadyRecording     = errors.New("a voice recording is already running")
	ErrNotRecording         = errors.New("no voice recording is running")
	ErrReconnectExhausted   = errors.New("gave up reconnecting to the chat server")
)

// OpError is a failed controller operation. The controller keeps the last
// one for the UI and stays usable.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// BatchError names the file that stopped a multi-file send.
type BatchError struct {
	Index int
	Name  string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("file %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
