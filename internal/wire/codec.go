package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fundihub/fundichat/internal/domain"
)

// InboundKind is the closed set of envelope types the backend pushes.
type InboundKind string

const (
	InboundMessage       InboundKind = "message"
	InboundTyping        InboundKind = "typing"
	InboundMessageRead   InboundKind = "message_read"
	InboundUserJoined    InboundKind = "user_joined"
	InboundUserLeft      InboundKind = "user_left"
	InboundFileShared    InboundKind = "file_shared"
	InboundSystemMessage InboundKind = "system_message"
	InboundError         InboundKind = "error"
)

// CommandKind is the closed set of envelope types the client sends.
type CommandKind string

const (
	CommandMessage   CommandKind = "message"
	CommandJoinChat  CommandKind = "join_chat"
	CommandLeaveChat CommandKind = "leave_chat"
	CommandTyping    CommandKind = "typing"
	CommandMarkRead  CommandKind = "mark_read"
)

var ErrUnknownType = errors.New("unknown envelope type")

// envelope is the flat JSON shape shared by both directions.
type envelope struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chatId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	IsTyping  *bool           `json:"isTyping,omitempty"`
	Message   *MessagePayload `json:"message,omitempty"`
	Content   string          `json:"content,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`
}

// Typing is a remote typing signal.
type Typing struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// Presence reports a participant joining or leaving a conversation room.
type Presence struct {
	ConversationID string
	UserID         string
	Joined         bool
}

// SystemNotice is a backend-originated informational message.
type SystemNotice struct {
	ConversationID string
	Content        string
}

// Inbound is a decoded envelope. Exactly the field matching Kind is set.
type Inbound struct {
	Kind     InboundKind
	At       time.Time
	Message  *domain.Message
	Typing   *Typing
	Read     *domain.ReadReceipt
	Presence *Presence
	System   *SystemNotice
	Error    string
}

// Command is an outbound request.
type Command struct {
	Kind           CommandKind
	ConversationID string
	UserID         string
	MessageID      string
	IsTyping       bool
	Message        *domain.Message
	At             time.Time
}

// Codec translates between transport frames and typed envelopes.
type Codec interface {
	Encode(cmd Command) ([]byte, error)
	Decode(payload []byte) (Inbound, error)
}

type JSONCodec struct{}

func NewJSONCodec() JSONCodec {
	return JSONCodec{}
}

func (JSONCodec) Encode(cmd Command) ([]byte, error) {
	at := cmd.At
	if at.IsZero() {
		at = time.Now()
	}
	env := envelope{Type: string(cmd.Kind), Timestamp: Timestamp{at}}

	switch cmd.Kind {
	case CommandMessage:
		if cmd.Message == nil {
			return nil, errors.New("encode message: message is required")
		}
		p := MessageFromDomain(*cmd.Message)
		env.Message = &p
		env.ChatID = p.ChatID
		env.UserID = p.SenderID
	case CommandJoinChat:
		env.ChatID = cmd.ConversationID
		env.UserID = cmd.UserID
	case CommandLeaveChat:
		env.ChatID = cmd.ConversationID
	case CommandTyping:
		isTyping := cmd.IsTyping
		env.ChatID = cmd.ConversationID
		env.UserID = cmd.UserID
		env.IsTyping = &isTyping
	case CommandMarkRead:
		env.ChatID = cmd.ConversationID
		env.UserID = cmd.UserID
		env.MessageID = cmd.MessageID
	default:
		return nil, fmt.Errorf("encode %q: %w", cmd.Kind, ErrUnknownType)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", cmd.Kind, err)
	}

	return raw, nil
}

func (JSONCodec) Decode(payload []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Inbound{}, fmt.Errorf("decode envelope: %w", err)
	}

	in := Inbound{Kind: InboundKind(env.Type), At: env.Timestamp.Time}
	if in.At.IsZero() {
		in.At = time.Now()
	}

	switch in.Kind {
	case InboundMessage, InboundFileShared:
		if env.Message == nil {
			return Inbound{}, fmt.Errorf("decode %s: message payload missing", env.Type)
		}
		msg := env.Message.ToDomain()
		if msg.ConversationID == "" {
			msg.ConversationID = env.ChatID
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = in.At
		}
		in.Message = &msg
	case InboundTyping:
		in.Typing = &Typing{
			ConversationID: env.ChatID,
			UserID:         env.UserID,
			IsTyping:       env.IsTyping == nil || *env.IsTyping,
		}
	case InboundMessageRead:
		in.Read = &domain.ReadReceipt{
			ConversationID: env.ChatID,
			MessageID:      env.MessageID,
			UserID:         env.UserID,
			At:             in.At,
		}
	case InboundUserJoined, InboundUserLeft:
		in.Presence = &Presence{
			ConversationID: env.ChatID,
			UserID:         env.UserID,
			Joined:         in.Kind == InboundUserJoined,
		}
	case InboundSystemMessage:
		in.System = &SystemNotice{ConversationID: env.ChatID, Content: env.Content}
	case InboundError:
		in.Error = env.Error
		if in.Error == "" {
			in.Error = env.Content
		}
	default:
		return Inbound{}, fmt.Errorf("decode %q: %w", env.Type, ErrUnknownType)
	}

	return in, nil
}
