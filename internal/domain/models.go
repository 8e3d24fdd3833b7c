package domain

import (
	"sort"
	"strings"
	"time"
)

type ConversationKind string

const (
	ConversationKindDirect         ConversationKind = "direct"
	ConversationKindProviderClient ConversationKind = "provider_client"
)

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindFile  MessageKind = "file"
	MessageKindAudio MessageKind = "audio"
	MessageKindImage MessageKind = "image"
)

// DeliveryStatus tracks a locally created message until the backend echo
// confirms it.
type DeliveryStatus int

const (
	DeliveryPending DeliveryStatus = iota + 1
	DeliverySent
	DeliveryQueued
	DeliveryConfirmed
	DeliveryFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliverySent:
		return "sent"
	case DeliveryQueued:
		return "queued"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type User struct {
	ID    string
	Token string
}

type Conversation struct {
	ID             string
	ParticipantIDs []string
	Kind           ConversationKind
	Metadata       map[string]string
	LastMessage    *Message
	UpdatedAt      time.Time
}

// SameParticipants reports whether ids names the same participant set,
// ignoring order and duplicates.
func (c Conversation) SameParticipants(ids []string) bool {
	a := NormalizeParticipants(c.ParticipantIDs)
	b := NormalizeParticipants(ids)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}

	return false
}

// NormalizeParticipants trims, dedupes and sorts participant ids.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}

type Preview struct {
	Thumbnail string
	Medium    string
}

// FileRef describes the hosted asset behind a file, image or audio message.
type FileRef struct {
	URL      string
	Name     string
	MIMEType string
	Size     int64
	Preview  *Preview
	// LocalOnly marks assets produced by the offline upload path; the URL is
	// only meaningful on this device.
	LocalOnly bool
}

type Message struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	Content        string
	Kind           MessageKind
	Timestamp      time.Time
	ReadBy         ReadSet
	File           *FileRef
	Status         DeliveryStatus
}

// Normalize fills derived fields: the sender always counts as a reader.
func (m Message) Normalize() Message {
	if m.Kind == "" {
		m.Kind = MessageKindText
	}
	m.ReadBy = m.ReadBy.Clone()
	if m.SenderID != "" {
		m.ReadBy.Add(m.SenderID)
	}

	return m
}

// SameAs matches a message by server id or, for optimistic copies, by client id.
func (m Message) SameAs(other Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}

	return m.ClientID != "" && m.ClientID == other.ClientID
}

func (m Message) Clone() Message {
	m.ReadBy = m.ReadBy.Clone()
	if m.File != nil {
		file := *m.File
		if file.Preview != nil {
			preview := *file.Preview
			file.Preview = &preview
		}
		m.File = &file
	}

	return m
}

// ReadReceipt is an acknowledgement that UserID has read MessageID.
type ReadReceipt struct {
	ConversationID string
	MessageID      string
	UserID         string
	At             time.Time
}

// ShouldTransitionDelivery blocks downgrades once the backend confirmed a message.
func ShouldTransitionDelivery(current, next DeliveryStatus) bool {
	if next == 0 || current == next {
		return false
	}
	if current == 0 {
		return true
	}
	if current == DeliveryConfirmed {
		return false
	}
	if next == DeliveryPending {
		return false
	}

	return true
}

// Merge folds a newer copy of the same message into m. ReadBy only grows and
// delivery status never regresses.
func (m Message) Merge(newer Message) Message {
	out := newer.Clone()
	if out.ID == "" {
		out.ID = m.ID
	}
	if out.ClientID == "" {
		out.ClientID = m.ClientID
	}
	if out.File == nil && m.File != nil {
		out.File = m.Clone().File
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = m.Timestamp
	}
	for id := range m.ReadBy {
		out.ReadBy.Add(id)
	}
	if !ShouldTransitionDelivery(m.Status, newer.Status) {
		out.Status = m.Status
	}

	return out.Normalize()
}

// MessageEvent is published for every message the session observes.
type MessageEvent struct {
	Message  Message
	Incoming bool
	// Background is set when the message belongs to a conversation other
	// than the active one.
	Background bool
}

// MessageDeleted is published after a message was removed on the backend.
type MessageDeleted struct {
	ConversationID string
	MessageID      string
}
