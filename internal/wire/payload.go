package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fundihub/fundichat/internal/domain"
)

// Timestamp accepts RFC 3339 strings or unix milliseconds and always
// encodes as RFC 3339 with millisecond precision.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

func (t *Timestamp) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		t.Time = time.Time{}

		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}

			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed

		return nil
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", raw, err)
	}
	t.Time = time.UnixMilli(ms)

	return nil
}

// MessagePayload is the backend's message document, shared by the socket
// channel and the REST API.
type MessagePayload struct {
	ID          string          `json:"id,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	ChatID      string          `json:"chatId"`
	SenderID    string          `json:"senderId"`
	Content     string          `json:"content,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
	FileURL     string          `json:"fileUrl,omitempty"`
	FileName    string          `json:"fileName,omitempty"`
	FileType    string          `json:"fileType,omitempty"`
	FileSize    int64           `json:"fileSize,omitempty"`
	Preview     *PreviewPayload `json:"preview,omitempty"`
	LocalOnly   bool            `json:"localOnly,omitempty"`
	ReadBy      []string        `json:"readBy,omitempty"`
	Timestamp   Timestamp       `json:"timestamp"`
}

type PreviewPayload struct {
	Thumbnail string `json:"thumbnail,omitempty"`
	Medium    string `json:"medium,omitempty"`
}

// ConversationPayload is the backend's chat document.
type ConversationPayload struct {
	ID           string            `json:"id"`
	Participants []string          `json:"participants"`
	ChatType     string            `json:"chatType,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastMessage  *MessagePayload   `json:"lastMessage,omitempty"`
	UpdatedAt    Timestamp         `json:"updatedAt"`
}

func MessageFromDomain(m domain.Message) MessagePayload {
	p := MessagePayload{
		ID:          m.ID,
		ClientID:    m.ClientID,
		ChatID:      m.ConversationID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: string(m.Kind),
		ReadBy:      m.ReadBy.Slice(),
		Timestamp:   Timestamp{m.Timestamp},
	}
	if m.File != nil {
		p.FileURL = m.File.URL
		p.FileName = m.File.Name
		p.FileType = m.File.MIMEType
		p.FileSize = m.File.Size
		p.LocalOnly = m.File.LocalOnly
		if m.File.Preview != nil {
			p.Preview = &PreviewPayload{Thumbnail: m.File.Preview.Thumbnail, Medium: m.File.Preview.Medium}
		}
	}

	return p
}

// ToDomain converts the payload; the result is normalized so the sender is
// in the read set.
func (p MessagePayload) ToDomain() domain.Message {
	m := domain.Message{
		ID:             p.ID,
		ClientID:       p.ClientID,
		ConversationID: p.ChatID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Kind:           domain.MessageKind(p.MessageType),
		Timestamp:      p.Timestamp.Time,
		ReadBy:         domain.NewReadSet(p.ReadBy...),
	}
	if p.FileURL != "" {
		m.File = &domain.FileRef{
			URL:       p.FileURL,
			Name:      p.FileName,
			MIMEType:  p.FileType,
			Size:      p.FileSize,
			LocalOnly: p.LocalOnly,
		}
		if p.Preview != nil {
			m.File.Preview = &domain.Preview{Thumbnail: p.Preview.Thumbnail, Medium: p.Preview.Medium}
		}
		if m.Kind == "" || m.Kind == domain.MessageKindText {
			m.Kind = domain.MessageKindFile
		}
	}

	return m.Normalize()
}

func (p ConversationPayload) ToDomain() domain.Conversation {
	c := domain.Conversation{
		ID:             p.ID,
		ParticipantIDs: domain.NormalizeParticipants(p.Participants),
		Kind:           domain.ConversationKind(p.ChatType),
		Metadata:       p.Metadata,
		UpdatedAt:      p.UpdatedAt.Time,
	}
	if c.Kind == "" {
		c.Kind = domain.ConversationKindDirect
	}
	if p.LastMessage != nil {
		last := p.LastMessage.ToDomain()
		if last.ConversationID == "" {
			last.ConversationID = p.ID
		}
		c.LastMessage = &last
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = last.Timestamp
		}
	}

	return c
}
