package persistence

import "github.com/fundihub/fundichat/internal/domain"

// messageRecord is the JSON shape used for the cached last message of a
// conversation.
type messageRecord struct {
	ID             string      `json:"id,omitempty"`
	ClientID       string      `json:"clientId,omitempty"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId,omitempty"`
	Content        string      `json:"content,omitempty"`
	Kind           string      `json:"kind,omitempty"`
	AtMillis       int64       `json:"at,omitempty"`
	ReadBy         []string    `json:"readBy,omitempty"`
	File           *fileRecord `json:"file,omitempty"`
	Status         int         `json:"status,omitempty"`
}

type fileRecord struct {
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	MIMEType  string `json:"mimeType,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Medium    string `json:"medium,omitempty"`
	LocalOnly bool   `json:"localOnly,omitempty"`
}

func toMessageRecord(m domain.Message) messageRecord {
	return messageRecord{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Kind:           string(m.Kind),
		AtMillis:       toUnixMillis(m.Timestamp),
		ReadBy:         m.ReadBy.Slice(),
		File:           toFileRecord(m.File),
		Status:         int(m.Status),
	}
}

func (r messageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:             r.ID,
		ClientID:       r.ClientID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		Kind:           domain.MessageKind(r.Kind),
		Timestamp:      fromUnixMillis(r.AtMillis),
		ReadBy:         domain.NewReadSet(r.ReadBy...),
		File:           r.File.toDomain(),
		Status:         domain.DeliveryStatus(r.Status),
	}.Normalize()
}

func toFileRecord(f *domain.FileRef) *fileRecord {
	if f == nil {
		return nil
	}
	rec := &fileRecord{
		URL:       f.URL,
		Name:      f.Name,
		MIMEType:  f.MIMEType,
		Size:      f.Size,
		LocalOnly: f.LocalOnly,
	}
	if f.Preview != nil {
		rec.Thumbnail = f.Preview.Thumbnail
		rec.Medium = f.Preview.Medium
	}

	return rec
}

func (r *fileRecord) toDomain() *domain.FileRef {
	if r == nil {
		return nil
	}
	f := &domain.FileRef{
		URL:       r.URL,
		Name:      r.Name,
		MIMEType:  r.MIMEType,
		Size:      r.Size,
		LocalOnly: r.LocalOnly,
	}
	if r.Thumbnail != "" || r.Medium != "" {
		f.Preview = &domain.Preview{Thumbnail: r.Thumbnail, Medium: r.Medium}
	}

	return f
}
