package domain

import "context"

type ConversationRepository interface {
	Upsert(ctx context.Context, c Conversation) error
	ListRecent(ctx context.Context) ([]Conversation, error)
}

type MessageRepository interface {
	Upsert(ctx context.Context, m Message) error
	AddReader(ctx context.Context, conversationID, messageID, userID string) error
	Delete(ctx context.Context, conversationID, messageID string) error
	LoadRecentPerConversation(ctx context.Context, limit int) (map[string][]Message, error)
}
