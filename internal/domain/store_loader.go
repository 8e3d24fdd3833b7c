package domain

import (
	"context"
	"fmt"
)

const defaultRecentMessagesLoad = 200

// LoadStoreFromRepositories warms the store from the local cache so the UI
// has something to show before the backend answers.
func LoadStoreFromRepositories(ctx context.Context, store *ConversationStore, convRepo ConversationRepository, msgRepo MessageRepository) error {
	conversations, err := convRepo.ListRecent(ctx)
	if err != nil {
		return fmt.Errorf("load conversations from db: %w", err)
	}
	messages, err := msgRepo.LoadRecentPerConversation(ctx, defaultRecentMessagesLoad)
	if err != nil {
		return fmt.Errorf("load messages from db: %w", err)
	}

	store.Load(conversations, messages)

	return nil
}
