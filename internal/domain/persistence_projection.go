package domain

import (
	"context"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/connectors"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartPersistenceProjection mirrors session events into the local cache.
func StartPersistenceProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, convRepo ConversationRepository, msgRepo MessageRepository) {
	bus.Listen(ctx, b, connectors.TopicConversation, func(c Conversation) {
		conv := cloneConversation(c)
		queue.Enqueue("upsert_conversation", func(writeCtx context.Context) error {
			return convRepo.Upsert(writeCtx, conv)
		})
	})

	bus.Listen(ctx, b, connectors.TopicMessage, func(ev MessageEvent) {
		msg := ev.Message.Clone()
		if msg.ConversationID == "" {
			return
		}
		queue.Enqueue("upsert_message", func(writeCtx context.Context) error {
			return msgRepo.Upsert(writeCtx, msg)
		})
	})

	bus.Listen(ctx, b, connectors.TopicReadReceipt, func(r ReadReceipt) {
		queue.Enqueue("add_reader", func(writeCtx context.Context) error {
			return msgRepo.AddReader(writeCtx, r.ConversationID, r.MessageID, r.UserID)
		})
	})

	bus.Listen(ctx, b, connectors.TopicMessageDeleted, func(d MessageDeleted) {
		queue.Enqueue("delete_message", func(writeCtx context.Context) error {
			return msgRepo.Delete(writeCtx, d.ConversationID, d.MessageID)
		})
	})
}
