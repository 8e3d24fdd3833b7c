package domain

import (
	"testing"
	"time"
)

func TestConversationStore_ApplyReadIsIdempotent(t *testing.T) {
	store := NewConversationStore()
	store.AppendMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi"})

	if !store.ApplyRead("c1", "m1", "bob") {
		t.Fatalf("expected first receipt to change read set")
	}
	if store.ApplyRead("c1", "m1", "bob") {
		t.Fatalf("expected second receipt to be a no-op")
	}

	msg, ok := store.Message("c1", "m1")
	if !ok {
		t.Fatalf("message not found")
	}
	got := msg.ReadBy.Slice()
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected read set: %v", got)
	}
}

func TestConversationStore_AppendMessageMergesEcho(t *testing.T) {
	store := NewConversationStore()
	store.AppendMessage(Message{ClientID: "local-1", ConversationID: "c1", SenderID: "alice", Content: "hi", Status: DeliverySent})

	appended := store.AppendMessage(Message{ID: "m1", ClientID: "local-1", ConversationID: "c1", SenderID: "alice", Content: "hi", Status: DeliveryConfirmed})
	if appended {
		t.Fatalf("expected echo to merge into optimistic copy")
	}

	msgs := store.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].Status != DeliveryConfirmed {
		t.Fatalf("unexpected merged message: %+v", msgs[0])
	}
}

func TestConversationStore_StatusNeverRegressesFromConfirmed(t *testing.T) {
	store := NewConversationStore()
	store.AppendMessage(Message{ID: "m1", ClientID: "local-1", ConversationID: "c1", SenderID: "alice", Status: DeliveryConfirmed})

	if store.UpdateStatus("c1", "local-1", DeliveryFailed) {
		t.Fatalf("expected confirmed message to reject downgrade")
	}
}

func TestConversationStore_TouchMovesConversationToHead(t *testing.T) {
	store := NewConversationStore()
	store.Load([]Conversation{{ID: "x"}, {ID: "y"}}, nil)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := store.Touch(Message{ID: "m1", ConversationID: "y", Content: "ping", Timestamp: at})
	if c.LastMessage == nil || c.LastMessage.ID != "m1" {
		t.Fatalf("expected last message to be set, got %+v", c.LastMessage)
	}

	list := store.Conversations()
	if list[0].ID != "y" || !list[0].UpdatedAt.Equal(at) {
		t.Fatalf("unexpected head conversation: %+v", list[0])
	}
	if got := store.Messages("x"); len(got) != 0 {
		t.Fatalf("touch must not append to other conversations, got %d", len(got))
	}
}

func TestConversationStore_FindByParticipantsIgnoresOrder(t *testing.T) {
	store := NewConversationStore()
	store.Prepend(Conversation{ID: "c1", ParticipantIDs: []string{"a", "b"}})

	c, ok := store.FindByParticipants([]string{"b", "a", "a"})
	if !ok || c.ID != "c1" {
		t.Fatalf("expected c1, got %+v ok=%v", c, ok)
	}
	if _, ok := store.FindByParticipants([]string{"a", "c"}); ok {
		t.Fatalf("unexpected match for different participants")
	}
}

func TestConversationStore_ReplaceMessagesKeepsUnconfirmedLocalCopies(t *testing.T) {
	store := NewConversationStore()
	store.AppendMessage(Message{ClientID: "local-1", ConversationID: "c1", SenderID: "me", Status: DeliveryQueued})

	store.ReplaceMessages("c1", []Message{{ID: "m0", ConversationID: "c1", SenderID: "bob"}})

	msgs := store.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("expected history plus local copy, got %d", len(msgs))
	}
	if msgs[0].ID != "m0" || msgs[1].ClientID != "local-1" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestConversationStore_PrependMessagesSkipsKnown(t *testing.T) {
	store := NewConversationStore()
	store.ReplaceMessages("c1", []Message{{ID: "m2", ConversationID: "c1"}})

	added := store.PrependMessages("c1", []Message{{ID: "m1", ConversationID: "c1"}, {ID: "m2", ConversationID: "c1"}})
	if added != 1 {
		t.Fatalf("expected 1 new message, got %d", added)
	}
	msgs := store.Messages("c1")
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestConversationStore_ChangesCoalesces(t *testing.T) {
	store := NewConversationStore()
	store.Upsert(Conversation{ID: "a"})
	store.Upsert(Conversation{ID: "b"})

	select {
	case <-store.Changes():
	default:
		t.Fatalf("expected pending change signal")
	}
	select {
	case <-store.Changes():
		t.Fatalf("expected signals to coalesce")
	default:
	}
}

func TestConversationStore_ResetDropsEverything(t *testing.T) {
	store := NewConversationStore()
	store.Prepend(Conversation{ID: "c1", ParticipantIDs: []string{"alice", "bob"}})
	store.AppendMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "alice"})

	store.Reset()

	if got := store.Conversations(); len(got) != 0 {
		t.Fatalf("expected no conversations, got %d", len(got))
	}
	if got := store.Messages("c1"); len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
	if _, ok := store.FindByParticipants([]string{"bob", "alice"}); ok {
		t.Fatalf("expected reset store to forget participants")
	}
}
