package domain

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/connectors"
)

type inlineQueue struct {
	mu    sync.Mutex
	names []string
}

func (q *inlineQueue) Enqueue(name string, fn func(context.Context) error) {
	q.mu.Lock()
	q.names = append(q.names, name)
	q.mu.Unlock()
	_ = fn(context.Background())
}

type recordingRepos struct {
	mu       sync.Mutex
	convs    []Conversation
	messages []Message
	readers  []string
	deleted  []string
}

func (r *recordingRepos) Upsert(_ context.Context, c Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs = append(r.convs, c)

	return nil
}

func (r *recordingRepos) ListRecent(context.Context) ([]Conversation, error) {
	return nil, nil
}

type recordingMessages struct{ *recordingRepos }

func (r recordingMessages) Upsert(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)

	return nil
}

func (r recordingMessages) AddReader(_ context.Context, _, messageID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers = append(r.readers, messageID+":"+userID)

	return nil
}

func (r recordingMessages) Delete(_ context.Context, _, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, messageID)

	return nil
}

func (r recordingMessages) LoadRecentPerConversation(context.Context, int) (map[string][]Message, error) {
	return nil, nil
}

func TestStartPersistenceProjection_WritesEvents(t *testing.T) {
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos := &recordingRepos{}
	queue := &inlineQueue{}
	StartPersistenceProjection(ctx, b, queue, repos, recordingMessages{repos})

	b.Publish(connectors.TopicConversation, Conversation{ID: "c1"})
	b.Publish(connectors.TopicMessage, MessageEvent{Message: Message{ID: "m1", ConversationID: "c1"}})
	b.Publish(connectors.TopicReadReceipt, ReadReceipt{ConversationID: "c1", MessageID: "m1", UserID: "bob"})
	b.Publish(connectors.TopicMessageDeleted, MessageDeleted{ConversationID: "c1", MessageID: "m1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		repos.mu.Lock()
		done := len(repos.convs) == 1 && len(repos.messages) == 1 && len(repos.readers) == 1 && len(repos.deleted) == 1
		repos.mu.Unlock()
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("projection did not write all events: %+v", repos)
}
