package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/media"
	"github.com/fundihub/fundichat/internal/messaging"
	"github.com/fundihub/fundichat/internal/upload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type typingCall struct {
	ConversationID string
	IsTyping       bool
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   messaging.SubscriptionID
	handlers map[messaging.EventKind]map[messaging.SubscriptionID]messaging.Handler

	connectCalls int
	connectErr   error
	connected    bool
	disconnects  int

	sent        []domain.Message
	sendErr     error
	receiptFunc func(domain.Message) messaging.Receipt

	typing []typingCall
	reads  []string
	joins  []string
	leaves []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[messaging.EventKind]map[messaging.SubscriptionID]messaging.Handler)}
}

func (f *fakeTransport) On(kind messaging.EventKind, h messaging.Handler) messaging.SubscriptionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[kind] == nil {
		f.handlers[kind] = make(map[messaging.SubscriptionID]messaging.Handler)
	}
	f.handlers[kind][f.nextID] = h

	return f.nextID
}

func (f *fakeTransport) Off(kind messaging.EventKind, id messaging.SubscriptionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[kind][id]; !ok {
		return false
	}
	delete(f.handlers[kind], id)

	return true
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}

	return n
}

func (f *fakeTransport) emit(ev messaging.Event) {
	f.mu.Lock()
	hs := make([]messaging.Handler, 0, len(f.handlers[ev.Kind]))
	for _, h := range f.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeTransport) Connect(_ context.Context, _, _ string) error {
	f.mu.Lock()
	f.connectCalls++
	err := f.connectErr
	if err == nil {
		f.connected = true
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.emit(messaging.Event{Kind: messaging.EventConnected})

	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.connected = false
	f.mu.Unlock()

	return nil
}

func (f *fakeTransport) Send(_ context.Context, msg domain.Message) (messaging.Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	err := f.sendErr
	fn := f.receiptFunc
	f.mu.Unlock()
	if err != nil {
		return messaging.Receipt{}, err
	}
	if fn != nil {
		return fn(msg), nil
	}
	msg.Status = domain.DeliverySent

	return messaging.Receipt{Message: msg, Status: domain.DeliverySent}, nil
}

func (f *fakeTransport) JoinConversation(_ context.Context, conversationID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, conversationID)

	return nil
}

func (f *fakeTransport) LeaveConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, conversationID)

	return nil
}

func (f *fakeTransport) SendTyping(_ context.Context, conversationID, _ string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{ConversationID: conversationID, IsTyping: isTyping})

	return nil
}

func (f *fakeTransport) MarkRead(_ context.Context, _, messageID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return messaging.ErrNotConnected
	}
	f.reads = append(f.reads, messageID)

	return nil
}

func (f *fakeTransport) typingCalls() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]typingCall(nil), f.typing...)
}

func (f *fakeTransport) sentMessages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]domain.Message(nil), f.sent...)
}

type fakeBackend struct {
	mu sync.Mutex

	convs     []domain.Conversation
	listErr   error
	listCalls int

	// history[conversationID][page-1]
	history    map[string][][]domain.Message
	historyErr error

	createCalls int
	createErr   error

	searchResults []domain.Message
	searchErr     error
	searchCalls   int

	deleted []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][][]domain.Message)}
}

func (b *fakeBackend) UserConversations(context.Context, string) ([]domain.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}

	return append([]domain.Conversation(nil), b.convs...), nil
}

func (b *fakeBackend) Messages(_ context.Context, conversationID string, page, _ int) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	pages := b.history[conversationID]
	if page < 1 || page > len(pages) {
		return nil, nil
	}

	return append([]domain.Message(nil), pages[page-1]...), nil
}

func (b *fakeBackend) CreateConversation(_ context.Context, participants []string, kind domain.ConversationKind, metadata map[string]string) (domain.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return domain.Conversation{}, b.createErr
	}
	b.createCalls++

	return domain.Conversation{
		ID:             fmt.Sprintf("conv-%d", b.createCalls),
		ParticipantIDs: participants,
		Kind:           kind,
		Metadata:       metadata,
		UpdatedAt:      time.Now(),
	}, nil
}

func (b *fakeBackend) SearchMessages(context.Context, string, string, int, int) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searchCalls++
	if b.searchErr != nil {
		return nil, b.searchErr
	}

	return append([]domain.Message(nil), b.searchResults...), nil
}

func (b *fakeBackend) DeleteMessage(_ context.Context, _, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, messageID)

	return nil
}

type fakeUploader struct {
	mu       sync.Mutex
	calls    []string
	failOn   string
	err      error
	progress []int
	result   func(file *upload.File) upload.Result
}

func (u *fakeUploader) UploadChatFile(_ context.Context, file *upload.File, _, _ string, onProgress upload.ProgressFunc) (upload.Result, error) {
	u.mu.Lock()
	u.calls = append(u.calls, file.Name)
	failOn, failErr := u.failOn, u.err
	steps := append([]int(nil), u.progress...)
	resultFn := u.result
	u.mu.Unlock()

	if failErr != nil {
		return upload.Result{}, failErr
	}
	if file.Name == failOn {
		return upload.Result{}, errors.New("upload exploded")
	}
	for _, p := range steps {
		if onProgress != nil {
			onProgress(p)
		}
	}
	if resultFn != nil {
		return resultFn(file), nil
	}

	return upload.Result{
		Success:  true,
		URL:      "https://cdn.example.com/upload/" + file.Name,
		Metadata: upload.Metadata{OriginalName: file.Name, Size: file.Size(), MIMEType: file.ContentType()},
	}, nil
}

type fakeRecording struct {
	mu      sync.Mutex
	data    []byte
	stopErr error
	closed  bool
}

func (r *fakeRecording) Stop() ([]byte, error) {
	if r.stopErr != nil {
		return nil, r.stopErr
	}

	return r.data, nil
}

func (r *fakeRecording) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return nil
}

func (r *fakeRecording) MIMEType() string {
	return "audio/ogg"
}

func (r *fakeRecording) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

type fakeCapture struct {
	rec *fakeRecording
}

func (c *fakeCapture) Start(context.Context) (media.Recording, error) {
	return c.rec, nil
}
