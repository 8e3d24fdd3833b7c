package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/media"
	"github.com/fundihub/fundichat/internal/messaging"
	"github.com/fundihub/fundichat/internal/upload"
)

// Transport is the live channel the controller drives. *messaging.Client
// implements it.
type Transport interface {
	On(kind messaging.EventKind, h messaging.Handler) messaging.SubscriptionID
	Off(kind messaging.EventKind, id messaging.SubscriptionID) bool
	Connect(ctx context.Context, userID, token string) error
	Disconnect() error
	Send(ctx context.Context, msg domain.Message) (messaging.Receipt, error)
	JoinConversation(ctx context.Context, conversationID, userID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	SendTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
	MarkRead(ctx context.Context, conversationID, messageID, userID string) error
}

// Backend is the request/response API. *restapi.Client implements it.
type Backend interface {
	UserConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, error)
	CreateConversation(ctx context.Context, participants []string, kind domain.ConversationKind, metadata map[string]string) (domain.Conversation, error)
	SearchMessages(ctx context.Context, conversationID, query string, page, limit int) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

// Uploader turns picked files into hosted assets. *upload.Client implements it.
type Uploader interface {
	UploadChatFile(ctx context.Context, file *upload.File, conversationID, userID string, onProgress upload.ProgressFunc) (upload.Result, error)
}

type ConnectionStatus string

const (
	ConnectionOffline      ConnectionStatus = "offline"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionOnline       ConnectionStatus = "online"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionFailed       ConnectionStatus = "failed"
)

type Options struct {
	TypingIdle      time.Duration
	TypingTTL       time.Duration
	HistoryPageSize int
	SearchPageSize  int
	Bus             bus.MessageBus
	Capture         media.AudioCapture
}

func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		TypingIdle:      time.Duration(cfg.TypingIdleMS) * time.Millisecond,
		HistoryPageSize: cfg.HistoryPageSize,
		SearchPageSize:  cfg.SearchPageSize,
	}
}

func (o Options) withDefaults() Options {
	if o.TypingIdle <= 0 {
		o.TypingIdle = time.Duration(config.DefaultTypingIdleMS) * time.Millisecond
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = domain.DefaultTypingTTL
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = config.DefaultHistoryPageSize
	}
	if o.SearchPageSize <= 0 {
		o.SearchPageSize = config.DefaultSearchPageSize
	}

	return o
}

// Snapshot is the presentation state at one instant.
type Snapshot struct {
	UserID               string
	Connection           ConnectionStatus
	Conversations        []domain.Conversation
	ActiveConversationID string
	Messages             []domain.Message
	TypingUsers          []string
	Draft                string
	SearchQuery          string
	SearchResults        []domain.Message
	Uploading            bool
	UploadProgress       int
	Recording            bool
	HasMoreHistory       bool
	Err                  error
}

type subscriptionRef struct {
	kind messaging.EventKind
	id   messaging.SubscriptionID
}

// Controller is the chat session façade for one signed-in user. It owns
// its transport exclusively.
type Controller struct {
	logger    *slog.Logger
	transport Transport
	backend   Backend
	uploader  Uploader
	opts      Options
	store     *domain.ConversationStore
	typing    *domain.TypingState
	changes   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// openMu serializes create-or-find so one participant set maps to one
	// backend conversation.
	openMu sync.Mutex

	mu             sync.Mutex
	user           domain.User
	initialized    bool
	closed         bool
	subs           []subscriptionRef
	connection     ConnectionStatus
	activeID       string
	historyPage    int
	hasMore        bool
	draft          string
	selfTyping     bool
	typingGen      uint64
	typingTimer    *time.Timer
	remoteTyping   map[typingKey]*time.Timer
	searchQuery    string
	searchResults  []domain.Message
	uploading      bool
	uploadProgress int
	recording      media.Recording
	lastErr        *OpError
}

func NewController(logger *slog.Logger, tr Transport, backend Backend, uploader Uploader, store *domain.ConversationStore, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = domain.NewConversationStore()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		logger:       logger,
		transport:    tr,
		backend:      backend,
		uploader:     uploader,
		opts:         opts,
		store:        store,
		typing:       domain.NewTypingState(opts.TypingTTL),
		changes:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		connection:   ConnectionOffline,
		remoteTyping: make(map[typingKey]*time.Timer),
	}
}

// Initialize starts the session for user: it subscribes to transport
// events, connects and loads the conversation list. Calling it again only
// reloads the list.
func (c *Controller) Initialize(ctx context.Context, user domain.User) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return c.fail("initialize", ErrNoUser)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return c.fail("initialize", ErrClosed)
	}
	first := !c.initialized
	if first {
		c.initialized = true
		c.user = user
		c.connection = ConnectionConnecting
	}
	c.mu.Unlock()

	if first {
		c.subscribe()
		c.notify()
		if err := c.transport.Connect(ctx, user.ID, user.Token); err != nil {
			var transportErr *messaging.TransportError
			if errors.As(err, &transportErr) {
				c.setConnection(ConnectionReconnecting)
			} else {
				c.setConnection(ConnectionOffline)
			}
			_ = c.fail("connect", err)
		}
	}

	return c.ReloadConversations(ctx)
}

// ReloadConversations replaces the conversation list with the backend's.
// On failure the cached list stays.
func (c *Controller) ReloadConversations(ctx context.Context) error {
	user, err := c.currentUser()
	if err != nil {
		return c.fail("load_conversations", err)
	}

	convs, err := c.backend.UserConversations(ctx, user.ID)
	if err != nil {
		return c.fail("load_conversations", err)
	}
	c.store.Load(convs, nil)
	for _, conv := range convs {
		c.publish(connectors.TopicConversation, conv)
	}
	c.logger.Debug("conversations loaded", "count", len(convs))
	c.notify()

	return nil
}

// OpenOrCreateConversation activates the conversation with exactly these
// participants, creating it on the backend when none is known. The current
// user is always a participant.
func (c *Controller) OpenOrCreateConversation(ctx context.Context, participants []string, kind domain.ConversationKind, metadata map[string]string) (domain.Conversation, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	user, err := c.currentUser()
	if err != nil {
		return domain.Conversation{}, c.fail("open_conversation", err)
	}
	ids := domain.NormalizeParticipants(append(slices.Clone(participants), user.ID))
	if len(ids) < 2 {
		return domain.Conversation{}, c.fail("open_conversation", ErrInvalidParticipants)
	}
	if kind == "" {
		kind = domain.ConversationKindDirect
	}

	conv, found := c.store.FindByParticipants(ids)
	if !found {
		created, err := c.backend.CreateConversation(ctx, ids, kind, metadata)
		if err != nil {
			return domain.Conversation{}, c.fail("create_conversation", err)
		}
		if created.ID == "" {
			return domain.Conversation{}, c.fail("create_conversation", errors.New("backend returned a conversation without id"))
		}
		if len(created.ParticipantIDs) == 0 {
			created.ParticipantIDs = ids
		}
		c.store.Prepend(created)
		c.publish(connectors.TopicConversation, created)
		c.logger.Info("conversation created", "conversation_id", created.ID, "kind", string(created.Kind))
		conv = created
	}

	return conv, c.activate(ctx, conv.ID)
}

// SelectConversation activates a conversation already in the list.
func (c *Controller) SelectConversation(ctx context.Context, conversationID string) error {
	if _, err := c.currentUser(); err != nil {
		return c.fail("select_conversation", err)
	}
	if _, ok := c.store.Conversation(conversationID); !ok {
		return c.fail("select_conversation", ErrNoActiveConversation)
	}

	return c.activate(ctx, conversationID)
}

func (c *Controller) activate(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	prev := c.activeID
	wasTyping := c.selfTyping
	c.stopTypingLocked()
	c.activeID = conversationID
	c.historyPage = 0
	c.hasMore = false
	c.draft = ""
	c.searchQuery = ""
	c.searchResults = nil
	userID := c.user.ID
	c.mu.Unlock()
	c.notify()

	if wasTyping && prev != "" {
		c.sendTyping(ctx, prev, userID, false)
	}
	if prev != "" && prev != conversationID {
		if err := c.transport.LeaveConversation(ctx, prev); err != nil {
			c.logger.Debug("leave conversation failed", "conversation_id", prev, "error", err)
		}
	}
	if err := c.transport.JoinConversation(ctx, conversationID, userID); err != nil {
		c.logger.Warn("join conversation failed", "conversation_id", conversationID, "error", err)
	}

	msgs, err := c.backend.Messages(ctx, conversationID, 1, c.opts.HistoryPageSize)
	if err != nil {
		return c.fail("load_history", err)
	}
	c.store.ReplaceMessages(conversationID, confirmed(msgs))

	c.mu.Lock()
	if c.activeID == conversationID {
		c.historyPage = 1
		c.hasMore = len(msgs) >= c.opts.HistoryPageSize
	}
	c.mu.Unlock()
	c.notify()

	return nil
}

// LoadMoreHistory fetches the next older page of the active conversation
// and returns how many messages were added.
func (c *Controller) LoadMoreHistory(ctx context.Context) (int, error) {
	c.mu.Lock()
	convID, page, more := c.activeID, c.historyPage, c.hasMore
	c.mu.Unlock()
	if convID == "" || !more {
		return 0, nil
	}

	msgs, err := c.backend.Messages(ctx, convID, page+1, c.opts.HistoryPageSize)
	if err != nil {
		return 0, c.fail("load_history", err)
	}
	added := c.store.PrependMessages(convID, confirmed(msgs))

	c.mu.Lock()
	if c.activeID == convID {
		c.historyPage = page + 1
		c.hasMore = len(msgs) >= c.opts.HistoryPageSize
	}
	c.mu.Unlock()
	c.notify()

	return added, nil
}

// SearchMessages searches the active conversation. Results are kept apart
// from the message list. A blank query is a no-op.
func (c *Controller) SearchMessages(ctx context.Context, query string) ([]domain.Message, error) {
	query = strings.TrimSpace(query)
	c.mu.Lock()
	convID := c.activeID
	c.mu.Unlock()
	if query == "" || convID == "" {
		return nil, nil
	}

	results, err := c.backend.SearchMessages(ctx, convID, query, 1, c.opts.SearchPageSize)
	if err != nil {
		return nil, c.fail("search", err)
	}

	c.mu.Lock()
	if c.activeID == convID {
		c.searchQuery = query
		c.searchResults = cloneMessages(results)
	}
	c.mu.Unlock()
	c.notify()

	return results, nil
}

func (c *Controller) ClearSearch() {
	c.mu.Lock()
	c.searchQuery = ""
	c.searchResults = nil
	c.mu.Unlock()
	c.notify()
}

// MarkVisibleAsRead acknowledges every message in the active conversation
// that someone else sent and the user has not read yet. The read sets are
// updated when the backend confirms.
func (c *Controller) MarkVisibleAsRead(ctx context.Context) (int, error) {
	c.mu.Lock()
	convID, userID := c.activeID, c.user.ID
	c.mu.Unlock()
	if convID == "" {
		return 0, nil
	}

	sent := 0
	for _, m := range c.store.Messages(convID) {
		if m.ID == "" || m.SenderID == userID || m.ReadBy.Has(userID) {
			continue
		}
		if err := c.transport.MarkRead(ctx, convID, m.ID, userID); err != nil {
			if errors.Is(err, messaging.ErrNotConnected) {
				c.logger.Debug("read receipts dropped: not connected", "conversation_id", convID)

				return sent, nil
			}

			return sent, c.fail("mark_read", err)
		}
		sent++
	}

	return sent, nil
}

func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	c.mu.Lock()
	convID := c.activeID
	c.mu.Unlock()
	if convID == "" {
		return c.fail("delete_message", ErrNoActiveConversation)
	}

	if err := c.backend.DeleteMessage(ctx, convID, messageID); err != nil {
		return c.fail("delete_message", err)
	}
	c.store.RemoveMessage(convID, messageID)
	c.publish(connectors.TopicMessageDeleted, domain.MessageDeleted{ConversationID: convID, MessageID: messageID})
	c.notify()

	return nil
}

// Close ends the session and disconnects the transport for good.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}
	c.closed = true
	wasTyping := c.selfTyping
	c.stopTypingLocked()
	c.stopTypingExpiryLocked()
	rec := c.recording
	c.recording = nil
	subs := c.subs
	c.subs = nil
	convID, userID := c.activeID, c.user.ID
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Close(); err != nil {
			c.logger.Warn("release recording failed", "error", err)
		}
	}
	if wasTyping && convID != "" {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		c.sendTyping(stopCtx, convID, userID, false)
		cancel()
	}
	c.cancel()
	for _, s := range subs {
		c.transport.Off(s.kind, s.id)
	}
	err := c.transport.Disconnect()
	c.setConnection(ConnectionOffline)

	return err
}

// State returns a copy of the presentation state.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		UserID:               c.user.ID,
		Connection:           c.connection,
		ActiveConversationID: c.activeID,
		Draft:                c.draft,
		SearchQuery:          c.searchQuery,
		SearchResults:        cloneMessages(c.searchResults),
		Uploading:            c.uploading,
		UploadProgress:       c.uploadProgress,
		Recording:            c.recording != nil,
		HasMoreHistory:       c.hasMore,
	}
	if c.lastErr != nil {
		snap.Err = c.lastErr
	}
	c.mu.Unlock()

	snap.Conversations = c.store.Conversations()
	if snap.ActiveConversationID != "" {
		snap.Messages = c.store.Messages(snap.ActiveConversationID)
		snap.TypingUsers = c.typing.Users(snap.ActiveConversationID, time.Now())
	}

	return snap
}

// Changes signals state changes. Signals coalesce; read State after each.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// LastError returns the most recent failed operation, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}

	return c.lastErr
}

func (c *Controller) ClearError() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) currentUser() (domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.User{}, ErrClosed
	}
	if !c.initialized {
		return domain.User{}, ErrNotInitialized
	}

	return c.user, nil
}

func (c *Controller) setConnection(status ConnectionStatus) {
	c.mu.Lock()
	changed := c.connection != status
	c.connection = status
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// fail records err as the last error and returns it as an *OpError.
func (c *Controller) fail(op string, err error) error {
	var opErr *OpError
	if !errors.As(err, &opErr) {
		opErr = &OpError{Op: op, Err: err}
	}

	c.mu.Lock()
	c.lastErr = opErr
	c.mu.Unlock()

	c.logger.Warn("chat operation failed", "op", opErr.Op, "error", opErr.Err)
	c.publish(connectors.TopicChatError, connectors.ChatError{Op: opErr.Op, Message: opErr.Err.Error(), Timestamp: time.Now()})
	c.notify()

	return opErr
}

func (c *Controller) publish(topic string, payload any) {
	if c.opts.Bus == nil {
		return
	}
	c.opts.Bus.Publish(topic, payload)
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func confirmed(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		if m.Status == 0 {
			m.Status = domain.DeliveryConfirmed
		}
		out[i] = m
	}

	return out
}

func cloneMessages(in []domain.Message) []domain.Message {
	if in == nil {
		return nil
	}
	out := make([]domain.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}

	return out
}
