package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fundihub/fundichat/internal/bus"
	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/metrics"
	"github.com/fundihub/fundichat/internal/transport"
	"github.com/fundihub/fundichat/internal/wire"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const defaultWriteTimeout = 8 * time.Second

// Fallback delivers a message over the request/response channel while the
// socket is down. It returns the persisted copy.
type Fallback interface {
	SendMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
}

type Options struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	QueueCapacity        int
	QueueOverflow        config.QueueOverflowPolicy
	FallbackRate         rate.Limit
	FallbackBurst        int
	WriteTimeout         time.Duration

	Fallback Fallback
	Bus      bus.MessageBus
	Metrics  *metrics.Metrics
}

func OptionsFromConfig(cfg config.TransportConfig) Options {
	return Options{
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   time.Duration(cfg.ReconnectBaseDelayMS) * time.Millisecond,
		QueueCapacity:        cfg.QueueCapacity,
		QueueOverflow:        cfg.QueueOverflow,
		FallbackRate:         rate.Limit(cfg.FallbackRatePerSec),
		FallbackBurst:        1,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = config.DefaultMaxReconnectAttempts
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Duration(config.DefaultReconnectBaseDelayMS) * time.Millisecond
	}
	if o.FallbackRate <= 0 {
		o.FallbackRate = rate.Limit(config.DefaultFallbackRatePerSec)
	}
	if o.FallbackBurst <= 0 {
		o.FallbackBurst = 1
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}

	return o
}

// Receipt describes what happened to a sent message. Err is set when the
// message could not be delivered by any channel and stays queued.
type Receipt struct {
	Message domain.Message
	Status  domain.DeliveryStatus
	Err     error
}

// Client owns one connection to the chat backend for one session.
type Client struct {
	logger    *slog.Logger
	transport transport.Transport
	codec     wire.Codec
	opts      Options
	limiter   *rate.Limiter
	events    *dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	creds   transport.Credentials
	running bool
	closed  bool
	joined  map[string]string

	// sendMu orders every socket write and guards queue. A reconnect drains
	// queue while holding it, so new sends wait for the drain.
	sendMu sync.Mutex
	queue  *outbox
}

func NewClient(logger *slog.Logger, tr transport.Transport, codec wire.Codec, opts Options) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		logger:    logger,
		transport: tr,
		codec:     codec,
		opts:      opts,
		limiter:   rate.NewLimiter(opts.FallbackRate, opts.FallbackBurst),
		events:    newDispatcher(logger, opts.Metrics),
		ctx:       ctx,
		cancel:    cancel,
		joined:    make(map[string]string),
		queue:     newOutbox(opts.QueueCapacity, opts.QueueOverflow),
	}
}

// On registers h for kind. Handlers run on the client's goroutines and must
// not call Disconnect.
func (c *Client) On(kind EventKind, h Handler) SubscriptionID {
	return c.events.on(kind, h)
}

func (c *Client) Off(kind EventKind, id SubscriptionID) bool {
	return c.events.off(kind, id)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Pending returns the queued messages in send order.
func (c *Client) Pending() []domain.Message {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.queue.messages()
}

// Connect opens the connection and returns the outcome of the first attempt.
// A failed first attempt still arms automatic reconnection. Calling Connect
// while a session is active is a no-op.
func (c *Client) Connect(ctx context.Context, userID, token string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingCredentials
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		c.logger.Debug("connect skipped: session already active", "state", c.State().String())

		return nil
	}
	c.running = true
	c.creds = transport.Credentials{UserID: userID, Token: token}
	// Registered before unlocking so a concurrent Disconnect waits for
	// the first dial and the supervisor.
	c.wg.Add(1)
	c.mu.Unlock()

	err := c.dial(ctx, 0)
	go c.supervise(err)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	return nil
}

// Disconnect ends the session for good. Queued messages are kept for
// inspection but never sent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}
	c.closed = true
	wasConnected := c.state == StateConnected
	c.mu.Unlock()

	c.cancel()
	err := c.transport.Close()
	c.wg.Wait()
	c.setState(StateDisconnected)
	c.publishConnStatus(connectors.ConnectionStateDisconnected, 0, nil)
	c.logger.Info("disconnected by caller")
	if wasConnected {
		c.events.emit(Event{Kind: EventDisconnected, Manual: true})
	}

	return err
}

// Send writes msg now when connected. Otherwise the message is queued and,
// rate permitting, handed to the fallback channel. A client id is assigned
// when missing so the backend echo can replace the optimistic copy.
func (c *Client) Send(ctx context.Context, msg domain.Message) (Receipt, error) {
	if c.isClosed() {
		return Receipt{}, ErrClosed
	}
	if msg.ClientID == "" {
		msg.ClientID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg = msg.Normalize()

	payload, err := c.codec.Encode(wire.Command{Kind: wire.CommandMessage, Message: &msg, At: msg.Timestamp})
	if err != nil {
		return Receipt{}, fmt.Errorf("encode message: %w", err)
	}

	c.sendMu.Lock()
	if c.State() == StateConnected {
		writeErr := c.write(ctx, wire.CommandMessage, payload)
		if writeErr == nil {
			c.sendMu.Unlock()
			msg.Status = domain.DeliverySent

			return Receipt{Message: msg, Status: domain.DeliverySent}, nil
		}
		c.logger.Warn("live send failed, queueing", "client_id", msg.ClientID, "error", writeErr)
		c.setState(StateDisconnected)
		_ = c.transport.Close()
	}
	evicted, err := c.queue.push(outboxItem{msg: msg, payload: payload})
	depth := c.queue.len()
	c.sendMu.Unlock()

	c.opts.Metrics.QueueDepth(depth)
	if err != nil {
		c.opts.Metrics.QueueDropped(string(config.QueueOverflowReject))
		c.logger.Warn("outbound queue full, message rejected", "client_id", msg.ClientID, "depth", depth)

		return Receipt{}, err
	}
	if evicted != nil {
		c.opts.Metrics.QueueDropped(string(config.QueueOverflowDropOldest))
		c.logger.Warn("outbound queue full, oldest message dropped", "dropped_client_id", evicted.msg.ClientID)
		c.events.emit(Event{Kind: EventError, Err: &DeliveryError{ClientID: evicted.msg.ClientID, Err: ErrQueueFull}})
	}
	c.logger.Debug("message queued", "client_id", msg.ClientID, "depth", depth)
	msg.Status = domain.DeliveryQueued

	return c.sendViaFallback(ctx, msg)
}

func (c *Client) sendViaFallback(ctx context.Context, msg domain.Message) (Receipt, error) {
	queued := Receipt{Message: msg, Status: domain.DeliveryQueued}
	if c.opts.Fallback == nil {
		return queued, nil
	}
	if !c.limiter.Allow() {
		c.opts.Metrics.FallbackSend("throttled")
		queued.Err = &DeliveryError{ClientID: msg.ClientID, Err: ErrFallbackThrottled}

		return queued, nil
	}

	persisted, err := c.opts.Fallback.SendMessage(ctx, msg)
	if err != nil {
		c.opts.Metrics.FallbackSend("error")
		c.logger.Warn("fallback send failed, message stays queued", "client_id", msg.ClientID, "error", err)
		queued.Err = &DeliveryError{ClientID: msg.ClientID, Err: err}

		return queued, nil
	}
	c.opts.Metrics.FallbackSend("ok")

	c.sendMu.Lock()
	removed := c.queue.remove(msg.ClientID)
	depth := c.queue.len()
	c.sendMu.Unlock()
	c.opts.Metrics.QueueDepth(depth)
	if !removed {
		c.logger.Debug("fallback delivered a message already flushed", "client_id", msg.ClientID)
	}

	if persisted.ClientID == "" {
		persisted.ClientID = msg.ClientID
	}
	persisted.Status = domain.DeliveryConfirmed
	confirmed := msg.Merge(persisted)

	return Receipt{Message: confirmed, Status: domain.DeliveryConfirmed}, nil
}

// JoinConversation announces room membership. Rooms are re-joined after
// every reconnect.
func (c *Client) JoinConversation(ctx context.Context, conversationID, userID string) error {
	c.mu.Lock()
	c.joined[conversationID] = userID
	c.mu.Unlock()

	err := c.sendControl(ctx, wire.Command{Kind: wire.CommandJoinChat, ConversationID: conversationID, UserID: userID})
	c.events.emit(Event{Kind: EventConversationJoined, ConversationID: conversationID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}

	return err
}

func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.joined, conversationID)
	c.mu.Unlock()

	err := c.sendControl(ctx, wire.Command{Kind: wire.CommandLeaveChat, ConversationID: conversationID})
	c.events.emit(Event{Kind: EventConversationLeft, ConversationID: conversationID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}

	return err
}

// SendTyping is never queued; it returns ErrNotConnected when dropped.
func (c *Client) SendTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	return c.sendControl(ctx, wire.Command{Kind: wire.CommandTyping, ConversationID: conversationID, UserID: userID, IsTyping: isTyping})
}

// MarkRead is fire-and-forget; the authoritative update arrives as
// EventMessageRead.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID, userID string) error {
	return c.sendControl(ctx, wire.Command{Kind: wire.CommandMarkRead, ConversationID: conversationID, MessageID: messageID, UserID: userID})
}

func (c *Client) sendControl(ctx context.Context, cmd wire.Command) error {
	if c.isClosed() {
		return ErrClosed
	}
	payload, err := c.codec.Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Kind, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.State() != StateConnected {
		c.logger.Debug("control frame dropped: not connected", "type", string(cmd.Kind))

		return ErrNotConnected
	}

	return c.write(ctx, cmd.Kind, payload)
}

// write must be called with sendMu held.
func (c *Client) write(ctx context.Context, kind wire.CommandKind, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.transport.WriteFrame(writeCtx, payload); err != nil {
		return fmt.Errorf("write %s frame: %w", kind, err)
	}
	c.opts.Metrics.FrameSent(string(kind))

	return nil
}

func (c *Client) dial(ctx context.Context, attempt int) error {
	c.setState(StateConnecting)
	c.publishConnStatus(connectors.ConnectionStateConnecting, attempt, nil)

	if err := c.transport.Connect(ctx, c.credentials()); err != nil {
		c.opts.Metrics.ConnectAttempt(false)
		c.setState(StateDisconnected)
		c.logger.Warn("connect failed", "attempt", attempt, "error", err)
		c.events.emit(Event{Kind: EventError, Err: &TransportError{Op: "connect", Attempt: attempt, Err: err}, Attempt: attempt})

		return err
	}
	c.opts.Metrics.ConnectAttempt(true)
	if err := c.ctx.Err(); err != nil {
		_ = c.transport.Close()
		c.setState(StateDisconnected)

		return err
	}

	c.sendMu.Lock()
	c.setState(StateConnected)
	flushed, err := c.flushLocked(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.sendMu.Unlock()
		_ = c.transport.Close()
		c.logger.Warn("queue flush failed", "flushed", flushed, "error", err)
		c.events.emit(Event{Kind: EventError, Err: &TransportError{Op: "flush", Attempt: attempt, Err: err}, Attempt: attempt})

		return err
	}
	depth := c.queue.len()
	c.sendMu.Unlock()

	c.opts.Metrics.QueueDepth(depth)
	c.logger.Info("connected", "transport", c.transport.Name(), "attempt", attempt, "flushed", flushed)
	c.publishConnStatus(connectors.ConnectionStateConnected, attempt, nil)
	c.events.emit(Event{Kind: EventConnected, Attempt: attempt})

	return nil
}

// flushLocked re-joins rooms and drains queue in FIFO order. Must be
// called with sendMu held. Unsent items stay queued on error.
func (c *Client) flushLocked(ctx context.Context) (int, error) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for id := range c.joined {
		rooms = append(rooms, id)
	}
	joined := make(map[string]string, len(c.joined))
	for id, user := range c.joined {
		joined[id] = user
	}
	c.mu.Unlock()
	sort.Strings(rooms)

	for _, id := range rooms {
		payload, err := c.codec.Encode(wire.Command{Kind: wire.CommandJoinChat, ConversationID: id, UserID: joined[id]})
		if err != nil {
			return 0, fmt.Errorf("encode rejoin: %w", err)
		}
		if err := c.write(ctx, wire.CommandJoinChat, payload); err != nil {
			return 0, err
		}
	}

	flushed := 0
	for {
		item, ok := c.queue.front()
		if !ok {
			return flushed, nil
		}
		if err := c.write(ctx, wire.CommandMessage, item.payload); err != nil {
			return flushed, err
		}
		c.queue.popFront()
		flushed++
	}
}

func (c *Client) supervise(err error) {
	defer c.wg.Done()

	attempt := 0
	for {
		if err == nil {
			attempt = 0
			err = c.readLoop()
			if c.ctx.Err() != nil {
				return
			}
			c.lost(err)
		}
		if c.ctx.Err() != nil {
			return
		}
		if attempt >= c.opts.MaxReconnectAttempts {
			c.exhausted(attempt)

			return
		}

		attempt++
		delay := c.opts.ReconnectBaseDelay << (attempt - 1)
		c.opts.Metrics.ReconnectScheduled(delay.Seconds())
		c.publishConnStatus(connectors.ConnectionStateReconnecting, attempt, err)
		c.logger.Info("reconnect scheduled", "attempt", attempt, "max_attempts", c.opts.MaxReconnectAttempts, "delay", delay)
		if !sleepWithContext(c.ctx, delay) {
			return
		}
		err = c.dial(c.ctx, attempt)
	}
}

func (c *Client) readLoop() error {
	for {
		payload, err := c.transport.ReadFrame(c.ctx)
		if err != nil {
			return err
		}
		in, err := c.codec.Decode(payload)
		if err != nil {
			c.logger.Warn("decode envelope failed", "len", len(payload), "error", err)

			continue
		}
		c.opts.Metrics.FrameReceived(string(in.Kind))
		c.dispatchInbound(in)
	}
}

func (c *Client) dispatchInbound(in wire.Inbound) {
	ev := Event{At: in.At}
	switch in.Kind {
	case wire.InboundMessage:
		ev.Kind = EventMessageReceived
		ev.Message = in.Message
	case wire.InboundFileShared:
		ev.Kind = EventFileShared
		ev.Message = in.Message
	case wire.InboundTyping:
		ev.Kind = EventTypingIndicator
		ev.Typing = in.Typing
	case wire.InboundMessageRead:
		ev.Kind = EventMessageRead
		ev.Read = in.Read
	case wire.InboundUserJoined, wire.InboundUserLeft:
		ev.Kind = EventPresence
		ev.Presence = in.Presence
	case wire.InboundSystemMessage:
		ev.Kind = EventSystemMessage
		ev.System = in.System
	case wire.InboundError:
		ev.Kind = EventError
		ev.Err = fmt.Errorf("backend error: %s", in.Error)
	default:
		return
	}
	c.events.emit(ev)
}

func (c *Client) lost(err error) {
	c.setState(StateDisconnected)
	_ = c.transport.Close()
	c.logger.Warn("connection lost", "error", err)
	c.events.emit(Event{Kind: EventDisconnected, Err: err})
}

func (c *Client) exhausted(attempts int) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.running = false
	c.mu.Unlock()

	c.publishConnStatus(connectors.ConnectionStateExhausted, attempts, nil)
	c.logger.Error("reconnect budget exhausted", "attempts", attempts)
	c.events.emit(Event{Kind: EventMaxReconnectAttemptsReached, Attempt: attempts})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Client) credentials() transport.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.creds
}

func (c *Client) publishConnStatus(state connectors.ConnectionState, attempt int, err error) {
	c.opts.Metrics.SetConnectionState(string(state))
	if c.opts.Bus == nil {
		return
	}
	status := connectors.ConnStatus{
		State:         state,
		TransportName: c.transport.Name(),
		Attempt:       attempt,
		Timestamp:     time.Now(),
	}
	if resolver, ok := c.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.opts.Bus.Publish(connectors.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
