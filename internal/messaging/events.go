package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/metrics"
	"github.com/fundihub/fundichat/internal/wire"
)

// EventKind is the closed set of events a Client emits.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessageReceived
	EventTypingIndicator
	EventMessageRead
	EventFileShared
	EventPresence
	EventSystemMessage
	EventConversationJoined
	EventConversationLeft
	EventError
	EventMaxReconnectAttemptsReached
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessageReceived:
		return "messageReceived"
	case EventTypingIndicator:
		return "typingIndicator"
	case EventMessageRead:
		return "messageRead"
	case EventFileShared:
		return "fileShared"
	case EventPresence:
		return "presence"
	case EventSystemMessage:
		return "systemMessage"
	case EventConversationJoined:
		return "conversationJoined"
	case EventConversationLeft:
		return "conversationLeft"
	case EventError:
		return "error"
	case EventMaxReconnectAttemptsReached:
		return "maxReconnectAttemptsReached"
	default:
		return "unknown"
	}
}

// Event carries the payload for its Kind; unrelated fields are zero.
type Event struct {
	Kind EventKind
	At   time.Time

	// messageReceived, fileShared
	Message *domain.Message
	// typingIndicator
	Typing *wire.Typing
	// messageRead
	Read *domain.ReadReceipt
	// presence
	Presence *wire.Presence
	// systemMessage
	System *wire.SystemNotice
	// conversationJoined, conversationLeft
	ConversationID string
	// error, disconnected
	Err error
	// disconnected, maxReconnectAttemptsReached
	Attempt int
	// disconnected: true when the caller asked for it
	Manual bool
}

type Handler func(Event)

type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// dispatcher fans events out to handlers in subscription order. Handlers
// run on the emitting goroutine; a panicking handler is logged and skipped.
type dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	nextID   SubscriptionID
	handlers map[EventKind][]subscription
}

func newDispatcher(logger *slog.Logger, m *metrics.Metrics) *dispatcher {
	return &dispatcher{
		logger:   logger,
		metrics:  m,
		handlers: make(map[EventKind][]subscription),
	}
}

func (d *dispatcher) on(kind EventKind, h Handler) SubscriptionID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers[kind] = append(d.handlers[kind], subscription{id: id, handler: h})

	return id
}

func (d *dispatcher) off(kind EventKind, id SubscriptionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.handlers[kind]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		d.handlers[kind] = next

		return true
	}

	return false
}

func (d *dispatcher) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	d.mu.RLock()
	subs := d.handlers[ev.Kind]
	d.mu.RUnlock()

	for _, sub := range subs {
		d.call(sub, ev)
	}
}

func (d *dispatcher) call(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.HandlerPanic(ev.Kind.String())
			d.logger.Error("event handler panicked", "event", ev.Kind.String(), "subscription", sub.id, "panic", r)
		}
	}()
	sub.handler(ev)
}
