package chat

import (
	"time"

	"github.com/fundihub/fundichat/internal/connectors"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/messaging"
)

// typingRefreshSlack lets the expiry notification land after the entry
// actually expired.
const typingRefreshSlack = 50 * time.Millisecond

func (c *Controller) subscribe() {
	handlers := []struct {
		kind messaging.EventKind
		fn   messaging.Handler
	}{
		{messaging.EventConnected, c.onConnected},
		{messaging.EventDisconnected, c.onDisconnected},
		{messaging.EventMessageReceived, c.onMessage},
		{messaging.EventFileShared, c.onMessage},
		{messaging.EventTypingIndicator, c.onTyping},
		{messaging.EventMessageRead, c.onRead},
		{messaging.EventPresence, c.onPresence},
		{messaging.EventSystemMessage, c.onSystem},
		{messaging.EventError, c.onError},
		{messaging.EventMaxReconnectAttemptsReached, c.onExhausted},
	}

	subs := make([]subscriptionRef, 0, len(handlers))
	for _, h := range handlers {
		subs = append(subs, subscriptionRef{kind: h.kind, id: c.transport.On(h.kind, h.fn)})
	}

	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()
}

func (c *Controller) onConnected(messaging.Event) {
	c.setConnection(ConnectionOnline)
}

// onDisconnected keeps every loaded conversation and message.
func (c *Controller) onDisconnected(ev messaging.Event) {
	if ev.Manual {
		c.setConnection(ConnectionOffline)

		return
	}
	c.setConnection(ConnectionReconnecting)
}

func (c *Controller) onExhausted(ev messaging.Event) {
	c.setConnection(ConnectionFailed)
	_ = c.fail("connect", ErrReconnectExhausted)
	c.logger.Error("chat connection lost for good", "attempts", ev.Attempt)
}

func (c *Controller) onError(ev messaging.Event) {
	if ev.Err == nil {
		return
	}
	_ = c.fail("transport", ev.Err)
}

// onMessage always refreshes the owning conversation in the list. The
// message shows in the visible list only when its conversation is active.
func (c *Controller) onMessage(ev messaging.Event) {
	if ev.Message == nil || ev.Message.ConversationID == "" {
		return
	}
	msg := ev.Message.Clone()
	msg.Status = domain.DeliveryConfirmed

	c.mu.Lock()
	activeID, userID := c.activeID, c.user.ID
	c.mu.Unlock()

	c.touch(msg)
	c.store.AppendMessage(msg)
	c.armTypingExpiry(msg.ConversationID, msg.SenderID, false)
	if c.typing.Set(msg.ConversationID, msg.SenderID, false, time.Now()) {
		c.publishTyping(msg.ConversationID)
	}

	stored := c.storedCopy(msg)
	if msg.ClientID == "" {
		if byID, ok := c.store.Message(msg.ConversationID, msg.ID); ok {
			stored = byID
		}
	}
	c.publish(connectors.TopicMessage, domain.MessageEvent{
		Message:    stored,
		Incoming:   msg.SenderID != userID,
		Background: msg.ConversationID != activeID,
	})
	c.notify()
}

func (c *Controller) onTyping(ev messaging.Event) {
	t := ev.Typing
	if t == nil || t.ConversationID == "" || t.UserID == "" {
		return
	}
	c.mu.Lock()
	self := t.UserID == c.user.ID
	c.mu.Unlock()
	if self {
		return
	}

	changed := c.typing.Set(t.ConversationID, t.UserID, t.IsTyping, time.Now())
	c.armTypingExpiry(t.ConversationID, t.UserID, t.IsTyping)
	if changed {
		c.publishTyping(t.ConversationID)
	}
}

type typingKey struct {
	conversationID string
	userID         string
}

// armTypingExpiry schedules the announcement of a remote typist going
// quiet. A refresh replaces the pending timer; a stop cancels it.
func (c *Controller) armTypingExpiry(conversationID, userID string, typing bool) {
	key := typingKey{conversationID: conversationID, userID: userID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.remoteTyping[key]; ok {
		prev.Stop()
		delete(c.remoteTyping, key)
	}
	if !typing || c.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(c.opts.TypingTTL+typingRefreshSlack, func() {
		c.mu.Lock()
		current := c.remoteTyping[key] == timer
		if current {
			delete(c.remoteTyping, key)
		}
		c.mu.Unlock()
		if current {
			c.publishTyping(conversationID)
		}
	})
	c.remoteTyping[key] = timer
}

// stopTypingExpiryLocked must be called with mu held.
func (c *Controller) stopTypingExpiryLocked() {
	for key, timer := range c.remoteTyping {
		timer.Stop()
		delete(c.remoteTyping, key)
	}
}

func (c *Controller) publishTyping(conversationID string) {
	c.publish(connectors.TopicTyping, connectors.TypingUpdate{
		ConversationID: conversationID,
		UserIDs:        c.typing.Users(conversationID, time.Now()),
	})
	c.notify()
}

// onRead is idempotent: a repeated receipt changes nothing.
func (c *Controller) onRead(ev messaging.Event) {
	r := ev.Read
	if r == nil {
		return
	}
	if !c.store.ApplyRead(r.ConversationID, r.MessageID, r.UserID) {
		return
	}
	c.publish(connectors.TopicReadReceipt, *r)
	c.notify()
}

func (c *Controller) onPresence(ev messaging.Event) {
	if p := ev.Presence; p != nil {
		c.logger.Debug("presence", "conversation_id", p.ConversationID, "user_id", p.UserID, "joined", p.Joined)
	}
}

func (c *Controller) onSystem(ev messaging.Event) {
	if s := ev.System; s != nil {
		c.logger.Info("system message", "conversation_id", s.ConversationID, "content", s.Content)
	}
}
