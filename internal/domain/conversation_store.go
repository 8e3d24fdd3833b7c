package domain

import (
	"sync"
	"time"
)

// ConversationStore keeps the conversation list and per-conversation
// message lists. Messages are kept in arrival order.
type ConversationStore struct {
	mu            sync.RWMutex
	order         []string
	conversations map[string]Conversation
	messages      map[string][]Message
	changes       chan struct{}
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		changes:       make(chan struct{}, 1),
	}
}

// Load replaces the conversation list, keeping the given order. Cached
// messages for known conversations are kept unless msgs overrides them.
func (s *ConversationStore) Load(conversations []Conversation, msgs map[string][]Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	next := make(map[string]Conversation, len(conversations))
	for _, c := range conversations {
		if c.ID == "" {
			continue
		}
		if _, dup := next[c.ID]; dup {
			continue
		}
		if existing, ok := s.conversations[c.ID]; ok && c.LastMessage == nil {
			c.LastMessage = existing.LastMessage
		}
		next[c.ID] = cloneConversation(c)
		s.order = append(s.order, c.ID)
	}
	s.conversations = next
	for id, list := range msgs {
		s.messages[id] = cloneMessages(list)
	}
	s.notify()
}

// Prepend inserts c at the head of the list, or moves it there if known.
func (s *ConversationStore) Prepend(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	s.removeFromOrder(c.ID)
	s.order = append([]string{c.ID}, s.order...)
	s.conversations[c.ID] = cloneConversation(c)
	s.notify()
}

// Upsert updates a known conversation in place or appends a new one.
func (s *ConversationStore) Upsert(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[c.ID]
	if ok {
		if c.LastMessage == nil {
			c.LastMessage = existing.LastMessage
		}
		if existing.UpdatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = existing.UpdatedAt
		}
	} else {
		s.order = append(s.order, c.ID)
	}
	s.conversations[c.ID] = cloneConversation(c)
	s.notify()
}

// Touch records msg as the conversation's latest message and moves the
// conversation to the head of the list. Unknown conversations are created
// with just an id so the list never drops traffic.
func (s *ConversationStore) Touch(msg Message) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		c = Conversation{ID: msg.ConversationID}
	}
	last := msg.Clone()
	c.LastMessage = &last
	c.UpdatedAt = msg.Timestamp
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	s.removeFromOrder(c.ID)
	s.order = append([]string{c.ID}, s.order...)
	s.conversations[c.ID] = c
	s.notify()

	return cloneConversation(c)
}

// AppendMessage adds msg to its conversation's list. A message matching an
// existing entry by id or client id is merged in place instead. Reports
// whether a new entry was appended.
func (s *ConversationStore) AppendMessage(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg = msg.Normalize()
	list := s.messages[msg.ConversationID]
	for i := range list {
		if list[i].SameAs(msg) {
			list[i] = list[i].Merge(msg)
			s.notify()

			return false
		}
	}
	s.messages[msg.ConversationID] = append(list, msg.Clone())
	s.notify()

	return true
}

// ReplaceByClientID swaps the optimistic copy identified by clientID with
// the persisted message. Reports whether a copy was found.
func (s *ConversationStore) ReplaceByClientID(clientID string, msg Message) bool {
	if clientID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ConversationID]
	for i := range list {
		if list[i].ClientID == clientID {
			if msg.ClientID == "" {
				msg.ClientID = clientID
			}
			list[i] = list[i].Merge(msg)
			s.notify()

			return true
		}
	}

	return false
}

// UpdateStatus sets the delivery status of the message with the given
// client id, honoring ShouldTransitionDelivery.
func (s *ConversationStore) UpdateStatus(conversationID, clientID string, status DeliveryStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[conversationID]
	for i := range list {
		if list[i].ClientID != clientID {
			continue
		}
		if !ShouldTransitionDelivery(list[i].Status, status) {
			return false
		}
		list[i].Status = status
		s.notify()

		return true
	}

	return false
}

// ApplyRead adds userID to the message's read set. Reports whether anything
// changed; re-applying the same receipt is a no-op.
func (s *ConversationStore) ApplyRead(conversationID, messageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		if !list[i].ReadBy.Add(userID) {
			return false
		}
		s.notify()

		return true
	}

	return false
}

// ReplaceMessages installs a freshly loaded history, keeping optimistic
// copies the backend does not know about yet.
func (s *ConversationStore) ReplaceMessages(conversationID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		next = append(next, m.Normalize())
	}
	for _, local := range s.messages[conversationID] {
		if local.ID != "" {
			continue
		}
		if !containsMessage(next, local) {
			next = append(next, local)
		}
	}
	s.messages[conversationID] = next
	s.notify()
}

// PrependMessages inserts an older history page before the loaded messages.
func (s *ConversationStore) PrependMessages(conversationID string, older []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.messages[conversationID]
	page := make([]Message, 0, len(older))
	for _, m := range older {
		m = m.Normalize()
		if containsMessage(current, m) || containsMessage(page, m) {
			continue
		}
		page = append(page, m)
	}
	if len(page) == 0 {
		return 0
	}
	s.messages[conversationID] = append(page, current...)
	s.notify()

	return len(page)
}

func (s *ConversationStore) RemoveMessage(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == messageID {
			s.messages[conversationID] = append(list[:i:i], list[i+1:]...)
			s.notify()

			return true
		}
	}

	return false
}

// Conversations returns the list in display order.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneConversation(s.conversations[id]))
	}

	return out
}

func (s *ConversationStore) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}

	return cloneConversation(c), true
}

// FindByParticipants returns the first conversation in display order whose
// participant set equals ids.
func (s *ConversationStore) FindByParticipants(ids []string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		c := s.conversations[id]
		if c.SameParticipants(ids) {
			return cloneConversation(c), true
		}
	}

	return Conversation{}, false
}

func (s *ConversationStore) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneMessages(s.messages[conversationID])
}

func (s *ConversationStore) Message(conversationID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return m.Clone(), true
		}
	}

	return Message{}, false
}

// MessageByClientID finds a message by the id the client assigned to it.
func (s *ConversationStore) MessageByClientID(conversationID, clientID string) (Message, bool) {
	if clientID == "" {
		return Message{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[conversationID] {
		if m.ClientID == clientID {
			return m.Clone(), true
		}
	}

	return Message{}, false
}

// Reset drops every conversation and message.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	s.order = nil
	s.conversations = make(map[string]Conversation)
	s.messages = make(map[string][]Message)
	s.mu.Unlock()
	s.notify()
}

func (s *ConversationStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *ConversationStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *ConversationStore) removeFromOrder(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)

			return
		}
	}
}

func containsMessage(list []Message, m Message) bool {
	for _, existing := range list {
		if existing.SameAs(m) {
			return true
		}
	}

	return false
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}

	return out
}

func cloneConversation(c Conversation) Conversation {
	c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	if c.Metadata != nil {
		meta := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		c.Metadata = meta
	}
	if c.LastMessage != nil {
		last := c.LastMessage.Clone()
		c.LastMessage = &last
	}

	return c
}
