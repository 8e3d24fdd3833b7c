package domain

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a remote typing signal stays valid without
// a refresh.
const DefaultTypingTTL = 5 * time.Second

// TypingState tracks which users are typing in each conversation. Entries
// expire after the TTL unless refreshed.
type TypingState struct {
	mu    sync.Mutex
	ttl   time.Duration
	users map[string]map[string]time.Time
}

func NewTypingState(ttl time.Duration) *TypingState {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}

	return &TypingState{
		ttl:   ttl,
		users: make(map[string]map[string]time.Time),
	}
}

// Set marks or clears userID as typing and reports whether the visible set changed.
func (t *TypingState) Set(conversationID, userID string, typing bool, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.users[conversationID]
	_, wasTyping := set[userID]
	if wasTyping && set[userID].Before(now) {
		wasTyping = false
	}
	if !typing {
		if set != nil {
			delete(set, userID)
			if len(set) == 0 {
				delete(t.users, conversationID)
			}
		}

		return wasTyping
	}

	if set == nil {
		set = make(map[string]time.Time)
		t.users[conversationID] = set
	}
	set[userID] = now.Add(t.ttl)

	return !wasTyping
}

// Users returns the non-expired typists in conversationID, sorted.
func (t *TypingState) Users(conversationID string, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.users[conversationID]
	out := make([]string, 0, len(set))
	for userID, expiry := range set {
		if expiry.Before(now) {
			delete(set, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(set) == 0 {
		delete(t.users, conversationID)
	}
	sort.Strings(out)

	return out
}

func (t *TypingState) Reset() {
	t.mu.Lock()
	t.users = make(map[string]map[string]time.Time)
	t.mu.Unlock()
}
