package domain

import (
	"testing"
	"time"
)

func TestTypingState_SetAndExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := NewTypingState(time.Second)

	if !state.Set("c1", "bob", true, now) {
		t.Fatalf("expected first start to change state")
	}
	if state.Set("c1", "bob", true, now.Add(100*time.Millisecond)) {
		t.Fatalf("expected refresh to leave visible set unchanged")
	}
	if got := state.Users("c1", now.Add(500*time.Millisecond)); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("unexpected typists: %v", got)
	}
	if got := state.Users("c1", now.Add(2*time.Second)); len(got) != 0 {
		t.Fatalf("expected entry to expire, got %v", got)
	}
}

func TestTypingState_StopClearsUser(t *testing.T) {
	now := time.Now()
	state := NewTypingState(0)
	state.Set("c1", "bob", true, now)
	state.Set("c1", "carol", true, now)

	if !state.Set("c1", "bob", false, now) {
		t.Fatalf("expected stop to change state")
	}
	if got := state.Users("c1", now); len(got) != 1 || got[0] != "carol" {
		t.Fatalf("unexpected typists: %v", got)
	}
}
