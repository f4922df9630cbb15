package history

import (
	"fmt"
	"testing"
)

func TestSnapshotIsACopy(t *testing.T) {
	s := New(10)
	s.AppendExchange("sess", "hi", "hello")

	snap := s.Snapshot("sess")
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap))
	}
	snap[0].Text = "mutated"

	again := s.Snapshot("sess")
	if again[0].Text != "hi" {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestCapKeepsNewestExchanges(t *testing.T) {
	s := New(2)
	for i := 0; i < 5; i++ {
		s.AppendExchange("sess", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	snap := s.Snapshot("sess")
	if len(snap) != 4 {
		t.Fatalf("expected 4 messages after trim, got %d", len(snap))
	}
	if snap[0].Text != "q3" || snap[3].Text != "a4" {
		t.Fatalf("unexpected retained window: %+v", snap)
	}
}

func TestZeroTurnsDisablesHistory(t *testing.T) {
	s := New(0)
	s.AppendExchange("sess", "hi", "hello")
	if snap := s.Snapshot("sess"); snap != nil {
		t.Fatalf("expected no history, got %+v", snap)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s := New(10)
	s.AppendExchange("a", "question a", "answer a")
	s.AppendExchange("b", "question b", "answer b")

	if snap := s.Snapshot("a"); len(snap) != 2 || snap[0].Text != "question a" {
		t.Fatalf("session a polluted: %+v", snap)
	}
	s.Forget("a")
	if snap := s.Snapshot("a"); snap != nil {
		t.Fatal("forget should clear the session")
	}
	if snap := s.Snapshot("b"); len(snap) != 2 {
		t.Fatal("forget must not touch other sessions")
	}
}
