// Package history keeps the in-memory dialogue history the LLM sees.
// Process-wide, per-session scoped, capped. The pipeline snapshots before
// the model call and appends only once a turn completes, so an aborted turn
// never pollutes the next prompt.
package history

import (
	"sync"

	"github.com/loqalabs/loqa-avatar/internal/llm"
)

type Store struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]llm.Message
}

// New creates a store keeping at most maxTurns user/assistant exchanges per
// session. Zero disables history entirely.
func New(maxTurns int) *Store {
	return &Store{
		maxTurns: maxTurns,
		sessions: make(map[string][]llm.Message),
	}
}

// Snapshot returns a copy of the session's history, oldest first.
func (s *Store) Snapshot(sessionID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sessions[sessionID]
	if len(msgs) == 0 {
		return nil
	}
	return append([]llm.Message(nil), msgs...)
}

// AppendExchange records one completed turn and trims to the cap.
func (s *Store) AppendExchange(sessionID, userText, assistantText string) {
	if s.maxTurns <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.sessions[sessionID],
		llm.Message{Role: "user", Text: userText},
		llm.Message{Role: "assistant", Text: assistantText},
	)
	if max := s.maxTurns * 2; len(msgs) > max {
		msgs = append([]llm.Message(nil), msgs[len(msgs)-max:]...)
	}
	s.sessions[sessionID] = msgs
}

// Forget drops a session's history.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
