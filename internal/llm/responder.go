// Package llm fronts the dialogue model. The pipeline hands it the user
// transcript plus a history snapshot and gets one assistant reply back;
// streaming partials are an engine concern that stays behind the interface.
package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

// Message is one entry of the dialogue history, oldest first.
type Message struct {
	Role string // "user" or "assistant"
	Text string
}

// Responder abstracts dialogue backends.
type Responder interface {
	Respond(ctx context.Context, userText string, history []Message, systemPrompt string) (string, error)
}

func New(cfg config.LLMConfig) (Responder, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "exec":
		return NewExec(cfg)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
