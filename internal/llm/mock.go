package llm

import (
	"context"
	"strings"
	"time"
)

type mockResponder struct{}

// NewMock returns a responder that paraphrases the prompt, enough to drive
// the chunker and the rest of the pipeline without a model.
func NewMock() Responder {
	return &mockResponder{}
}

func (m *mockResponder) Respond(ctx context.Context, userText string, history []Message, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	prompt := strings.TrimSpace(userText)
	if prompt == "" {
		return "I did not catch that. Could you say it again?", nil
	}
	if len(history) > 0 {
		return "You said: " + prompt + " Good to keep talking.", nil
	}
	return "You said: " + prompt + " Nice to meet you.", nil
}
