package asr

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type mockTranscriber struct{}

// NewMock returns a recognizer with a fixed transcript, useful for wiring
// the pipeline without a real engine.
func NewMock() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio []byte, _ string, languageHint string) (Result, error) {
	if len(audio) == 0 {
		return Result{}, fault.E(fault.AdapterFailure, "asr.Transcribe", "empty audio clip", nil)
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	language := languageHint
	if language == "" {
		language = "en"
	}
	return Result{
		Text:       "Hi there, can you hear me?",
		Language:   language,
		Confidence: 0.9,
	}, nil
}
