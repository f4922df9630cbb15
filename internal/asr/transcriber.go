// Package asr fronts the speech-recognition engines. The gateway never sees
// engine internals; it selects one of the implementations here by config
// mode and calls Transcribe once per uploaded clip.
package asr

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
)

// Result captures recognizer output for one clip.
type Result struct {
	Text       string
	Language   string
	Confidence float64
}

// Transcriber abstracts ASR backends.
type Transcriber interface {
	// Transcribe decodes one uploaded clip. format names the container
	// ("webm", "wav", "ogg"); languageHint may be empty.
	Transcribe(ctx context.Context, audio []byte, format string, languageHint string) (Result, error)
}

func New(cfg config.ASRConfig, busClient *bus.Client) (Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg)
	case "bus":
		if busClient == nil {
			return nil, fmt.Errorf("asr mode bus requires a connected bus")
		}
		return NewBus(cfg, busClient), nil
	default:
		return nil, fmt.Errorf("unknown asr mode %q", cfg.Mode)
	}
}
