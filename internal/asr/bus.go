package asr

import (
	"context"
	"encoding/json"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
)

type busTranscriber struct {
	subject string
	client  *bus.Client
}

// NewBus sends clips to a remote recognizer worker over NATS request/reply.
func NewBus(cfg config.ASRConfig, client *bus.Client) Transcriber {
	subject := cfg.Subject
	if subject == "" {
		subject = protocol.SubjectTranscribe
	}
	return &busTranscriber{subject: subject, client: client}
}

func (b *busTranscriber) Transcribe(ctx context.Context, audio []byte, format string, languageHint string) (Result, error) {
	const op = "asr.Transcribe"

	payload, err := json.Marshal(protocol.TranscribeRequest{
		Audio:        audio,
		Format:       format,
		LanguageHint: languageHint,
	})
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "encode request", err)
	}

	data, err := b.client.Request(ctx, b.subject, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op, "asr worker unreachable", err)
	}

	var reply protocol.TranscribeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode reply", err)
	}
	if reply.Error != "" {
		return Result{}, fault.E(fault.AdapterFailure, op, reply.Error, nil)
	}
	return Result{Text: reply.Text, Language: reply.Language, Confidence: reply.Confidence}, nil
}
