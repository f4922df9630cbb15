package tts

import (
	"context"
	"encoding/json"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
)

type busSynth struct {
	subject    string
	sampleRate int
	client     *bus.Client
}

// NewBus sends fragments to a remote synthesizer worker over NATS
// request/reply.
func NewBus(cfg config.TTSConfig, client *bus.Client) Synthesizer {
	subject := cfg.Subject
	if subject == "" {
		subject = protocol.SubjectSynthesize
	}
	return &busSynth{subject: subject, sampleRate: cfg.SampleRate, client: client}
}

func (b *busSynth) Synthesize(ctx context.Context, text, voiceRef, language string) (Result, error) {
	const op = "tts.Synthesize"

	payload, err := json.Marshal(protocol.SynthesizeRequest{
		Text:     text,
		VoiceRef: voiceRef,
		Language: language,
	})
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "encode request", err)
	}

	data, err := b.client.Request(ctx, b.subject, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op, "tts worker unreachable", err)
	}

	var reply protocol.SynthesizeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode reply", err)
	}
	if reply.Error != "" {
		return Result{}, fault.E(fault.AdapterFailure, op, reply.Error, nil)
	}
	if reply.SampleRate == 0 {
		reply.SampleRate = b.sampleRate
	}
	if reply.DurationS == 0 {
		if d, err := WavDuration(reply.Audio); err == nil {
			reply.DurationS = d
		}
	}
	return Result{Audio: reply.Audio, SampleRate: reply.SampleRate, DurationS: reply.DurationS}, nil
}
