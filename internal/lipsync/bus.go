package lipsync

import (
	"context"
	"encoding/json"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
)

type busAnimator struct {
	subject string
	client  *bus.Client
}

// NewBus sends chunks to a remote renderer worker over NATS request/reply.
func NewBus(cfg config.LipSyncConfig, client *bus.Client) Animator {
	subject := cfg.Subject
	if subject == "" {
		subject = protocol.SubjectAnimate
	}
	return &busAnimator{subject: subject, client: client}
}

func (b *busAnimator) Animate(ctx context.Context, audio []byte, portraitRef string, opts Options) (Result, error) {
	const op = "lipsync.Animate"

	payload, err := json.Marshal(protocol.AnimateRequest{
		Audio:          audio,
		PortraitRef:    portraitRef,
		FPS:            opts.FPS,
		Resolution:     opts.Resolution,
		DiffusionSteps: opts.DiffusionSteps,
	})
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "encode request", err)
	}

	data, err := b.client.Request(ctx, b.subject, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op, "lipsync worker unreachable", err)
	}

	var reply protocol.AnimateReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode reply", err)
	}
	if reply.Error != "" {
		return Result{}, fault.E(fault.AdapterFailure, op, reply.Error, nil)
	}
	return Result{Video: reply.Video, DurationS: reply.DurationS, FrameCount: reply.FrameCount}, nil
}
