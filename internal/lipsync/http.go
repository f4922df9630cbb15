package lipsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
)

type httpAnimator struct {
	endpoint string
	client   *http.Client
}

// NewHTTP speaks to a GPU sidecar's /avatar/generate endpoint.
func NewHTTP(cfg config.LipSyncConfig) Animator {
	return &httpAnimator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   http.DefaultClient,
	}
}

func (h *httpAnimator) Animate(ctx context.Context, audio []byte, portraitRef string, opts Options) (Result, error) {
	const op = "lipsync.Animate"

	body, err := json.Marshal(protocol.AnimateRequest{
		Audio:          audio,
		PortraitRef:    portraitRef,
		FPS:            opts.FPS,
		Resolution:     opts.Resolution,
		DiffusionSteps: opts.DiffusionSteps,
	})
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/avatar/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op, "lipsync sidecar unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fault.E(fault.AdapterFailure, op,
			fmt.Sprintf("lipsync sidecar returned status %s", resp.Status), nil)
	}

	var reply protocol.AnimateReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode reply", err)
	}
	if reply.Error != "" {
		return Result{}, fault.E(fault.AdapterFailure, op, reply.Error, nil)
	}
	if len(reply.Video) == 0 {
		return Result{}, fault.E(fault.AdapterFailure, op, "lipsync produced no video", nil)
	}
	return Result{Video: reply.Video, DurationS: reply.DurationS, FrameCount: reply.FrameCount}, nil
}
