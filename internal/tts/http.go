package tts

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

type httpSynth struct {
	endpoint   string
	sampleRate int
	client     *http.Client
}

// NewHTTP speaks to a GPU sidecar's /tts/generate endpoint.
func NewHTTP(cfg config.TTSConfig) Synthesizer {
	return &httpSynth{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		sampleRate: cfg.SampleRate,
		client:     http.DefaultClient,
	}
}

func (h *httpSynth) Synthesize(ctx context.Context, text, voiceRef, language string) (Result, error) {
	const op = "tts.Synthesize"

	body, err := json.Marshal(protocol.SynthesizeRequest{
		Text:     text,
		VoiceRef: voiceRef,
		Language: language,
	})
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/tts/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op, "tts sidecar unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fault.E(fault.AdapterFailure, op,
			fmt.Sprintf("tts sidecar returned status %s", resp.Status), nil)
	}

	var reply protocol.SynthesizeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode reply", err)
	}
	if reply.Error != "" {
		return Result{}, fault.E(fault.AdapterFailure, op, reply.Error, nil)
	}
	if len(reply.Audio) == 0 {
		return Result{}, fault.E(fault.AdapterFailure, op, "tts produced no audio", nil)
	}
	if reply.SampleRate == 0 {
		reply.SampleRate = h.sampleRate
	}
	if reply.DurationS == 0 {
		if d, err := WavDuration(reply.Audio); err == nil {
			reply.DurationS = d
		}
	}
	return Result{Audio: reply.Audio, SampleRate: reply.SampleRate, DurationS: reply.DurationS}, nil
}
