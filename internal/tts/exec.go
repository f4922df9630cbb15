package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	mu         sync.Mutex
}

type execReply struct {
	AudioBase64 string  `json:"audio_base64"`
	SampleRate  int     `json:"sample_rate"`
	DurationS   float64 `json:"duration_s"`
}

// NewExec runs a synthesizer subprocess per fragment. The command receives
// --text, --voice and --language arguments and prints a JSON object
// {audio_base64, sample_rate, duration_s} on stdout.
func NewExec(cfg config.TTSConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command is empty")
	}
	return &execSynth{cmd: args, sampleRate: cfg.SampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, text, voiceRef, language string) (Result, error) {
	const op = "tts.Synthesize"

	e.mu.Lock()
	defer e.mu.Unlock()

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--text", text)
	if voiceRef != "" {
		args = append(args, "--voice", voiceRef)
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op,
			fmt.Sprintf("tts command failed: %s", stderr.String()), err)
	}

	var reply execReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode tts response", err)
	}
	audio, err := base64.StdEncoding.DecodeString(reply.AudioBase64)
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode tts audio", err)
	}
	if len(audio) == 0 {
		return Result{}, fault.E(fault.AdapterFailure, op, "tts produced no audio", nil)
	}
	if reply.SampleRate == 0 {
		reply.SampleRate = e.sampleRate
	}
	if reply.DurationS == 0 {
		if d, err := WavDuration(audio); err == nil {
			reply.DurationS = d
		}
	}
	return Result{Audio: audio, SampleRate: reply.SampleRate, DurationS: reply.DurationS}, nil
}
