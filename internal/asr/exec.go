package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type execTranscriber struct {
	cmd []string
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// NewExec runs a recognizer subprocess per clip. The command receives the
// clip path via --audio and an optional --language hint, and prints a JSON
// object {text, language, confidence} on stdout.
func NewExec(cfg config.ASRConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse asr command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("asr command is empty")
	}
	return &execTranscriber{cmd: args}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, audio []byte, format string, languageHint string) (Result, error) {
	const op = "asr.Transcribe"

	r.mu.Lock()
	defer r.mu.Unlock()

	if format == "" {
		format = "bin"
	}
	file, err := os.CreateTemp("", "avatar_asr_*."+format)
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "temp file", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(audio); err != nil {
		file.Close()
		return Result{}, fault.E(fault.AdapterFailure, op, "write clip", err)
	}
	if err := file.Close(); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "close clip", err)
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if languageHint != "" {
		args = append(args, "--language", languageHint)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op,
			fmt.Sprintf("asr command failed: %s", stderr.String()), err)
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode asr response", err)
	}
	if resp.Language == "" {
		resp.Language = languageHint
	}
	return Result{Text: resp.Text, Language: resp.Language, Confidence: resp.Confidence}, nil
}
