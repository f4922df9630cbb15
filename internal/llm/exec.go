package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type execResponder struct {
	cfg config.LLMConfig
	cmd []string
	mu  sync.Mutex
}

type execPrompt struct {
	Prompt      string        `json:"prompt"`
	System      string        `json:"system,omitempty"`
	History     []execMessage `json:"history,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type execMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type execReply struct {
	Text string `json:"text"`
}

// NewExec runs a model subprocess per turn. The command reads a JSON prompt
// object on stdin and prints {"text": ...} on stdout.
func NewExec(cfg config.LLMConfig) (Responder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command is empty")
	}
	return &execResponder{cfg: cfg, cmd: args}, nil
}

func (g *execResponder) Respond(ctx context.Context, userText string, history []Message, systemPrompt string) (string, error) {
	const op = "llm.Respond"

	g.mu.Lock()
	defer g.mu.Unlock()

	prompt := execPrompt{
		Prompt:      userText,
		System:      systemPrompt,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}
	for _, m := range history {
		prompt.History = append(prompt.History, execMessage{Role: m.Role, Text: m.Text})
	}
	input, err := json.Marshal(prompt)
	if err != nil {
		return "", fault.E(fault.AdapterFailure, op, "encode prompt", err)
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fault.E(fault.AdapterFailure, op, "llm command failed", err)
	}

	var reply execReply
	if err := json.Unmarshal(output, &reply); err != nil {
		return "", fault.E(fault.AdapterFailure, op, "decode llm response", err)
	}
	return reply.Text, nil
}
