package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type ollamaResponder struct {
	endpoint string
	model    string
	options  ollamaOptions
	client   *http.Client
}

// NewOllama speaks the Ollama chat API. The streamed deltas are accumulated
// into one reply; the pipeline chunks the full text itself.
func NewOllama(cfg config.LLMConfig) Responder {
	return &ollamaResponder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		options: ollamaOptions{
			Temperature: cfg.Temperature,
			NumPredict:  cfg.MaxTokens,
		},
		client: http.DefaultClient,
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (g *ollamaResponder) Respond(ctx context.Context, userText string, history []Message, systemPrompt string) (string, error) {
	const op = "llm.Respond"

	messages := make([]ollamaMessage, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Text})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: userText})

	body, err := json.Marshal(ollamaChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
		Options:  g.options,
	})
	if err != nil {
		return "", fault.E(fault.AdapterFailure, op, "encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fault.E(fault.AdapterFailure, op, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fault.E(fault.AdapterFailure, op, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fault.E(fault.AdapterFailure, op,
			fmt.Sprintf("ollama returned status %s", resp.Status), nil)
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fault.E(fault.AdapterFailure, op, "decode chat chunk", err)
		}
		accumulated.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fault.E(fault.AdapterFailure, op, "read chat stream", err)
	}
	return accumulated.String(), nil
}
