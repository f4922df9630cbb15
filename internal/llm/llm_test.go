package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

func TestMockAnswersAndRespectsCancellation(t *testing.T) {
	m := NewMock()

	text, err := m.Respond(context.Background(), "hello", nil, "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(text, "hello") {
		t.Fatalf("expected the prompt echoed back, got %q", text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Respond(ctx, "hello", nil, ""); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOllamaChatAccumulatesStream(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		out := bufio.NewWriter(w)
		for _, delta := range []string{"Hi ", "there.", ""} {
			chunk := ollamaChatChunk{Message: ollamaMessage{Role: "assistant", Content: delta}, Done: delta == ""}
			data, _ := json.Marshal(chunk)
			out.Write(data)
			out.WriteByte('\n')
		}
		out.Flush()
	}))
	defer srv.Close()

	cfg := config.Default().LLM
	cfg.Endpoint = srv.URL
	cfg.Model = "test-model"
	g := NewOllama(cfg)

	history := []Message{
		{Role: "user", Text: "earlier question"},
		{Role: "assistant", Text: "earlier answer"},
	}
	text, err := g.Respond(context.Background(), "say hi", history, "be brief")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if text != "Hi there." {
		t.Fatalf("expected accumulated reply, got %q", text)
	}

	if gotReq.Model != "test-model" || !gotReq.Stream {
		t.Fatalf("unexpected request shape: %+v", gotReq)
	}
	// system + 2 history entries + the new user message, in order.
	if len(gotReq.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[3].Content != "say hi" {
		t.Fatalf("message order wrong: %+v", gotReq.Messages)
	}
}

func TestOllamaSurfacesHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Default().LLM
	cfg.Endpoint = srv.URL
	g := NewOllama(cfg)
	if _, err := g.Respond(context.Background(), "hi", nil, ""); err == nil {
		t.Fatal("expected an error for 500 response")
	}
}

func TestNewSelectsMode(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Mode = "mock"
	if _, err := New(cfg); err != nil {
		t.Fatalf("mock mode: %v", err)
	}
	cfg.Mode = "banana"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
