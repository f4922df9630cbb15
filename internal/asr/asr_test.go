package asr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
	"github.com/loqalabs/loqa-avatar/internal/natsserver"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockTranscriber(t *testing.T) {
	m := NewMock()
	res, err := m.Transcribe(context.Background(), []byte("clip"), "webm", "es")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected transcript text")
	}
	if res.Language != "es" {
		t.Fatalf("expected language hint to pass through, got %q", res.Language)
	}

	if _, err := m.Transcribe(context.Background(), nil, "webm", ""); !fault.Is(err, fault.AdapterFailure) {
		t.Fatalf("expected adapter failure for empty clip, got %v", err)
	}
}

func TestExecTranscriber(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "stub-asr.sh")
	body := "#!/bin/sh\necho '{\"text\":\"stub transcript\",\"language\":\"es\",\"confidence\":0.42}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	tr, err := NewExec(config.ASRConfig{Mode: "exec", Command: script})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), []byte("clip-bytes"), "wav", "en")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "stub transcript" || res.Language != "es" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Confidence != 0.42 {
		t.Fatalf("unexpected confidence: %v", res.Confidence)
	}
}

func TestExecTranscriberCommandFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "broken-asr.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	tr, err := NewExec(config.ASRConfig{Mode: "exec", Command: script})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), []byte("x"), "wav", ""); !fault.Is(err, fault.AdapterFailure) {
		t.Fatalf("expected adapter failure, got %v", err)
	}
}

func TestBusTranscriber(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, discardLogger())
	if err != nil {
		t.Fatalf("embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg := config.BusConfig{
		Servers:          []string{srv.ClientURL()},
		ConnectTimeoutMS: 2000,
		RequestTimeoutMS: 2000,
	}
	client, err := bus.Connect(context.Background(), busCfg, discardLogger())
	if err != nil {
		t.Fatalf("bus connect: %v", err)
	}
	t.Cleanup(client.Close)

	sub, err := client.Conn().Subscribe(protocol.SubjectTranscribe, func(msg *nats.Msg) {
		var req protocol.TranscribeRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		reply, _ := json.Marshal(protocol.TranscribeReply{
			Text:     "heard " + string(req.Audio),
			Language: req.LanguageHint,
		})
		msg.Respond(reply)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })

	tr := NewBus(config.ASRConfig{Mode: "bus"}, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := tr.Transcribe(ctx, []byte("hola"), "webm", "es")
	if err != nil {
		t.Fatalf("transcribe over bus: %v", err)
	}
	if res.Text != "heard hola" || res.Language != "es" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestBusTranscriberWorkerError(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, discardLogger())
	if err != nil {
		t.Fatalf("embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:          []string{srv.ClientURL()},
		ConnectTimeoutMS: 2000,
		RequestTimeoutMS: 2000,
	}, discardLogger())
	if err != nil {
		t.Fatalf("bus connect: %v", err)
	}
	t.Cleanup(client.Close)

	sub, _ := client.Conn().Subscribe(protocol.SubjectTranscribe, func(msg *nats.Msg) {
		reply, _ := json.Marshal(protocol.TranscribeReply{Error: "model not loaded"})
		msg.Respond(reply)
	})
	t.Cleanup(func() { sub.Unsubscribe() })

	tr := NewBus(config.ASRConfig{Mode: "bus"}, client)
	_, err = tr.Transcribe(context.Background(), []byte("x"), "webm", "")
	if !fault.Is(err, fault.AdapterFailure) {
		t.Fatalf("expected adapter failure, got %v", err)
	}
}
