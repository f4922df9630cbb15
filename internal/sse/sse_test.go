package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type recordedEmit struct {
	turnID string
	seq    int
	kind   Kind
	bytes  int
}

type captureObserver struct {
	emits []recordedEmit
}

func (c *captureObserver) ObserveEmit(turnID string, seq int, kind Kind, _ float64, bytesWritten int) {
	c.emits = append(c.emits, recordedEmit{turnID: turnID, seq: seq, kind: kind, bytes: bytesWritten})
}

func newTestWriter(t *testing.T, observers ...Observer) (*Writer, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	w, err := Open(rec, "turn-1", slog.New(slog.NewTextHandler(io.Discard, nil)), observers...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return w, rec
}

type wireEvent struct {
	kind string
	data map[string]any
}

func parseStream(t *testing.T, body string) []wireEvent {
	t.Helper()
	var events []wireEvent
	var current wireEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = wireEvent{kind: strings.TrimPrefix(line, "event: ")}
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Fatalf("bad data line %q: %v", line, err)
			}
		case line == "":
			if current.kind != "" {
				events = append(events, current)
				current = wireEvent{}
			}
		default:
			t.Fatalf("unexpected line %q", line)
		}
	}
	return events
}

func TestEmitAssignsDenseSeqAndMonotonicTime(t *testing.T) {
	obs := &captureObserver{}
	w, rec := newTestWriter(t, obs)

	if err := w.Emit(KindTranscription, &Transcription{Text: "hi", Language: "en", Time: 0.4}); err != nil {
		t.Fatalf("emit transcription: %v", err)
	}
	if err := w.Emit(KindLLMResponse, &LLMResponse{Text: "hello"}); err != nil {
		t.Fatalf("emit llm: %v", err)
	}
	if err := w.Emit(KindVideoChunk, &VideoChunk{ChunkIndex: 0, VideoURL: "/videos/a"}); err != nil {
		t.Fatalf("emit chunk: %v", err)
	}
	if err := w.Emit(KindComplete, &Complete{TotalTime: 2.5, ChunkCount: 1}); err != nil {
		t.Fatalf("emit complete: %v", err)
	}

	events := parseStream(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	wantKinds := []string{"transcription", "llm_response", "video_chunk", "complete"}
	lastTS := -1.0
	for i, ev := range events {
		if ev.kind != wantKinds[i] {
			t.Fatalf("event %d kind %q, want %q", i, ev.kind, wantKinds[i])
		}
		if int(ev.data["seq"].(float64)) != i {
			t.Fatalf("event %d has seq %v", i, ev.data["seq"])
		}
		ts := ev.data["server_timestamp"].(float64)
		if ts < lastTS {
			t.Fatalf("timestamp went backwards at event %d: %f < %f", i, ts, lastTS)
		}
		lastTS = ts
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("unexpected cache control %q", cc)
	}
	if !rec.Flushed {
		t.Fatal("body was never flushed")
	}

	if len(obs.emits) != 4 {
		t.Fatalf("observer saw %d emits", len(obs.emits))
	}
	for i, e := range obs.emits {
		if e.seq != i || e.turnID != "turn-1" || e.bytes <= 0 {
			t.Fatalf("bad observed emit %d: %+v", i, e)
		}
	}
}

func TestEmitAfterTerminalIsAnError(t *testing.T) {
	w, _ := newTestWriter(t)
	if err := w.Emit(KindComplete, &Complete{ChunkCount: 0}); err != nil {
		t.Fatalf("emit complete: %v", err)
	}
	if !w.Terminated() {
		t.Fatal("expected writer to be terminated")
	}
	err := w.Emit(KindVideoChunk, &VideoChunk{ChunkIndex: 0})
	if err == nil {
		t.Fatal("expected emit after complete to fail")
	}
	if !fault.Is(err, fault.InternalInvariant) {
		t.Fatalf("expected internal kind, got %v", err)
	}
}

func TestEmitErrorMapsFaultKind(t *testing.T) {
	w, rec := newTestWriter(t)
	w.EmitError(context.Background(),
		fault.E(fault.AdapterFailure, "lipsync.Animate", "face not detected", nil))

	events := parseStream(t, rec.Body.String())
	if len(events) != 1 || events[0].kind != "error" {
		t.Fatalf("expected a single error event, got %v", events)
	}
	if events[0].data["kind"] != "adapter" {
		t.Fatalf("expected adapter kind, got %v", events[0].data["kind"])
	}
	if events[0].data["error"] != "face not detected" {
		t.Fatalf("unexpected message: %v", events[0].data["error"])
	}
	if !w.Terminated() {
		t.Fatal("error event must terminate the stream")
	}
}

func TestEmitErrorAfterDisconnectStaysSilent(t *testing.T) {
	w, rec := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.EmitError(ctx, context.Canceled)
	if rec.Body.Len() != 0 {
		t.Fatalf("expected no bytes after disconnect, got %q", rec.Body.String())
	}
	if w.Terminated() {
		t.Fatal("silent close is not a terminal emission")
	}
}
