package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/fault"
)

// processStart anchors the monotonic server_timestamp clock. time.Since
// reads the runtime's monotonic clock, so timestamps never go backwards
// even across wall-clock adjustments.
var processStart = time.Now()

// Observer sees every successful emit. Implementations journal the record
// or announce it on the bus; failures there must not fail the stream.
type Observer interface {
	ObserveEmit(turnID string, seq int, kind Kind, wallTime float64, bytesWritten int)
}

// Writer binds one turn to one response body. Not safe for concurrent use;
// the per-turn pipeline is the single producer by contract.
type Writer struct {
	turnID    string
	dst       io.Writer
	flusher   http.Flusher
	logger    *slog.Logger
	observers []Observer

	seq      int
	closed   bool
	terminal bool
	now      func() float64
}

// Open prepares a response body for event streaming and returns the bound
// writer. The ResponseWriter must support flushing, which any HTTP/2
// capable server does.
func Open(w http.ResponseWriter, turnID string, logger *slog.Logger, observers ...Observer) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fault.E(fault.InternalInvariant, "sse.Open", "response writer does not support flushing", nil)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Accel-Buffering", "no")

	return &Writer{
		turnID:    turnID,
		dst:       w,
		flusher:   flusher,
		logger:    logger,
		observers: observers,
		now:       func() float64 { return time.Since(processStart).Seconds() },
	}, nil
}

// TurnID returns the turn this writer is bound to.
func (w *Writer) TurnID() string { return w.turnID }

// Emit assigns the next sequence number, stamps the timestamp, writes the
// event in wire format and flushes. A terminal event (complete or error)
// closes the writer; emitting afterwards is an error.
func (w *Writer) Emit(kind Kind, payload stampable) error {
	const op = "sse.Emit"

	if w.closed {
		return fault.E(fault.InternalInvariant, op,
			fmt.Sprintf("emit %s after terminal event", kind), nil)
	}

	seq := w.seq
	ts := w.now()
	payload.stamp(seq, ts)

	data, err := json.Marshal(payload)
	if err != nil {
		return fault.E(fault.InternalInvariant, op, "encode event payload", err)
	}

	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", kind, data)
	n, err := io.WriteString(w.dst, frame)
	if err != nil {
		w.closed = true
		return fault.E(fault.ClientDisconnect, op, "client went away", err)
	}
	w.flusher.Flush()

	w.seq++
	if kind == KindComplete || kind == KindError {
		w.closed = true
		w.terminal = true
	}

	w.logger.Info("sse emit",
		slog.String("turn_id", w.turnID),
		slog.Int("seq", seq),
		slog.String("event_kind", string(kind)),
		slog.Float64("wall_time", ts),
		slog.Int("bytes_written", n),
	)
	for _, o := range w.observers {
		o.ObserveEmit(w.turnID, seq, kind, ts, n)
	}
	return nil
}

// Close marks the stream terminated without emitting. Used on cancellation
// where no further event may be sent.
func (w *Writer) Close() { w.closed = true }

// Terminated reports whether a complete or error event went out.
func (w *Writer) Terminated() bool { return w.terminal }

// EmitError sends the terminal error event for err, mapping its fault kind
// to the wire taxonomy. Context cancellation emits nothing: the client is
// gone and the contract forbids events after disconnect.
func (w *Writer) EmitError(ctx context.Context, err error) {
	if ctx.Err() != nil || fault.Is(err, fault.ClientDisconnect) {
		w.Close()
		return
	}
	emitErr := w.Emit(KindError, &Error{
		Error: fault.Message(err),
		Kind:  string(fault.KindOf(err)),
	})
	if emitErr != nil {
		w.logger.Warn("error event not delivered",
			slog.String("turn_id", w.turnID),
			slog.String("error", emitErr.Error()))
	}
}
