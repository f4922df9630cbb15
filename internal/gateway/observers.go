package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/bus"
	"github.com/loqalabs/loqa-avatar/internal/journal"
	"github.com/loqalabs/loqa-avatar/internal/protocol"
	"github.com/loqalabs/loqa-avatar/internal/sse"
)

// journalObserver persists every emit. Journal failures are logged and
// swallowed; the stream must never stall on the audit trail.
type journalObserver struct {
	store *journal.Store
	log   *slog.Logger
}

func (o journalObserver) ObserveEmit(turnID string, seq int, kind sse.Kind, wallTime float64, bytesWritten int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := o.store.RecordEmit(ctx, journal.EmitRecord{
		TurnID:       turnID,
		Seq:          seq,
		Kind:         string(kind),
		WallTime:     wallTime,
		BytesWritten: bytesWritten,
	})
	if err != nil {
		o.log.Warn("emit not journaled",
			slog.String("turn_id", turnID),
			slog.Int("seq", seq),
			slog.String("error", err.Error()))
	}
}

// busAnnouncer mirrors each emit onto the message bus as a lightweight
// TurnEvent, fire and forget.
type busAnnouncer struct {
	bus     *bus.Client
	subject string
	log     *slog.Logger
}

func (o busAnnouncer) ObserveEmit(turnID string, seq int, kind sse.Kind, wallTime float64, _ int) {
	data, err := json.Marshal(protocol.TurnEvent{
		TurnID:    turnID,
		Seq:       seq,
		Kind:      string(kind),
		Timestamp: wallTime,
	})
	if err != nil {
		return
	}
	if err := o.bus.Publish(o.subject, data); err != nil {
		o.log.Warn("turn event not announced",
			slog.String("turn_id", turnID),
			slog.Int("seq", seq),
			slog.String("error", err.Error()))
	}
}
