package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
)

func newTestStore(t *testing.T, retentionDays int) *Store {
	t.Helper()
	cfg := config.JournalConfig{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionDays: retentionDays,
	}
	s, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListOrderedBySeq(t *testing.T) {
	s := newTestStore(t, 7)
	ctx := context.Background()

	if err := s.RecordTurn(ctx, "turn-1", "sess-1"); err != nil {
		t.Fatalf("record turn: %v", err)
	}
	// Insert out of order; the query must still return seq order.
	for _, seq := range []int{2, 0, 1} {
		err := s.RecordEmit(ctx, EmitRecord{
			TurnID:       "turn-1",
			Seq:          seq,
			Kind:         "video_chunk",
			WallTime:     float64(seq) * 1.5,
			BytesWritten: 100 + seq,
		})
		if err != nil {
			t.Fatalf("record emit %d: %v", seq, err)
		}
	}

	records, err := s.ListTurnEvents(ctx, "turn-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Seq != i {
			t.Fatalf("record %d has seq %d", i, r.Seq)
		}
	}
	if records[2].BytesWritten != 102 {
		t.Fatalf("unexpected payload: %+v", records[2])
	}
}

func TestDuplicateSeqIsRejected(t *testing.T) {
	s := newTestStore(t, 7)
	ctx := context.Background()
	if err := s.RecordTurn(ctx, "turn-1", ""); err != nil {
		t.Fatalf("record turn: %v", err)
	}
	if err := s.RecordEmit(ctx, EmitRecord{TurnID: "turn-1", Seq: 0, Kind: "transcription"}); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	if err := s.RecordEmit(ctx, EmitRecord{TurnID: "turn-1", Seq: 0, Kind: "llm_response"}); err == nil {
		t.Fatal("expected unique index to reject duplicate seq")
	}
}

func TestPruneDropsOldTurns(t *testing.T) {
	s := newTestStore(t, 1)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	s.clock = func() time.Time { return past }
	if err := s.RecordTurn(ctx, "old-turn", ""); err != nil {
		t.Fatalf("record old turn: %v", err)
	}
	if err := s.RecordEmit(ctx, EmitRecord{TurnID: "old-turn", Seq: 0, Kind: "complete"}); err != nil {
		t.Fatalf("record old emit: %v", err)
	}

	s.clock = time.Now
	if err := s.RecordTurn(ctx, "new-turn", ""); err != nil {
		t.Fatalf("record new turn: %v", err)
	}
	if err := s.RecordEmit(ctx, EmitRecord{TurnID: "new-turn", Seq: 0, Kind: "complete"}); err != nil {
		t.Fatalf("record new emit: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	old, _ := s.ListTurnEvents(ctx, "old-turn")
	if len(old) != 0 {
		t.Fatalf("expected old emits pruned, got %d", len(old))
	}
	fresh, _ := s.ListTurnEvents(ctx, "new-turn")
	if len(fresh) != 1 {
		t.Fatalf("expected new emits retained, got %d", len(fresh))
	}
}

func TestDisabledJournalIsANoOp(t *testing.T) {
	cfg := config.JournalConfig{Enabled: false}
	s, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if err := s.RecordEmit(ctx, EmitRecord{TurnID: "t", Seq: 0}); err != nil {
		t.Fatalf("disabled emit should be a no-op: %v", err)
	}
	if records, err := s.ListTurnEvents(ctx, "t"); err != nil || records != nil {
		t.Fatalf("disabled list should return nothing: %v %v", records, err)
	}
}
