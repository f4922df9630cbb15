// Package journal persists one row per SSE emit. When a client reports
// out-of-order arrival, the journal is the retrospective proof of what the
// backend actually sent and in what order.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
	_ "modernc.org/sqlite"
)

// EmitRecord is one journaled SSE emission.
type EmitRecord struct {
	ID           int64
	TurnID       string
	Seq          int
	Kind         string
	WallTime     float64
	BytesWritten int
	CreatedAt    time.Time
}

// Store wraps a SQLite-backed emit journal. A disabled journal is a valid
// store whose writes are no-ops.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS turns (
    turn_id TEXT PRIMARY KEY,
    session_id TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS emits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    turn_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    wall_time REAL NOT NULL,
    bytes_written INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(turn_id) REFERENCES turns(turn_id) ON DELETE CASCADE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_emits_turn_seq ON emits(turn_id, seq);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTurn ensures a turn row exists.
func (s *Store) RecordTurn(ctx context.Context, turnID, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(turn_id, session_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(turn_id) DO NOTHING`,
		turnID, sessionID, s.clock().UTC())
	return err
}

// RecordEmit journals one SSE emission.
func (s *Store) RecordEmit(ctx context.Context, rec EmitRecord) error {
	if s.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emits(turn_id, seq, kind, wall_time, bytes_written, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.Seq, rec.Kind, rec.WallTime, rec.BytesWritten, rec.CreatedAt)
	return err
}

// ListTurnEvents returns a turn's journaled emits ordered by seq.
func (s *Store) ListTurnEvents(ctx context.Context, turnID string) ([]EmitRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, seq, kind, wall_time, bytes_written, created_at
		 FROM emits WHERE turn_id = ? ORDER BY seq ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EmitRecord
	for rows.Next() {
		var r EmitRecord
		var created string
		if err := rows.Scan(&r.ID, &r.TurnID, &r.Seq, &r.Kind, &r.WallTime, &r.BytesWritten, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies the configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM emits WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}
