package playground

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// HistoryStore persists execution history across restarts. The runtime treats
// it as an opaque save/load pair; entries round-trip as written.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore opens (or creates) the store at the given database path.
// Use ":memory:" for an ephemeral store.
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &HistoryStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_history (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_history_started_at ON execution_history(started_at);
	`)
	return err
}

// Save upserts the given entries. Saving is additive: entries from prior
// sessions stay in place.
func (s *HistoryStore) Save(ctx context.Context, entries []HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO execution_history (id, kind, target, status, error, started_at, completed_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			completed_at = excluded.completed_at,
			duration_ns = excluded.duration_ns
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		var completed int64
		if !e.CompletedAt.IsZero() {
			completed = e.CompletedAt.UnixNano()
		}
		_, err := stmt.ExecContext(ctx,
			e.ID, string(e.Kind), e.Target, string(e.Status), e.Err,
			e.StartedAt.UnixNano(), completed, int64(e.Duration))
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Load returns every stored entry ordered by start time.
func (s *HistoryStore) Load(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target, status, error, started_at, completed_at, duration_ns
		FROM execution_history
		ORDER BY started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e                  HistoryEntry
			kind, status       string
			started, completed int64
			duration           int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Target, &status, &e.Err, &started, &completed, &duration); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = CapabilityKind(kind)
		e.Status = ExecutionStatus(status)
		e.StartedAt = time.Unix(0, started)
		if completed != 0 {
			e.CompletedAt = time.Unix(0, completed)
		}
		e.Duration = time.Duration(duration)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes every stored entry.
func (s *HistoryStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM execution_history`)
	return err
}

// Close releases the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
