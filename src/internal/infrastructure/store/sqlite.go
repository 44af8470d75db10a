package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
    controller_id TEXT NOT NULL,
    action_id     TEXT NOT NULL,
    kind          TEXT NOT NULL,
    state         TEXT NOT NULL,
    started_at    TEXT NOT NULL,
    ended_at      TEXT,
    error         TEXT,
    PRIMARY KEY (controller_id, action_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_actions_started ON actions (controller_id, started_at);
`

// SQLiteStore persists finished actions so history survives restarts.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveAction inserts or replaces the record of an action.
func (s *SQLiteStore) SaveAction(ctx context.Context, controllerID string, rec entity.ActionRecord) error {
	var ended any
	if rec.EndTime != nil {
		ended = rec.EndTime.UTC().Format(time.RFC3339Nano)
	}
	var errText any
	if rec.Error != "" {
		errText = rec.Error
	}

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO actions (controller_id, action_id, kind, state, started_at, ended_at, error)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (controller_id, action_id, kind) DO UPDATE SET
                 state = excluded.state,
                 started_at = excluded.started_at,
                 ended_at = excluded.ended_at,
                 error = excluded.error`,
			controllerID,
			rec.ID,
			string(rec.Kind),
			string(rec.State),
			rec.StartTime.UTC().Format(time.RFC3339Nano),
			ended,
			errText,
		)
		return err
	})
}

// LoadActions returns the newest limit actions of a device, oldest first.
func (s *SQLiteStore) LoadActions(ctx context.Context, controllerID string, limit int) ([]entity.ActionRecord, error) {
	if limit <= 0 {
		limit = DefaultMaxHistory
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, kind, state, started_at, ended_at, error FROM (
             SELECT * FROM actions WHERE controller_id = ?
             ORDER BY started_at DESC LIMIT ?
         ) ORDER BY started_at ASC`,
		controllerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []entity.ActionRecord
	for rows.Next() {
		var (
			rec                    entity.ActionRecord
			kind, state, startedAt string
			endedAt, errText       sql.NullString
		)
		if err := rows.Scan(&rec.ID, &kind, &state, &startedAt, &endedAt, &errText); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Kind = entity.ActionKind(kind)
		rec.State = entity.ActionState(state)
		if rec.StartTime, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if endedAt.Valid {
			end, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			rec.EndTime = &end
		}
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Restore loads persisted history for controllerIDs into s.
func (s *ActionStore) Restore(ctx context.Context, src *SQLiteStore, controllerIDs ...string) error {
	for _, id := range controllerIDs {
		recs, err := src.LoadActions(ctx, id, s.maxHistory)
		if err != nil {
			return fmt.Errorf("restore %s: %w", id, err)
		}
		s.mu.Lock()
		d := s.device(id)
		d.history = append(recs, d.history...)
		if len(d.history) > s.maxHistory {
			d.history = d.history[len(d.history)-s.maxHistory:]
		}
		s.mu.Unlock()
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
