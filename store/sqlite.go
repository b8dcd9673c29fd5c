// Package store implements the embedded persistence layer backing the
// Security Gate & Access Store (spec component 4.E) and the Call
// Supervisor's sealed call records (spec component 4.F): blacklist,
// whitelist, failed-unlock history, and finished calls.
//
// Grounded end to end on rcliao-agent-memory's internal/store/sqlite.go:
// the WAL+foreign_keys connection string, idempotent
// CREATE TABLE IF NOT EXISTS plus additive ALTER TABLE migration, ULID
// primary keys, and the shared scanner interface for row scanning.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/agentplexus/voiceagent"
)

// Store is the embedded SQLite-backed persistence layer.
type Store struct {
	db      *sql.DB
	entropy *rand.Rand
}

// Open creates or opens the database at path, applying migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db, entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		id          TEXT PRIMARY KEY,
		caller_id   TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		ended_at    TEXT,
		duration_s  REAL NOT NULL DEFAULT 0,
		cost_cents  REAL NOT NULL DEFAULT 0,
		transcript  TEXT NOT NULL DEFAULT '[]',
		logs        TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller_id);

	CREATE TABLE IF NOT EXISTS blacklist (
		caller_id  TEXT PRIMARY KEY,
		blocked_at TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS whitelist (
		caller_id TEXT PRIMARY KEY,
		added_at  TEXT NOT NULL,
		note      TEXT
	);

	CREATE TABLE IF NOT EXISTS failed_unlock_calls (
		id         TEXT PRIMARY KEY,
		caller_id  TEXT NOT NULL,
		ts         TEXT NOT NULL,
		code_tried TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_failed_unlock_caller ON failed_unlock_calls(caller_id, ts);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Additive migrations for fields introduced after the initial schema.
	s.db.Exec(`ALTER TABLE blacklist ADD COLUMN reason TEXT NOT NULL DEFAULT ''`)

	return nil
}

// scanner lets scan helpers work against either *sql.Row or *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// PutCall inserts a new sealed call record.
func (s *Store) PutCall(ctx context.Context, call voiceagent.Call) (string, error) {
	id := call.ID
	if id == "" {
		id = s.newID()
	}

	transcriptJSON, err := marshalTranscript(call.Transcript)
	if err != nil {
		return "", err
	}

	var endedAt sql.NullString
	if !call.EndedAt.IsZero() {
		endedAt = sql.NullString{String: call.EndedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls (id, caller_id, started_at, ended_at, duration_s, cost_cents, transcript, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			duration_s = excluded.duration_s,
			cost_cents = excluded.cost_cents,
			transcript = excluded.transcript,
			logs = excluded.logs
	`, id, call.CallerID, call.StartedAt.UTC().Format(time.RFC3339), endedAt, call.DurationS, call.CostCents, transcriptJSON, call.Logs)
	if err != nil {
		return "", fmt.Errorf("put call: %w", err)
	}
	return id, nil
}

// GetCall fetches one call by id.
func (s *Store) GetCall(ctx context.Context, id string) (voiceagent.Call, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, caller_id, started_at, ended_at, duration_s, cost_cents, transcript, logs
		FROM calls WHERE id = ?`, id)
	return scanCall(row)
}

// ListCalls returns calls most-recent first, capped at limit.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]voiceagent.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, started_at, ended_at, duration_s, cost_cents, transcript, logs
		FROM calls ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []voiceagent.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(row scanner) (voiceagent.Call, error) {
	var c voiceagent.Call
	var startedAt string
	var endedAt sql.NullString
	var transcriptJSON, logs string

	err := row.Scan(&c.ID, &c.CallerID, &startedAt, &endedAt, &c.DurationS, &c.CostCents, &transcriptJSON, &logs)
	if err != nil {
		return c, err
	}

	c.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if endedAt.Valid {
		c.EndedAt, _ = time.Parse(time.RFC3339, endedAt.String)
	}
	c.Logs = logs
	c.Transcript, err = unmarshalTranscript(transcriptJSON)
	return c, err
}
