// Package history persists a local log of finished call attempts. One row per
// attempt: who, what kind, how it ended, and for how long. This is call-domain
// data only — nothing else of the app's persistence lives here.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/namithm70/fitnessapp-sub001/internal/session"
)

// Record is one finished call attempt.
type Record struct {
	SessionID  string
	CallerID   string
	ReceiverID string
	Type       session.CallType
	Outcome    session.Status // terminal status the attempt reached
	StartedAt  time.Time      // zero when the call never connected
	EndedAt    time.Time
	Duration   time.Duration // zero when the call never connected
}

// Log is a SQLite-backed call log.
type Log struct {
	db *sql.DB
}

// Open opens or creates the call log database in dir.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dbPath := filepath.Join(dir, "calls.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure call log: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			session_id  TEXT PRIMARY KEY,
			caller_id   TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			call_type   TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			started_ms  INTEGER NOT NULL DEFAULT 0,
			ended_ms    INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Log{db: db}, nil
}

// Record inserts one finished attempt. Re-recording the same session id
// overwrites the previous row — teardown can be reached from more than one
// path and the last outcome wins.
func (l *Log) Record(r Record) error {
	var startedMS int64
	if !r.StartedAt.IsZero() {
		startedMS = r.StartedAt.UnixMilli()
	}
	_, err := l.db.Exec(`
		INSERT INTO calls (session_id, caller_id, receiver_id, call_type, outcome, started_ms, ended_ms, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			outcome = excluded.outcome,
			started_ms = excluded.started_ms,
			ended_ms = excluded.ended_ms,
			duration_ms = excluded.duration_ms
	`, r.SessionID, r.CallerID, r.ReceiverID, string(r.Type), string(r.Outcome),
		startedMS, r.EndedAt.UnixMilli(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Recent returns up to limit records, most recently ended first.
func (l *Log) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT session_id, caller_id, receiver_id, call_type, outcome, started_ms, ended_ms, duration_ms
		FROM calls ORDER BY ended_ms DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query call log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var callType, outcome string
		var startedMS, endedMS, durationMS int64
		if err := rows.Scan(&r.SessionID, &r.CallerID, &r.ReceiverID,
			&callType, &outcome, &startedMS, &endedMS, &durationMS); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		r.Type = session.CallType(callType)
		r.Outcome = session.Status(outcome)
		if startedMS > 0 {
			r.StartedAt = time.UnixMilli(startedMS)
		}
		r.EndedAt = time.UnixMilli(endedMS)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
