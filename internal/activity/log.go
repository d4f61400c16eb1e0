// Package activity keeps a small local log of upload outcomes in sqlite.
// The engine packages never import it; only the CLI writes and reads it.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded upload outcome.
type Entry struct {
	ID          int64
	Key         string
	Operator    string
	Strategy    string
	Mode        string // direct or relay
	Sent        int
	Skipped     int
	Failed      int
	FinalHash   string
	Success     bool
	RecordedAt  time.Time
}

// Log is the activity store interface the CLI consumes.
type Log interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Last(ctx context.Context, key string) (*Entry, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	operator TEXT NOT NULL,
	strategy TEXT NOT NULL,
	mode TEXT NOT NULL,
	sent INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	final_hash TEXT,
	success INTEGER NOT NULL,
	recorded_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_key ON uploads(key, recorded_at);
`

// SqliteLog implements Log over a sqlite database.
type SqliteLog struct {
	conn *sql.DB
}

// Open opens the log at path, creates dirs and runs migrations.
func Open(path string) (*SqliteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SqliteLog{conn: conn}, nil
}

// Record appends one entry.
func (l *SqliteLog) Record(ctx context.Context, e Entry) error {
	ts := float64(time.Now().UnixNano()) / 1e9
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO uploads (key, operator, strategy, mode, sent, skipped, failed, final_hash, success, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Key, e.Operator, e.Strategy, e.Mode, e.Sent, e.Skipped, e.Failed, e.FinalHash, boolInt(e.Success), ts)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (l *SqliteLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, key, operator, strategy, mode, sent, skipped, failed, COALESCE(final_hash, ''), success, recorded_at
		FROM uploads ORDER BY recorded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Last returns the newest entry for a key, or nil.
func (l *SqliteLog) Last(ctx context.Context, key string) (*Entry, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, key, operator, strategy, mode, sent, skipped, failed, COALESCE(final_hash, ''), success, recorded_at
		FROM uploads WHERE key = ? ORDER BY recorded_at DESC LIMIT 1
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// Close closes the database.
func (l *SqliteLog) Close() error { return l.conn.Close() }

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var success int
		var ts float64
		if err := rows.Scan(&e.ID, &e.Key, &e.Operator, &e.Strategy, &e.Mode, &e.Sent, &e.Skipped, &e.Failed, &e.FinalHash, &success, &ts); err != nil {
			return nil, err
		}
		e.Success = success != 0
		e.RecordedAt = time.Unix(0, int64(ts*1e9))
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
