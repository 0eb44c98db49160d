// ABOUTME: SQLite implementation of the Journal interface using modernc.org/sqlite
// ABOUTME: Persists relay events with automatic schema creation and WAL mode

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const busyTimeoutMillis = 2000

// SQLiteStore implements Journal using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a journal at the given path.
// The schema is created if it doesn't exist and parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "journal")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// The host and the CLI may have the journal open at the same time. The busy
	// timeout is per connection, so it goes in the DSN where the driver applies
	// it to every connection the pool opens.
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("journal opened", "path", path)
	return s, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(" + strconv.Itoa(busyTimeoutMillis) + ")"
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			at TEXT NOT NULL,
			action TEXT,
			frame_id INTEGER NOT NULL DEFAULT 0,
			request_id TEXT,
			detail TEXT,

			CHECK (kind IN ('command_sent', 'command_stale', 'command_malformed',
				'result_published', 'reply_duplicate', 'frame_dropped'))
		);

		CREATE INDEX IF NOT EXISTS idx_exchanges_kind ON exchanges(kind);
		CREATE INDEX IF NOT EXISTS idx_exchanges_frame ON exchanges(frame_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record appends e. A zero At is stamped with the current time.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (kind, at, action, frame_id, request_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Kind), e.At.UTC().Format(time.RFC3339Nano), nullString(e.Action), e.FrameID,
		nullString(e.RequestID), nullString(e.Detail))
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Kind, err)
	}
	return nil
}

// nullString returns nil for empty strings so they are stored as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Recent returns up to limit entries, newest first. A non-positive limit means 50.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, at, action, frame_id, request_id, detail
		FROM exchanges
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                         Entry
			kind, at                  string
			action, requestID, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &at, &action, &e.FrameID, &requestID, &detail); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		e.Kind = Kind(kind)
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parsing exchange time: %w", err)
		}
		e.Action = action.String
		e.RequestID = requestID.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}
	return entries, nil
}

// Counts returns the number of entries per kind.
func (s *SQLiteStore) Counts(ctx context.Context) (map[Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM exchanges GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting exchanges: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	return counts, rows.Err()
}
