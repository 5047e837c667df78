package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"spectrum-notifier/pkg/notifier"
)

// Dialect selects placeholder and DDL flavour.
type Dialect int

// Supported SQL dialects.
const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// OpenPostgres opens a Postgres database through pgx.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the HTTP surface.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLBackend keeps cursors and subscriber configuration in a relational store.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLBackend wraps an open database.
func NewSQLBackend(db *sql.DB, dialect Dialect) *SQLBackend {
	return &SQLBackend{db: db, dialect: dialect}
}

// Migrate creates the tables if they do not exist.
func (b *SQLBackend) Migrate(ctx context.Context) error {
	ts := b.dialect.timestampType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS spectrum_cursors (
			subscriber_id TEXT PRIMARY KEY,
			last_thread_id TEXT NOT NULL,
			updated_at ` + ts + `
		)`,
		`CREATE TABLE IF NOT EXISTS spectrum_config (
			subscriber_id TEXT PRIMARY KEY,
			forum_id TEXT NOT NULL DEFAULT '',
			destination_id TEXT NOT NULL DEFAULT '',
			updated_by TEXT NOT NULL DEFAULT '',
			updated_at ` + ts + `
		)`,
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback() //nolint:errcheck // returning the exec error
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit()
}

// LoadCursor implements Backend.
func (b *SQLBackend) LoadCursor(ctx context.Context, subscriberID string) (string, bool, error) {
	q := "SELECT last_thread_id FROM spectrum_cursors WHERE subscriber_id = " + b.dialect.placeholder(1)
	var raw string
	err := b.db.QueryRowContext(ctx, q, subscriberID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query cursor: %w", err)
	}
	return raw, true, nil
}

// SaveCursor implements Backend.
func (b *SQLBackend) SaveCursor(ctx context.Context, subscriberID, threadID string, at time.Time) error {
	p := b.dialect.placeholder
	q := fmt.Sprintf(`INSERT INTO spectrum_cursors (subscriber_id, last_thread_id, updated_at)
		VALUES (%s, %s, %s)
		ON CONFLICT (subscriber_id) DO UPDATE SET
			last_thread_id = excluded.last_thread_id,
			updated_at = excluded.updated_at`, p(1), p(2), p(3))
	if _, err := b.db.ExecContext(ctx, q, subscriberID, threadID, at); err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// ListCursors implements Backend.
func (b *SQLBackend) ListCursors(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT subscriber_id, last_thread_id FROM spectrum_cursors")
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	out := make(map[string]string)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out[id] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return out, nil
}

// Subscribers returns the configured subscribers, ordered by id.
func (b *SQLBackend) Subscribers(ctx context.Context) ([]notifier.Subscriber, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT subscriber_id, forum_id, destination_id, updated_by, updated_at
		FROM spectrum_config ORDER BY subscriber_id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var subs []notifier.Subscriber
	for rows.Next() {
		var sub notifier.Subscriber
		var updatedAt sql.NullString
		if err := rows.Scan(&sub.ID, &sub.ForumID, &sub.DestinationID, &sub.UpdatedBy, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.UpdatedAt = parseTimestamp(updatedAt.String)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
