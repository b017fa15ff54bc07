// Package db opens the render server's SQLite database and applies the
// embedded schema migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const DefaultBusyTimeout = 5 * time.Second

// Option configures New.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
	ephemeral   bool
}

// WithBusyTimeout sets how long a writer waits on a locked database. Appends
// and the mux runner write the same session rows concurrently.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithEphemeral trades durability for speed. Use it for throwaway session
// stores such as a local export; a crash loses the database.
func WithEphemeral() Option {
	return func(o *options) { o.ephemeral = true }
}

type DB struct {
	conn        *sql.DB
	logger      *slog.Logger
	interrupted int64
}

func New(dbPath string, logger *slog.Logger, opts ...Option) (*DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(dbPath, o))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Session status moves are read-modify-write; one connection keeps
	// them serialized.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := db.markInterruptedSessions()
	switch {
	case err != nil && logger != nil:
		logger.Warn("failed to mark interrupted sessions", "error", err)
	case n > 0 && logger != nil:
		logger.Warn("sessions interrupted by restart", "count", n)
	}
	db.interrupted = n

	return db, nil
}

// dsn carries the pragmas in the connection string so every connection the
// pool opens gets them, not just the first.
func dsn(path string, o options) string {
	journal, sync := "WAL", "NORMAL"
	if o.ephemeral {
		journal, sync = "MEMORY", "OFF"
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode("+journal+")")
	q.Add("_pragma", "synchronous("+sync+")")
	q.Add("_pragma", "foreign_keys(ON)")
	return path + "?" + q.Encode()
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Interrupted is the number of sessions failed at open because a previous
// run stopped while muxing them.
func (d *DB) Interrupted() int64 {
	return d.interrupted
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := d.apply(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one migration file and records it in the same transaction, so
// a failed migration leaves no partial schema behind.
func (d *DB) apply(name string) error {
	var applied int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM _migrations WHERE name = ?", name).Scan(&applied)
	if err != nil {
		return fmt.Errorf("failed to check migration %s: %w", name, err)
	}
	if applied > 0 {
		return nil
	}

	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", name, err)
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", name, err)
	}

	if d.logger != nil {
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

// markInterruptedSessions fails sessions that were being muxed when the
// server stopped. Their output file is incomplete and the client is polling.
func (d *DB) markInterruptedSessions() (int64, error) {
	res, err := d.conn.ExecContext(context.Background(),
		`UPDATE sessions SET status = 'error', error = 'interrupted by restart', updated_at = ? WHERE status = 'processing'`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
