// Package store provides the local record store for tasksync.
//
// The store is the single owner of every TaskRecord on the device. It runs
// SQLite in embedded mode (ncruces/go-sqlite3, no cgo) with WAL enabled so
// listings can be served while a sync pass is writing.
//
// Architecture:
//   - Database file: ~/.local/share/tasksync/tasks.db (configurable)
//   - Schema: tasks, sync_cursors tables
//   - Indexes: listing order (due_date, sort_order) and dirty-record scans
//
// Two write paths exist:
//  1. Local mutations (Insert, Update, SoftDelete) bump LastModifiedDate and
//     notify OnChange listeners so a sync pass gets scheduled.
//  2. Reconciliation writes (Reconcile) come from the sync engine. They store
//     exactly what they are given and notify nobody.
//
// Both paths serialize per task ID; different IDs never wait on each other.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// MemoryPath opens a private in-memory database. Useful for tests and
// throwaway sessions; nothing survives Close.
const MemoryPath = ":memory:"

// timeFormat is fixed width and always UTC so that lexical order of the
// stored text matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Config holds optional store settings.
type Config struct {
	// Clock returns the current time for LastModifiedDate stamps
	// (default: time.Now)
	Clock func() time.Time

	// Logger for store activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns a Config that logs to stderr.
func DefaultConfig() *Config {
	return &Config{
		Clock:  time.Now,
		Logger: log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

// DB wraps the SQLite connection and exposes the record store operations.
type DB struct {
	conn   *sql.DB
	path   string
	clock  func() time.Time
	logger *log.Logger
	locks  *keyLock

	listenersMu sync.RWMutex
	listeners   []func()
}

// Open creates or opens the store at path with default settings.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open("tasks.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig opens the store with custom settings.
// The schema is created if it does not exist yet.
func OpenWithConfig(path string, config *Config) (*DB, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	memory := path == MemoryPath || path == ""
	dsn := "file::memory:"
	if !memory {
		// The database file may be the first thing in its directory.
		path = strings.TrimPrefix(path, "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w: %w", ErrStorageUnavailable, err)
		}
		dsn = "file:" + path
	}
	// Immediate transactions take the write lock up front, so a
	// read-modify-write never fails half way on a lock upgrade.
	dsn += "?_txlock=immediate&_pragma=busy_timeout(5000)"

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w: %w", ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w: %w", ErrStorageUnavailable, err)
	}

	if memory {
		// Every connection would get its own empty database otherwise.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{
		conn:   conn,
		path:   path,
		clock:  config.Clock,
		logger: config.Logger,
		locks:  newKeyLock(),
	}

	// WAL lets the dashboard read while a pass writes.
	if !memory {
		if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w: %w", ErrStorageUnavailable, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path (":memory:" for in-memory stores).
func (db *DB) Path() string {
	if db.path == "" {
		return MemoryPath
	}
	return db.path
}

// RawDB exposes the connection pool for tests and migrations.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL into the main file and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates missing tables and indexes.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext is InitSchema bounded by ctx.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subtitle TEXT,
		due_date TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		sort_order INTEGER NOT NULL DEFAULT 0,
		last_modified_date TEXT NOT NULL,
		remote_record_id TEXT,
		last_sync_date TEXT,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		reject_reason TEXT
	);

	-- Pull cursor per synchronized record kind
	CREATE TABLE IF NOT EXISTS sync_cursors (
		kind TEXT PRIMARY KEY,
		since TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_listing
	    ON tasks(is_deleted, due_date, sort_order);
	CREATE INDEX IF NOT EXISTS idx_tasks_dirty
	    ON tasks(last_sync_date, last_modified_date);
	`

	if err := db.ready(); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return unavailable("initialize schema", err)
	}

	return nil
}

// OnChange registers fn to run after every successful local mutation.
//
// Listeners run synchronously on the mutating goroutine after the write is
// durable, so they must not block; Coordinator.Trigger is the intended
// listener. A listener can never fail the mutation that invoked it.
func (db *DB) OnChange(fn func()) {
	db.listenersMu.Lock()
	defer db.listenersMu.Unlock()
	db.listeners = append(db.listeners, fn)
}

func (db *DB) notifyChange() {
	db.listenersMu.RLock()
	listeners := append([]func(){}, db.listeners...)
	db.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

func (db *DB) ready() error {
	if db.conn == nil {
		return fmt.Errorf("database is closed: %w", ErrStorageUnavailable)
	}
	return nil
}

// unavailable wraps a driver error as ErrStorageUnavailable, keeping
// context cancellation distinguishable.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStorageUnavailable, err)
}

// formatTime converts a timestamp to its stored text form.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime converts stored text back to a timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// timeToNullString stores nil as NULL and anything else via formatTime.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime reverses timeToNullString.
func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
