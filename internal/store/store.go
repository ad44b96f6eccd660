package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/pantry/internal/clock"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - kv_cache, records, cache_metadata, offline_queue
// 2 - responses table for the caching strategies
// 3 - offline_queue.attempts and offline_queue.last_error
const currentSchemaVersion = 3

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// schemaInit collapses concurrent first-time schema setup of the same
// database file into a single run.
var schemaInit singleflight.Group

// Store provides durable storage for the offline sync engine.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	path   string
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Concurrent Opens of the same path share one schema initialization.
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.Or(s.clock)
	if s.logger == nil {
		s.logger = slog.Default()
	}

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &InitError{Path: path, Err: fmt.Errorf("open database: %w", err)}
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps an in-memory database alive for the lifetime of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &InitError{Path: path, Err: fmt.Errorf("connect to database: %w", err)}
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, &InitError{Path: path, Err: fmt.Errorf("apply pragmas: %w", err)}
	}

	s.db = db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, &InitError{Path: path, Err: fmt.Errorf("apply schema: %w", err)}
	}

	return s, nil
}

// OpenOrMemory opens the database at path and degrades to an in-memory
// database with the same schema when that fails. The returned bool reports
// whether the fallback was used. Data written to a fallback store is lost on
// exit.
func OpenOrMemory(path string, opts ...Option) (*Store, bool, error) {
	s, err := Open(path, opts...)
	if err == nil {
		return s, false, nil
	}

	logger := slog.Default()
	probe := &Store{}
	for _, opt := range opts {
		opt(probe)
	}
	if probe.logger != nil {
		logger = probe.logger
	}
	logger.Error("STORAGE INIT FAILED: falling back to in-memory store, offline data will not survive restart",
		"path", path, "error", err)

	mem, memErr := Open(MemoryPath, opts...)
	if memErr != nil {
		return nil, false, fmt.Errorf("open in-memory fallback: %w (after %v)", memErr, err)
	}
	return mem, true, nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// InMemory reports whether the store lives only in memory.
func (s *Store) InMemory() bool {
	return s.path == MemoryPath
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

// initSchema applies the schema once per database file even when several
// goroutines open it concurrently. In-memory databases are private to their
// connection and are always initialized directly.
func (s *Store) initSchema() error {
	if s.InMemory() {
		return applySchema(s.db)
	}
	_, err, _ := schemaInit.Do(s.path, func() (any, error) {
		return nil, applySchema(s.db)
	})
	if err != nil {
		return err
	}
	// A waiter that shared another Store's run still checks its own
	// connection; applySchema is idempotent.
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		return applySchema(s.db)
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
// Every migration is additive.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}
	if version < 3 {
		if err := migrateToV3(db); err != nil {
			return err
		}
	}

	// Set version after all migrations
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV2 adds the response cache used by the caching strategies.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			url        TEXT PRIMARY KEY,
			status     INTEGER NOT NULL,
			headers    TEXT NOT NULL DEFAULT '{}',
			body       BLOB,
			cached_at  INTEGER,
			max_age_ms INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// migrateToV3 records replay attempts on queued actions.
// ALTER TABLE ADD COLUMN is not idempotent, so each column is checked first.
func migrateToV3(db *sql.DB) error {
	columns := []struct{ name, ddl string }{
		{"attempts", "ALTER TABLE offline_queue ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0"},
		{"last_error", "ALTER TABLE offline_queue ADD COLUMN last_error TEXT NOT NULL DEFAULT ''"},
	}
	for _, col := range columns {
		exists, err := hasColumn(db, "offline_queue", col.name)
		if err != nil {
			return fmt.Errorf("migrate to v3: %w", err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("migrate to v3: add %s: %w", col.name, err)
		}
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
