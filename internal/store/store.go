package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added UNIQUE index on promotions(attempt, service, kind, seq)
// 2 - platform_versions keyed by attempt token instead of UNIQUE version
const currentSchemaVersion = 2

// Registry provides durable storage for platform version records and the
// promotion ledger. Uses SQLite with WAL mode for concurrent read access.
type Registry struct {
	db *sql.DB
}

// Open creates or opens the registry database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
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
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
		version = 2
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds a UNIQUE index so the same ledger entry cannot be
// recorded twice within one attempt. New databases are covered by this
// index too; CREATE UNIQUE INDEX IF NOT EXISTS is a no-op when present.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_promotions_attempt_unique
		ON promotions(attempt, service, kind, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 rebuilds platform_versions keyed by attempt token. The v1
// table had UNIQUE(version), which blocked a retried attempt from
// re-recording the version its failed predecessor claimed. SQLite cannot
// drop a column constraint in place, so the table is copied.
func migrateToV2(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE platform_versions_v2 (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			version      TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			release_type TEXT NOT NULL,
			source_stage TEXT NOT NULL,
			attempt      TEXT NOT NULL UNIQUE,
			services     TEXT NOT NULL,
			outcome      TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL
		)`,
		`INSERT INTO platform_versions_v2
			(id, version, fingerprint, release_type, source_stage, attempt, services, outcome, created_at)
			SELECT id, version, fingerprint, release_type, source_stage, attempt, services, outcome, created_at
			FROM platform_versions`,
		`DROP TABLE platform_versions`,
		`ALTER TABLE platform_versions_v2 RENAME TO platform_versions`,
		`CREATE INDEX IF NOT EXISTS idx_platform_versions_version
			ON platform_versions(version)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}
