package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/truenicoco/slidge-sub000/internal/model"
	"github.com/truenicoco/slidge-sub000/internal/querysql"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// Schema version tracking:
// 1 - users, entities, correlations, archive
const currentSchemaVersion = 1

// Store provides durable storage for gateway sessions.
type Store struct {
	db       *sql.DB
	dialect  querysql.Dialect
	compiler *querysql.Compiler
	stable   bool
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	stable bool
	openDB func(driverName, dsn string) (*sql.DB, error)
}

// WithStableArchive declares that this deployment keeps archive ids
// stable across restarts. Ignored for memory:// stores.
func WithStableArchive(stable bool) Option {
	return func(c *openConfig) { c.stable = stable }
}

// Open creates or opens the store described by dsn and applies the schema.
// See the package documentation for supported schemes.
//
// This function is idempotent - safe to call multiple times on the same
// database.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg := openConfig{openDB: sql.Open}
	for _, opt := range opts {
		opt(&cfg)
	}

	target, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := cfg.openDB(target.Driver, target.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if target.Dialect == querysql.SQLite {
		// SQLite only supports one writer at a time, so limit connections.
		// An in-memory database also lives and dies with its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{
		db:       db,
		dialect:  target.Dialect,
		compiler: querysql.NewCompiler(target.Dialect),
		stable:   cfg.stable && !target.Memory,
	}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect reports the SQL dialect of the backend.
func (s *Store) Dialect() querysql.Dialect {
	return s.dialect
}

// Stable reports whether archive ids survive restarts for this backend.
func (s *Store) Stable() bool {
	return s.stable
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_meta WHERE id = 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, backendErr("read schema version", err)
	}
	return version, nil
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

// applySchema creates tables if they don't exist and records the version.
func (s *Store) applySchema() error {
	schema := schemaSQLite
	if s.dialect == querysql.Postgres {
		schema = schemaPostgres
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return s.runMigrations()
}

// runMigrations applies incremental migrations based on schema_meta.version.
func (s *Store) runMigrations() error {
	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	// Version 1 is the initial schema; later migrations go here in order.

	_, err = s.db.Exec(s.rebind(`
		INSERT INTO schema_meta (id, version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version
	`), currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return querysql.Rebind(s.dialect, query)
}

// backendErr converts a driver failure into a TRANSIENT_BACKEND error.
func backendErr(op string, err error) error {
	return model.NewBackendError(op, err)
}
