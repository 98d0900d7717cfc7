package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrUnknownPartition is returned for partitions the schema does not declare.
	ErrUnknownPartition = errors.New("unknown partition")

	// ErrMissingID is returned when a record has no usable "id" field.
	ErrMissingID = errors.New("record has no id")

	// ErrReservedPartition is returned when a generic write targets a
	// partition that only accepts typed queue operations.
	ErrReservedPartition = errors.New("partition is reserved for queue operations")

	// ErrMutationNotFound is returned by queue operations on unknown ids.
	ErrMutationNotFound = errors.New("mutation not found")
)

// Store is the Local Store handle. It is owned by the caller that opened it
// and is safe for concurrent use.
type Store struct {
	db         *sql.DB
	partitions map[string]bool
	now        func() time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	extra []string
}

// WithPartitions declares additional entity partitions on top of the
// built-in schema. Extra partitions are registered additively on every Open.
func WithPartitions(names ...string) Option {
	return func(o *options) {
		o.extra = append(o.extra, names...)
	}
}

// Open creates or opens the Local Store database at the given path.
// Applies required pragmas and schema upgrades automatically.
//
// This function is idempotent - safe to call multiple times on the same
// path. Each call returns an independent handle that must be closed.
func Open(path string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

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

	s := &Store{db: db, now: time.Now}

	if err := s.applySchema(o.extra); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := s.loadPartitions(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load partitions: %w", err)
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

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
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

// applySchema creates base tables, runs versioned migrations and registers
// partitions. This function is idempotent.
func (s *Store) applySchema(extra []string) error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := s.registerPartitions(extra, currentSchemaVersion); err != nil {
		return fmt.Errorf("register extra partitions: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema versions based on user_version.
func (s *Store) runMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	for _, sv := range schemaVersions {
		// Statements and partition registration are idempotent, so every
		// version is (re)applied; user_version only records progress.
		for _, stmt := range sv.Statements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v%d: %w", sv.Version, err)
			}
		}
		if err := s.registerPartitions(sv.Partitions, sv.Version); err != nil {
			return fmt.Errorf("migrate to v%d: %w", sv.Version, err)
		}
	}

	if version < currentSchemaVersion {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// SchemaVersion returns the persisted schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
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
