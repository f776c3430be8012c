package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

//go:embed schema.sql
var schemaSQL string

// pragmas run on every open, in order. synchronous=FULL makes a committed
// append survive power loss; busy_timeout covers a status reader racing the
// drain.
var pragmas = []string{
	"journal_mode = WAL",
	"synchronous = FULL",
	"busy_timeout = 5000",
	"foreign_keys = ON",
}

// migrations[i] upgrades user_version i to i+1. schema.sql always creates the
// latest tables, so migrations only add what older files lack.
var migrations = []func(*sql.DB) error{
	// v1: index for status queries by state
	func(db *sql.DB) error {
		_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_sync_state ON records(sync_state)`)
		return err
	},
}

// Store is the durable local queue.
//
// Thread-safety: all methods are safe for concurrent use. The pool holds a
// single connection, so statements are serialized.
type Store struct {
	db *sql.DB
}

// Open creates or opens the queue database at path (":memory:" for a private
// in-memory queue), then applies pragmas, the schema and pending migrations.
//
// The parent directory must exist. Opening an existing queue leaves its
// records untouched.
func Open(path string) (*Store, error) {
	const op = "store.open"

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, syncerr.Storage(op, err)
	}
	// One writer at a time; an in-memory database also lives on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initialize(db); err != nil {
		db.Close()
		return nil, syncerr.Storage(op, err)
	}
	return &Store{db: db}, nil
}

func initialize(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec("PRAGMA " + p); err != nil {
			return fmt.Errorf("pragma %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return migrate(db)
}

// migrate runs the migrations newer than the file's user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		if err := migrations[v](db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}

	if version < len(migrations) {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
			return fmt.Errorf("write user_version: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// verifyPragma reports whether pragma name currently reads as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, want %q", name, value, expected)
	}
	return nil
}

// inTx runs fn in a transaction and commits it. Any error is reported as
// STORAGE_UNAVAILABLE unless fn already classified it.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.Storage(op, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback() // no-op after Commit

	if err := fn(tx); err != nil {
		if syncerr.CodeOf(err) != "" {
			return err
		}
		return syncerr.Storage(op, err)
	}

	if err := tx.Commit(); err != nil {
		return syncerr.Storage(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
