// Package state persists the node's configuration entities: nodes, spaces
// and vaults. Each entity supports CRUD plus a single default-entity lookup.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound means the named entity, or a default for its kind, does not
// exist.
var ErrNotFound = errors.New("entity not found")

// Store is a SQLite-backed configuration store. All methods are safe for
// concurrent use; SQLite serializes writers internally.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the configuration database at path and applies
// the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	// WAL keeps readers unblocked during writes; the busy timeout covers
	// short writer contention instead of surfacing SQLITE_BUSY.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("state database ready", zap.String("path", path))
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		name                 TEXT PRIMARY KEY,
		identifier           TEXT NOT NULL,
		tcp_listener_address TEXT NOT NULL DEFAULT '',
		pid                  INTEGER NOT NULL DEFAULT 0,
		is_default           INTEGER NOT NULL DEFAULT 0,
		is_authority         INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS spaces (
		id         TEXT PRIMARY KEY,
		name       TEXT UNIQUE NOT NULL,
		users      TEXT NOT NULL DEFAULT '[]',
		is_default INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS vaults (
		name       TEXT PRIMARY KEY,
		path       TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_identifier ON nodes(identifier);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// setDefault flips the default flag to exactly one row of a table, inside a
// transaction so no interleaving leaves zero or two defaults.
func (s *Store) setDefault(ctx context.Context, table, keyColumn, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE "+table+" SET is_default = 0"); err != nil {
		return fmt.Errorf("clear default in %s: %w", table, err)
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE "+table+" SET is_default = 1 WHERE "+keyColumn+" = ?", key)
	if err != nil {
		return fmt.Errorf("set default in %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", table, key, ErrNotFound)
	}
	return tx.Commit()
}
