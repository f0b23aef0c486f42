// Package store is the embedded relational store: schema, migrations, and
// the query functions the rest of the engine issues reads and writes
// through (C2). Backed by the pure-Go SQLite driver
// github.com/ncruces/go-sqlite3, which self-registers under the driver
// name "sqlite3" the same way the teacher's storage layer expects.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DBFileName is the name of the relational store file under the data
// directory (§4.1).
const DBFileName = "coordination.db"

// Store owns the database handle shared by every component. Queries are
// issued directly against that handle (or a transaction on it); the Store
// does not prepare or cache statements.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the coordination database at
// <dataDir>/coordination.db, applies pragmas, and runs schema migrations.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, DBFileName)

	// Pre-create with the mandated 0600 mode (§6.3); the driver otherwise
	// creates the file with the process umask.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if ferr != nil {
			return nil, fmt.Errorf("create store file: %w", ferr)
		}
		_ = f.Close()
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, fmt.Errorf("chmod store file: %w", err)
	}

	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// A single writer serializes better than SQLite's own lock contention
	// handling once WAL is in play alongside the directory lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	if err := migrateSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	if err := seedReservedParticipants(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed reserved participants: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for components that need ad hoc
// queries (index, compaction) beyond the query functions of this package.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Sidecar moves into the archive are
// performed after WithTx returns successfully, never inside fn (§9 design
// note); new sidecar files are written before the row that references
// them is inserted, either before WithTx or inside fn.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}
