/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store is Substrate's Decision Store: the single durable,
// content-addressed-by-id, append-mostly store of pipeline runs, decisions,
// requirements, constraints, artifacts, and token usage (spec §4.1). It is
// backed by SQLite — a single-writer embedded relational database, per the
// spec's explicit requirement — accessed through sqlx, with schema managed
// by embedded goose migrations.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/johnplanow/substrate/internal/store/migrations"
)

// Store is the Decision Store. SQLite only supports one writer at a time;
// writeMu serializes writes at the Go level so concurrent goroutines queue
// instead of thrashing on SQLITE_BUSY. Reads use the same *sqlx.DB — its
// connection pool is left unbounded for reads since SQLite's WAL mode (set
// in Open) allows concurrent readers alongside the single writer.
type Store struct {
	db      *sqlx.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// OpenWithDB wraps an already-open *sqlx.DB, skipping migrations. Tests use
// this with DATA-DOG/go-sqlmock or an in-memory sqlite3 handle that has
// already had migrations applied.
func OpenWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWrite serializes fn against every other write on this Store.
func (s *Store) withWrite(fn func(*sqlx.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// isNoRows reports whether err is sql.ErrNoRows, the sentinel every
// getXByY lookup in this package uses for "not found".
func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
