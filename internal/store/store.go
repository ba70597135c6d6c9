// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the encrypted, SQLite-backed persistence layer: the
// accounts table (secret/proxy encrypted at rest), the singleton
// settings row, and the poll-event log, plus a change-notification hook
// other components watch.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yhmail/yhmail/internal/crypto"
)

// Account is one row of the accounts table, with secret/state/proxy
// decrypted lazily by the dedicated accessor methods rather than carried
// on this struct — no component caches a decrypted value longer than the
// call that needs it.
type Account struct {
	Email      string
	Backend    string
	LastPoll   *time.Time
	LoggedOut  bool // secret IS NULL
}

// Store is the encrypted state store. Many readers, one writer: all
// mutating operations acquire writerLock for the duration of a single
// transaction and never hold it across network I/O.
type Store struct {
	db  *sql.DB
	key crypto.Key

	writerLock sync.Mutex

	watchersMu sync.Mutex
	watchers   []registeredWatcher

	notifier Notifier
}

// Notifier relays committed table changes to a second process (e.g. a
// Redis pub/sub channel), complementing the in-process watcher registry.
type Notifier interface {
	Publish(ctx context.Context, changedTables []string)
}

type registeredWatcher struct {
	tables map[string]bool
	fn     func(changedTables []string)
}

// Open opens (or creates) the SQLite database at path, idempotently
// creating its schema, and returns a Store keyed by key for
// secret/proxy encryption. The key is never itself persisted; the
// caller is responsible for keeping it (e.g. in an OS keyring).
func Open(ctx context.Context, path string, key crypto.Key) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Writes are serialized by the Go-level writerLock (see
	// withTransaction), so at most one connection of this pool writes at a
	// time; readers share the same pool, which WAL mode allows to proceed
	// concurrently with the writer.
	db.SetMaxOpenConns(4)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, key: key}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("state store initialised", "path", path)
	return s, nil
}

// SetNotifier attaches (or detaches, with nil) a secondary change
// notifier, e.g. a Redis-backed relay.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			email     TEXT PRIMARY KEY,
			backend   TEXT NOT NULL,
			secret    BLOB,
			state     BLOB,
			proxy     BLOB,
			last_poll INTEGER
		);
		CREATE TABLE IF NOT EXISTS settings (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			poll_interval INTEGER NOT NULL DEFAULT 300
		);
		CREATE TABLE IF NOT EXISTS poll_events (
			email TEXT UNIQUE NOT NULL,
			event TEXT NOT NULL,
			FOREIGN KEY (email) REFERENCES accounts(email) ON DELETE CASCADE
		);
		INSERT OR IGNORE INTO settings (id, poll_interval) VALUES (1, 300);
	`)
	return err
}

// withTransaction runs fn inside a single transaction guarded by
// writerLock, and — only after a successful commit — publishes
// changedTables to registered watchers and the optional Notifier.
// writerLock is never held across network I/O: fn must confine itself
// to database calls on tx.
func (s *Store) withTransaction(ctx context.Context, changedTables []string, fn func(tx *sql.Tx) error) error {
	err := func() error {
		s.writerLock.Lock()
		defer s.writerLock.Unlock()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}()
	if err != nil {
		return err
	}

	// Published after writerLock is released: the Notifier may do network
	// I/O (e.g. Redis).
	s.publish(ctx, changedTables)
	return nil
}

// RegisterWatcher subscribes fn to commits touching any of tables. fn is
// invoked synchronously, after commit, with the subset of tables that
// changed; it must do bounded work and must not issue nested DB calls on
// the same Store. It returns an unsubscribe function.
func (s *Store) RegisterWatcher(tables []string, fn func(changedTables []string)) func() {
	set := make(map[string]bool, len(tables))
	for _, t := range tables {
		set[t] = true
	}
	w := registeredWatcher{tables: set, fn: fn}

	s.watchersMu.Lock()
	s.watchers = append(s.watchers, w)
	idx := len(s.watchers) - 1
	s.watchersMu.Unlock()

	return func() {
		s.watchersMu.Lock()
		defer s.watchersMu.Unlock()
		if idx < len(s.watchers) {
			s.watchers = append(s.watchers[:idx], s.watchers[idx+1:]...)
		}
	}
}

func (s *Store) publish(ctx context.Context, changedTables []string) {
	s.watchersMu.Lock()
	watchers := append([]registeredWatcher(nil), s.watchers...)
	s.watchersMu.Unlock()

	for _, w := range watchers {
		var relevant []string
		for _, t := range changedTables {
			if w.tables[t] {
				relevant = append(relevant, t)
			}
		}
		if len(relevant) > 0 {
			w.fn(relevant)
		}
	}

	if s.notifier != nil {
		s.notifier.Publish(ctx, changedTables)
	}
}
