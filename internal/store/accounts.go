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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yhmail/yhmail/internal/crypto"
)

// ErrAccountNotFound is returned by accessors when the email has no row.
var ErrAccountNotFound = errors.New("store: account not found")

// AddAccount inserts a brand-new account row. secret and state are
// required (a freshly logged-in account is never logged out); proxy may
// be nil.
func (s *Store) AddAccount(ctx context.Context, email, backend string, secret, state, proxy []byte) error {
	encSecret, err := crypto.Encrypt(s.key, secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	var encProxy []byte
	if len(proxy) > 0 {
		encProxy, err = crypto.Encrypt(s.key, proxy)
		if err != nil {
			return fmt.Errorf("encrypt proxy: %w", err)
		}
	}

	return s.withTransaction(ctx, []string{"accounts"}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (email, backend, secret, state, proxy, last_poll)
			VALUES (?, ?, ?, ?, ?, NULL)
		`, email, backend, encSecret, state, encProxy)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
}

// Account loads one account's metadata. It does not decrypt secret or
// proxy; use AccountSecret/AccountProxy/AccountState for that.
func (s *Store) Account(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT email, backend, secret, last_poll FROM accounts WHERE email = ?
	`, email)
	return scanAccount(row)
}

// Accounts lists all accounts in email order, per spec.md §4.2's
// "account-table order (sorted by email)".
func (s *Store) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, backend, secret, last_poll FROM accounts ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var email, backend string
		var secret []byte
		var lastPoll sql.NullInt64
		if err := rows.Scan(&email, &backend, &secret, &lastPoll); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, accountFromRow(email, backend, secret, lastPoll))
	}
	return out, rows.Err()
}

// AccountCount returns the number of registered accounts.
func (s *Store) AccountCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// AccountSecret returns the decrypted secret, or ok=false if the account
// is logged out (secret IS NULL).
func (s *Store) AccountSecret(ctx context.Context, email string) (secret []byte, ok bool, err error) {
	var enc []byte
	row := s.db.QueryRowContext(ctx, `SELECT secret FROM accounts WHERE email = ?`, email)
	if scanErr := row.Scan(&enc); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, false, ErrAccountNotFound
		}
		return nil, false, fmt.Errorf("read secret: %w", scanErr)
	}
	if enc == nil {
		return nil, false, nil
	}
	plaintext, decErr := crypto.Decrypt(s.key, enc)
	if decErr != nil {
		return nil, false, fmt.Errorf("decrypt secret: %w", decErr)
	}
	return plaintext, true, nil
}

// AccountState returns the plaintext per-backend poll state blob.
func (s *Store) AccountState(ctx context.Context, email string) ([]byte, error) {
	var state []byte
	row := s.db.QueryRowContext(ctx, `SELECT state FROM accounts WHERE email = ?`, email)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return state, nil
}

// AccountProxy returns the decrypted proxy blob, or ok=false if none is set.
func (s *Store) AccountProxy(ctx context.Context, email string) (proxy []byte, ok bool, err error) {
	var enc []byte
	row := s.db.QueryRowContext(ctx, `SELECT proxy FROM accounts WHERE email = ?`, email)
	if scanErr := row.Scan(&enc); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, false, ErrAccountNotFound
		}
		return nil, false, fmt.Errorf("read proxy: %w", scanErr)
	}
	if enc == nil {
		return nil, false, nil
	}
	plaintext, decErr := crypto.Decrypt(s.key, enc)
	if decErr != nil {
		return nil, false, fmt.Errorf("decrypt proxy: %w", decErr)
	}
	return plaintext, true, nil
}

// SetSecret replaces the account's secret. A nil secret logs the account
// out (invariant: secret IS NULL ⇔ logged out).
func (s *Store) SetSecret(ctx context.Context, email string, secret []byte) error {
	var enc []byte
	if secret != nil {
		var err error
		enc, err = crypto.Encrypt(s.key, secret)
		if err != nil {
			return fmt.Errorf("encrypt secret: %w", err)
		}
	}
	return s.withTransaction(ctx, []string{"accounts"}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET secret = ? WHERE email = ?`, enc, email)
		if err != nil {
			return fmt.Errorf("update secret: %w", err)
		}
		return checkRowAffected(res)
	})
}

// SetState replaces the account's plaintext per-backend poll state.
func (s *Store) SetState(ctx context.Context, email string, state []byte) error {
	return s.withTransaction(ctx, []string{"accounts"}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET state = ? WHERE email = ?`, state, email)
		if err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		return checkRowAffected(res)
	})
}

// SetProxy replaces the (encrypted) proxy column; nil clears it.
func (s *Store) SetProxy(ctx context.Context, email string, proxy []byte) error {
	var enc []byte
	if proxy != nil {
		var err error
		enc, err = crypto.Encrypt(s.key, proxy)
		if err != nil {
			return fmt.Errorf("encrypt proxy: %w", err)
		}
	}
	return s.withTransaction(ctx, []string{"accounts"}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET proxy = ? WHERE email = ?`, enc, email)
		if err != nil {
			return fmt.Errorf("update proxy: %w", err)
		}
		return checkRowAffected(res)
	})
}

// DeleteAccount removes the account row; poll_events rows cascade.
func (s *Store) DeleteAccount(ctx context.Context, email string) error {
	return s.withTransaction(ctx, []string{"accounts", "poll_events"}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return checkRowAffected(res)
	})
}

func checkRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var email, backend string
	var secret []byte
	var lastPoll sql.NullInt64
	if err := row.Scan(&email, &backend, &secret, &lastPoll); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a := accountFromRow(email, backend, secret, lastPoll)
	return &a, nil
}

func accountFromRow(email, backend string, secret []byte, lastPoll sql.NullInt64) Account {
	a := Account{Email: email, Backend: backend, LoggedOut: secret == nil}
	if lastPoll.Valid {
		t := time.Unix(lastPoll.Int64, 0).UTC()
		a.LastPoll = &t
	}
	return a
}
