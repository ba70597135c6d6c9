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
	"encoding/json"
	"fmt"
	"time"

	"github.com/yhmail/yhmail/internal/proton"
)

// EventKind tags the outcome of one poll() call for one account.
type EventKind string

const (
	EventNewEmail  EventKind = "new_email"
	EventLoggedOut EventKind = "logged_out"
	EventOffline   EventKind = "offline"
	EventError     EventKind = "error"
)

// Event is one poll-event-log row: the tagged union of spec.md §3.
type Event struct {
	Kind     EventKind            `json:"kind"`
	Email    string               `json:"email"`
	Backend  string               `json:"backend,omitempty"`
	Messages []proton.NewMessage  `json:"messages,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// ReplacePollEvents truncates and rewrites the poll-event log in a
// single transaction (spec.md §4.2 step 6): all prior rows are deleted,
// the new events are inserted, and last_poll is updated for exactly the
// accounts present in events. The log holds only the most recent
// poll()'s outcomes.
func (s *Store) ReplacePollEvents(ctx context.Context, events map[string]Event, polledAt time.Time) error {
	return s.withTransaction(ctx, []string{"poll_events", "accounts"}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM poll_events`); err != nil {
			return fmt.Errorf("truncate poll_events: %w", err)
		}

		stamp := polledAt.UTC().Unix()
		for email, ev := range events {
			encoded, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode event for %s: %w", email, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO poll_events (email, event) VALUES (?, ?)
			`, email, string(encoded)); err != nil {
				return fmt.Errorf("insert event for %s: %w", email, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE accounts SET last_poll = ? WHERE email = ?
			`, stamp, email); err != nil {
				return fmt.Errorf("update last_poll for %s: %w", email, err)
			}
		}
		return nil
	})
}

// LastEvents returns the most recent poll's event log, keyed by email.
func (s *Store) LastEvents(ctx context.Context) (map[string]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, event FROM poll_events`)
	if err != nil {
		return nil, fmt.Errorf("query poll_events: %w", err)
	}
	defer rows.Close()

	out := map[string]Event{}
	for rows.Next() {
		var email, encoded string
		if err := rows.Scan(&email, &encoded); err != nil {
			return nil, fmt.Errorf("scan poll_event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(encoded), &ev); err != nil {
			return nil, fmt.Errorf("decode poll_event for %s: %w", email, err)
		}
		out[email] = ev
	}
	return out, rows.Err()
}
