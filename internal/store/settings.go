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
	"fmt"
	"time"
)

// PollInterval returns the configured poll interval from the singleton
// settings row (default 300s, set by ensureSchema).
func (s *Store) PollInterval(ctx context.Context) (time.Duration, error) {
	var seconds int
	err := s.db.QueryRowContext(ctx, `SELECT poll_interval FROM settings WHERE id = 1`).Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("read poll interval: %w", err)
	}
	return time.Duration(seconds) * time.Second, nil
}

// SetPollInterval updates the singleton settings row.
func (s *Store) SetPollInterval(ctx context.Context, d time.Duration) error {
	return s.withTransaction(ctx, []string{"settings"}, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE settings SET poll_interval = ? WHERE id = 1`, int(d.Seconds()))
		if err != nil {
			return fmt.Errorf("update poll interval: %w", err)
		}
		return nil
	})
}
