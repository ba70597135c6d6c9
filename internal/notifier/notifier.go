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

// Package notifier relays the store's post-commit table-changed signal
// to a second process over Redis pub/sub, complementing the in-process
// watcher registry that internal/store already provides directly. A
// single process (the CLI, a single mobile app) never needs this; it
// exists for host setups where a UI process and a polling daemon share
// one database file.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// channel is the pub/sub channel carrying change notifications.
	channel = "yhmail:changes"

	// coalesceTTL collapses repeat notifications of the identical table
	// set within this window into one publish, since two commits to the
	// same tables in quick succession (e.g. a poll cycle's successive
	// per-account state writes, each touching only "accounts") don't need
	// a second wire message for a watcher that will just re-query anyway.
	coalesceTTL = 250 * time.Millisecond

	keyPrefix = "yhmail:notifier:seen:"
)

// Noop is a Notifier that does nothing; the default when no Redis URL is
// configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, changedTables []string) {}

// Redis relays changed-table sets to other processes via a Redis pub/sub
// channel, coalescing bursts with the same SETNX+TTL shape the activity
// feed poller used for event dedup.
type Redis struct {
	rdb *redis.Client
}

// NewRedis builds a Redis-backed Notifier.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Publish coalesces and relays a changed-table set. Errors are logged,
// not returned: a failed notification never blocks the commit that
// already succeeded, and a host relying on this as its only source of
// truth can still poll directly.
func (r *Redis) Publish(ctx context.Context, changedTables []string) {
	encoded := encodeTables(changedTables)

	key := keyPrefix + encoded
	isNew, err := r.rdb.SetNX(ctx, key, 1, coalesceTTL).Result()
	if err != nil {
		slog.Warn("notifier: coalesce check failed, publishing anyway", "error", err)
	} else if !isNew {
		return
	}

	if err := r.rdb.Publish(ctx, channel, encoded).Err(); err != nil {
		slog.Warn("notifier: publish failed", "tables", changedTables, "error", err)
	}
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

// Listen subscribes to the change channel and invokes onChange with the
// decoded table set for every message received, until ctx is cancelled.
func (r *Redis) Listen(ctx context.Context, onChange func(changedTables []string)) error {
	sub := r.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("notifier: subscription channel closed")
			}
			onChange(decodeTables(msg.Payload))
		}
	}
}

func encodeTables(tables []string) string {
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func decodeTables(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, ",")
}
