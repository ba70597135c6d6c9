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
	"path/filepath"
	"testing"
	"time"

	"github.com/yhmail/yhmail/internal/crypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	key, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAccountAndSecretRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddAccount(ctx, "alice@proton.me", "Proton Mail", []byte("secret-bytes"), []byte(`{}`), nil); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	secret, ok, err := s.AccountSecret(ctx, "alice@proton.me")
	if err != nil {
		t.Fatalf("AccountSecret: %v", err)
	}
	if !ok {
		t.Fatal("expected account to be logged in")
	}
	if string(secret) != "secret-bytes" {
		t.Fatalf("got %q, want secret-bytes", secret)
	}
}

func TestLogoutSetsSecretNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.AddAccount(ctx, "bob@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil)

	if err := s.SetSecret(ctx, "bob@proton.me", nil); err != nil {
		t.Fatalf("SetSecret(nil): %v", err)
	}

	_, ok, err := s.AccountSecret(ctx, "bob@proton.me")
	if err != nil {
		t.Fatalf("AccountSecret: %v", err)
	}
	if ok {
		t.Fatal("expected account to be logged out")
	}

	acc, err := s.Account(ctx, "bob@proton.me")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !acc.LoggedOut {
		t.Fatal("Account.LoggedOut should be true")
	}
}

func TestDeleteAccountCascadesPollEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.AddAccount(ctx, "carol@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil)

	events := map[string]Event{"carol@proton.me": {Kind: EventNewEmail, Email: "carol@proton.me"}}
	if err := s.ReplacePollEvents(ctx, events, time.Now()); err != nil {
		t.Fatalf("ReplacePollEvents: %v", err)
	}

	if err := s.DeleteAccount(ctx, "carol@proton.me"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	last, err := s.LastEvents(ctx)
	if err != nil {
		t.Fatalf("LastEvents: %v", err)
	}
	if _, ok := last["carol@proton.me"]; ok {
		t.Fatal("expected poll_events row to cascade-delete with the account")
	}
}

func TestReplacePollEventsTruncatesPriorRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.AddAccount(ctx, "dave@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil)
	_ = s.AddAccount(ctx, "erin@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil)

	first := map[string]Event{
		"dave@proton.me": {Kind: EventNewEmail, Email: "dave@proton.me"},
		"erin@proton.me": {Kind: EventOffline, Email: "erin@proton.me"},
	}
	if err := s.ReplacePollEvents(ctx, first, time.Now()); err != nil {
		t.Fatalf("ReplacePollEvents: %v", err)
	}

	second := map[string]Event{
		"dave@proton.me": {Kind: EventNewEmail, Email: "dave@proton.me"},
	}
	if err := s.ReplacePollEvents(ctx, second, time.Now()); err != nil {
		t.Fatalf("ReplacePollEvents: %v", err)
	}

	last, err := s.LastEvents(ctx)
	if err != nil {
		t.Fatalf("LastEvents: %v", err)
	}
	if len(last) != 1 {
		t.Fatalf("expected exactly one row after truncate+rewrite, got %d", len(last))
	}
	if _, ok := last["erin@proton.me"]; ok {
		t.Fatal("erin's stale event should have been truncated")
	}
}

func TestWatcherFiresOnlyForRegisteredTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var accountsNotified, settingsNotified bool
	s.RegisterWatcher([]string{"accounts"}, func(changed []string) { accountsNotified = true })
	s.RegisterWatcher([]string{"settings"}, func(changed []string) { settingsNotified = true })

	if err := s.AddAccount(ctx, "frank@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	if !accountsNotified {
		t.Fatal("expected accounts watcher to fire")
	}
	if settingsNotified {
		t.Fatal("settings watcher should not fire for an accounts-only change")
	}
}

func TestPollIntervalDefaultAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	interval, err := s.PollInterval(ctx)
	if err != nil {
		t.Fatalf("PollInterval: %v", err)
	}
	if interval != 300*time.Second {
		t.Fatalf("default poll interval = %v, want 300s", interval)
	}

	if err := s.SetPollInterval(ctx, 60*time.Second); err != nil {
		t.Fatalf("SetPollInterval: %v", err)
	}
	interval, err = s.PollInterval(ctx)
	if err != nil {
		t.Fatalf("PollInterval: %v", err)
	}
	if interval != 60*time.Second {
		t.Fatalf("poll interval = %v, want 60s", interval)
	}
}

func TestAccountsSortedByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.AddAccount(ctx, "zoe@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil)
	_ = s.AddAccount(ctx, "anna@proton.me", "Proton Mail", []byte("s"), []byte(`{}`), nil)

	accounts, err := s.Accounts(ctx)
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0].Email != "anna@proton.me" || accounts[1].Email != "zoe@proton.me" {
		t.Fatalf("accounts not sorted by email: %+v", accounts)
	}
}
