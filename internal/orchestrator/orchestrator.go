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

// Package orchestrator is the Yhm facade: it drives one poll() cycle
// across every registered account, classifies each outcome into a
// store.Event, and exposes the account-management operations (add,
// logout, delete, proxy/interval updates) that sit above the store and
// the backend registry. It owns no timer; the host drives cadence.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yhmail/yhmail/internal/backend"
	"github.com/yhmail/yhmail/internal/proton"
	"github.com/yhmail/yhmail/internal/session"
	"github.com/yhmail/yhmail/internal/store"
)

// ErrAccountAlreadyExists mirrors the source's duplicate-add rejection.
var ErrAccountAlreadyExists = errors.New("orchestrator: account already exists")

// ErrAccountNotFound is returned by operations addressing an email with
// no account row.
var ErrAccountNotFound = errors.New("orchestrator: account not found")

// Store is the narrow persistence surface Yhm needs; *store.Store
// satisfies it structurally.
type Store interface {
	Accounts(ctx context.Context) ([]store.Account, error)
	Account(ctx context.Context, email string) (*store.Account, error)
	AccountCount(ctx context.Context) (int, error)
	AddAccount(ctx context.Context, email, backendName string, secret, state, proxy []byte) error
	SetSecret(ctx context.Context, email string, secret []byte) error
	SetProxy(ctx context.Context, email string, proxy []byte) error
	DeleteAccount(ctx context.Context, email string) error
	AccountProxy(ctx context.Context, email string) ([]byte, bool, error)
	ReplacePollEvents(ctx context.Context, events map[string]store.Event, polledAt time.Time) error
	LastEvents(ctx context.Context) (map[string]store.Event, error)
	PollInterval(ctx context.Context) (time.Duration, error)
	SetPollInterval(ctx context.Context, d time.Duration) error
}

// Registry is the narrow backend-lookup surface Yhm needs;
// *backend.Registry satisfies it structurally.
type Registry interface {
	Backends() []backend.Backend
	BackendWithName(name string) (backend.Backend, bool)
}

// PollOutput is one account's outcome from a Poll() cycle.
type PollOutput struct {
	Email   string
	Backend string
	Event   store.Event
	Err     error
}

// Yhm is the top-level facade composing the store and the backend
// registry into the account lifecycle and polling operations of
// spec.md §4.2.
type Yhm struct {
	store    Store
	registry Registry
}

// New builds a Yhm over store and registry.
func New(s Store, registry Registry) *Yhm {
	return &Yhm{store: s, registry: registry}
}

// Backends returns every registered backend.
func (y *Yhm) Backends() []backend.Backend {
	return y.registry.Backends()
}

// BackendWithName looks up a backend by its Name().
func (y *Yhm) BackendWithName(name string) (backend.Backend, bool) {
	return y.registry.BackendWithName(name)
}

// AccountCount returns the number of registered accounts.
func (y *Yhm) AccountCount(ctx context.Context) (int, error) {
	return y.store.AccountCount(ctx)
}

// Add registers a new account. secret and state are the backend-specific
// blobs produced by a prior login flow (out of this package's scope);
// proxy may be nil.
func (y *Yhm) Add(ctx context.Context, email, backendName string, secret, state []byte, proxy *backend.Proxy) error {
	if _, err := y.store.Account(ctx, email); err == nil {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyExists, email)
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return err
	}
	if _, ok := y.registry.BackendWithName(backendName); !ok {
		return fmt.Errorf("%w: %s", backend.ErrUnknownBackend, backendName)
	}

	var encodedProxy []byte
	if proxy != nil {
		encoded, err := json.Marshal(proxy)
		if err != nil {
			return fmt.Errorf("encode proxy for %s: %w", email, err)
		}
		encodedProxy = encoded
	}
	return y.store.AddAccount(ctx, email, backendName, secret, state, encodedProxy)
}

// UpdateProxy replaces an account's proxy (nil clears it); it takes
// effect on the next Poll.
func (y *Yhm) UpdateProxy(ctx context.Context, email string, proxy *backend.Proxy) error {
	if proxy == nil {
		return y.store.SetProxy(ctx, email, nil)
	}
	encoded, err := json.Marshal(proxy)
	if err != nil {
		return fmt.Errorf("encode proxy for %s: %w", email, err)
	}
	return y.store.SetProxy(ctx, email, encoded)
}

// PollInterval returns the configured poll interval.
func (y *Yhm) PollInterval(ctx context.Context) (time.Duration, error) {
	return y.store.PollInterval(ctx)
}

// SetPollInterval updates the configured poll interval.
func (y *Yhm) SetPollInterval(ctx context.Context, d time.Duration) error {
	return y.store.SetPollInterval(ctx, d)
}

// LastEvents returns the most recently completed Poll's event log.
func (y *Yhm) LastEvents(ctx context.Context) (map[string]store.Event, error) {
	return y.store.LastEvents(ctx)
}

// Logout best-effort invalidates the account's session with its backend,
// then clears its secret regardless of whether the remote logout
// succeeded.
func (y *Yhm) Logout(ctx context.Context, email string) error {
	poller, backendName, err := y.buildPoller(ctx, email)
	if err != nil && !errors.Is(err, backend.ErrLoggedOut) {
		return err
	}
	if poller != nil {
		if err := poller.Logout(ctx); err != nil {
			slog.Warn("remote logout failed", "email", email, "backend", backendName, "error", err)
		}
	}
	return y.store.SetSecret(ctx, email, nil)
}

// Delete logs the account out (best-effort) and removes its row.
func (y *Yhm) Delete(ctx context.Context, email string) error {
	if _, err := y.store.Account(ctx, email); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, email)
		}
		return err
	}
	if err := y.Logout(ctx, email); err != nil {
		slog.Warn("logout before delete failed", "email", email, "error", err)
	}
	return y.store.DeleteAccount(ctx, email)
}

// Poll runs one cycle across every non-logged-out account, in
// account-table order, classifies each outcome, and atomically replaces
// the poll-event log with this cycle's results (spec.md §4.2 step 6).
func (y *Yhm) Poll(ctx context.Context) ([]PollOutput, error) {
	cycleID := uuid.NewString()
	log := slog.With("poll_cycle", cycleID)

	accounts, err := y.store.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	log.Debug("poll cycle starting", "accounts", len(accounts))

	outputs := make([]PollOutput, 0, len(accounts))
	events := make(map[string]store.Event, len(accounts))
	polledAt := time.Now()

	for _, account := range accounts {
		if account.LoggedOut {
			log.Debug("skipping logged-out account", "email", account.Email)
			continue
		}

		messages, err := y.checkAccount(ctx, account)
		event := classify(account, messages, err)
		if err != nil {
			log.Warn("poll failed for account", "email", account.Email, "backend", account.Backend, "error", err)
		} else {
			log.Debug("poll succeeded for account", "email", account.Email, "new_messages", len(messages))
		}

		if event.Kind == store.EventLoggedOut {
			if clearErr := y.store.SetSecret(ctx, account.Email, nil); clearErr != nil {
				log.Error("failed to clear secret after session expiry", "email", account.Email, "error", clearErr)
			}
		}

		events[account.Email] = event
		outputs = append(outputs, PollOutput{Email: account.Email, Backend: account.Backend, Event: event, Err: err})
	}

	if err := y.store.ReplacePollEvents(ctx, events, polledAt); err != nil {
		return nil, fmt.Errorf("replace poll events: %w", err)
	}
	log.Debug("poll cycle finished", "accounts_polled", len(outputs))

	return outputs, nil
}

func (y *Yhm) checkAccount(ctx context.Context, account store.Account) ([]proton.NewMessage, error) {
	poller, _, err := y.buildPoller(ctx, account.Email)
	if err != nil {
		return nil, err
	}
	return poller.Check(ctx)
}

// loadProxy decodes the account's (already-decrypted) proxy blob, if
// any, into a backend.Proxy.
func (y *Yhm) loadProxy(ctx context.Context, email string) (*backend.Proxy, error) {
	encoded, ok, err := y.store.AccountProxy(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load proxy for %s: %w", email, err)
	}
	if !ok {
		return nil, nil
	}
	var p backend.Proxy
	if err := json.Unmarshal(encoded, &p); err != nil {
		return nil, fmt.Errorf("decode proxy for %s: %w", email, err)
	}
	return &p, nil
}

// buildPoller resolves the backend, client, and Poller for email,
// applying its configured proxy (§4.4's cache-when-absent invariant is
// the backend's concern, not the orchestrator's).
func (y *Yhm) buildPoller(ctx context.Context, email string) (backend.Poller, string, error) {
	account, err := y.store.Account(ctx, email)
	if err != nil {
		return nil, "", err
	}
	b, ok := y.registry.BackendWithName(account.Backend)
	if !ok {
		return nil, account.Backend, fmt.Errorf("%w: %s", backend.ErrUnknownBackend, account.Backend)
	}

	proxy, err := y.loadProxy(ctx, email)
	if err != nil {
		return nil, account.Backend, err
	}

	client, err := b.CreateClient(ctx, proxy)
	if err != nil {
		return nil, account.Backend, fmt.Errorf("create client: %w", err)
	}
	poller, err := b.NewPoller(ctx, client, email)
	if err != nil {
		return nil, account.Backend, err
	}
	return poller, account.Backend, nil
}

// classify maps a Check outcome to the §7 error taxonomy.
func classify(account store.Account, messages []proton.NewMessage, err error) store.Event {
	base := store.Event{Email: account.Email, Backend: account.Backend}
	if err == nil {
		base.Kind = store.EventNewEmail
		base.Messages = messages
		return base
	}

	var connErr *session.ConnectionError
	var httpErr *session.HTTPError
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		base.Kind = store.EventLoggedOut
	case errors.As(err, &connErr):
		base.Kind = store.EventOffline
	case errors.As(err, &httpErr):
		base.Kind = store.EventError
		base.Message = httpErr.Error()
	case errors.Is(err, backend.ErrUnknownBackend):
		base.Kind = store.EventError
		base.Message = err.Error()
	default:
		base.Kind = store.EventError
		base.Message = err.Error()
	}
	return base
}
