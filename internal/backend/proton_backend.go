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

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/yhmail/yhmail/internal/proton"
	"github.com/yhmail/yhmail/internal/session"
)

// AccountStore is the narrow slice of internal/store.Store the Proton
// backend needs: reading/writing one account's secret and state.
// *store.Store satisfies this structurally.
type AccountStore interface {
	AccountSecret(ctx context.Context, email string) ([]byte, bool, error)
	AccountState(ctx context.Context, email string) ([]byte, error)
	SetSecret(ctx context.Context, email string, secret []byte) error
	SetState(ctx context.Context, email string, state []byte) error
}

// ProtonConfig configures the Proton Mail backend's HTTP clients.
type ProtonConfig struct {
	BaseURL        string
	AppVersion     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	InsecureHTTP   bool
}

// ProtonBackend is the Backend implementation for Proton Mail accounts.
// Per spec.md §4.4's proxy invariant, a client built without a proxy is
// cached and shared process-wide; a client built with a proxy is fresh
// and per-account.
type ProtonBackend struct {
	store  AccountStore
	config ProtonConfig

	mu            sync.Mutex
	defaultClient *http.Client
}

// NewProtonBackend constructs the Proton Mail backend.
func NewProtonBackend(store AccountStore, config ProtonConfig) *ProtonBackend {
	return &ProtonBackend{store: store, config: config}
}

func (b *ProtonBackend) Name() string { return "Proton Mail" }

// CreateClient builds (or reuses) an *http.Client. See the proxy
// invariant above; the default no-proxy client cache is a latency
// optimization, not a correctness requirement (spec.md §9).
func (b *ProtonBackend) CreateClient(ctx context.Context, proxy *Proxy) (*http.Client, error) {
	if proxy == nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.defaultClient != nil {
			return b.defaultClient, nil
		}
		client, err := b.buildClient(nil)
		if err != nil {
			return nil, err
		}
		b.defaultClient = client
		return client, nil
	}
	return b.buildClient(proxy)
}

func (b *ProtonBackend) buildClient(proxy *Proxy) (*http.Client, error) {
	opts := session.ClientOptions{
		ConnectTimeout: b.config.ConnectTimeout,
		RequestTimeout: b.config.RequestTimeout,
		UserAgent:      b.config.AppVersion,
		InsecureHTTP:   b.config.InsecureHTTP,
	}
	if proxy != nil {
		opts.Proxy = &session.Proxy{
			Protocol: session.ProxyProtocol(proxy.Protocol),
			Host:     proxy.Host,
			Port:     proxy.Port,
			Username: proxy.Username,
			Password: proxy.Password,
		}
	}
	return session.NewHTTPClient(opts)
}

// NewPoller loads the account's secret and state and wires an
// authenticated session backed directly by the store's encrypted
// columns — no decrypted value is held beyond the call that needs it.
func (b *ProtonBackend) NewPoller(ctx context.Context, client *http.Client, email string) (Poller, error) {
	secret, ok, err := b.store.AccountSecret(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load secret for %s: %w", email, err)
	}
	if !ok {
		return nil, ErrLoggedOut
	}

	stateBytes, err := b.store.AccountState(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", email, err)
	}
	var taskState proton.TaskState
	if len(stateBytes) > 0 {
		if err := json.Unmarshal(stateBytes, &taskState); err != nil {
			return nil, fmt.Errorf("decode state for %s: %w", email, err)
		}
	}

	authStore := &accountAuthStore{store: b.store, email: email}
	sessionClient := session.NewClient(client, b.config.BaseURL, b.config.AppVersion, authStore)
	protonClient := session.NewProtonClient(sessionClient)

	poller := proton.NewPoller(protonClient, taskState)
	poller.SetStateSink(func(ctx context.Context, state proton.TaskState) error {
		encoded, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode state for %s: %w", email, err)
		}
		return b.store.SetState(ctx, email, encoded)
	})
	return poller, nil
}

// accountAuthStore adapts AccountStore, scoped to one email, to
// session.AuthStore. Every call re-reads/re-writes the store directly;
// nothing is cached between calls.
type accountAuthStore struct {
	store AccountStore
	email string
}

func (a *accountAuthStore) Get(ctx context.Context) (session.AuthRecord, error) {
	secret, ok, err := a.store.AccountSecret(ctx, a.email)
	if err != nil {
		return session.AuthRecord{}, fmt.Errorf("read secret for %s: %w", a.email, err)
	}
	if !ok {
		return session.AuthRecord{}, ErrLoggedOut
	}
	var auth session.AuthRecord
	if err := json.Unmarshal(secret, &auth); err != nil {
		return session.AuthRecord{}, fmt.Errorf("decode auth record for %s: %w", a.email, err)
	}
	return auth, nil
}

func (a *accountAuthStore) Store(ctx context.Context, auth session.AuthRecord) error {
	encoded, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("encode auth record for %s: %w", a.email, err)
	}
	return a.store.SetSecret(ctx, a.email, encoded)
}

func (a *accountAuthStore) Delete(ctx context.Context) error {
	return a.store.SetSecret(ctx, a.email, nil)
}
