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
	"errors"
	"testing"
)

type memAccountStore struct {
	secrets map[string][]byte
	states  map[string][]byte
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{secrets: map[string][]byte{}, states: map[string][]byte{}}
}

func (m *memAccountStore) AccountSecret(ctx context.Context, email string) ([]byte, bool, error) {
	s, ok := m.secrets[email]
	if !ok || s == nil {
		return nil, false, nil
	}
	return s, true, nil
}

func (m *memAccountStore) AccountState(ctx context.Context, email string) ([]byte, error) {
	return m.states[email], nil
}

func (m *memAccountStore) SetSecret(ctx context.Context, email string, secret []byte) error {
	m.secrets[email] = secret
	return nil
}

func (m *memAccountStore) SetState(ctx context.Context, email string, state []byte) error {
	m.states[email] = state
	return nil
}

func TestRegistryBackendWithName(t *testing.T) {
	proton := NewProtonBackend(newMemAccountStore(), ProtonConfig{BaseURL: "https://example.invalid"})
	null := NewNullBackend()
	registry := NewRegistry(proton, null)

	if got, ok := registry.BackendWithName("Proton Mail"); !ok || got != proton {
		t.Fatalf("expected to find the Proton backend by name")
	}
	if _, ok := registry.BackendWithName("nonexistent"); ok {
		t.Fatal("expected lookup of an unregistered name to fail")
	}
}

func TestProtonBackendNewPollerLoggedOut(t *testing.T) {
	store := newMemAccountStore()
	b := NewProtonBackend(store, ProtonConfig{BaseURL: "https://example.invalid"})

	_, err := b.NewPoller(context.Background(), nil, "ghost@proton.me")
	if !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut, got %v", err)
	}
}

func TestProtonBackendNewPollerWiresPoller(t *testing.T) {
	store := newMemAccountStore()
	store.secrets["alice@proton.me"] = []byte(`{"uid":"u1","auth_token":"a","refresh_token":"r"}`)
	b := NewProtonBackend(store, ProtonConfig{BaseURL: "https://example.invalid", AppVersion: "yhm/1"})

	client, err := b.CreateClient(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	poller, err := b.NewPoller(context.Background(), client, "alice@proton.me")
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	if poller.State().ActiveFolderIDs == nil {
		t.Fatal("expected a fresh TaskState with a non-nil folder set")
	}
}

func TestProtonBackendCachesDefaultClientOnly(t *testing.T) {
	store := newMemAccountStore()
	b := NewProtonBackend(store, ProtonConfig{BaseURL: "https://example.invalid"})

	c1, err := b.CreateClient(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	c2, err := b.CreateClient(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the no-proxy client to be cached and reused")
	}

	proxied, err := b.CreateClient(context.Background(), &Proxy{Protocol: "http", Host: "proxy.invalid", Port: 8080})
	if err != nil {
		t.Fatalf("CreateClient with proxy: %v", err)
	}
	if proxied == c1 {
		t.Fatal("expected a proxied client to be distinct from the cached default")
	}
}

func TestAccountAuthStoreRoundTrip(t *testing.T) {
	store := newMemAccountStore()
	store.secrets["bob@proton.me"] = []byte(`{"uid":"u1","auth_token":"a","refresh_token":"r"}`)
	auth := &accountAuthStore{store: store, email: "bob@proton.me"}

	record, err := auth.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.UID != "u1" {
		t.Fatalf("UID = %q, want u1", record.UID)
	}

	record.AccessToken = "new-access"
	if err := auth.Store(context.Background(), record); err != nil {
		t.Fatalf("Store: %v", err)
	}

	reread, err := auth.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after Store: %v", err)
	}
	if reread.AccessToken != "new-access" {
		t.Fatalf("AccessToken = %q, want new-access", reread.AccessToken)
	}

	if err := auth.Delete(context.Background()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.AccountSecret(context.Background(), "bob@proton.me"); ok {
		t.Fatal("expected Delete to clear the secret")
	}
}
