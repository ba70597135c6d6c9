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

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type memAuthStore struct {
	mu   sync.Mutex
	auth AuthRecord
	ok   bool
}

func (m *memAuthStore) Get(ctx context.Context) (AuthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return AuthRecord{}, ErrSessionExpired
	}
	return m.auth, nil
}

func (m *memAuthStore) Store(ctx context.Context, auth AuthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = auth
	m.ok = true
	return nil
}

func (m *memAuthStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ok = false
	m.auth = AuthRecord{}
	return nil
}

// TestRefreshOnceOnExpiredSession exercises S5: a 401 triggers exactly
// one refresh, after which uid is unchanged and both tokens differ.
func TestRefreshOnceOnExpiredSession(t *testing.T) {
	var refreshCalls int
	var firstAttempt = true

	mux := http.NewServeMux()
	mux.HandleFunc("/core/v4/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer new-token" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		if firstAttempt {
			firstAttempt = false
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/auth/v4/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["uid"] != "uid-1" {
			t.Errorf("refresh request carried unexpected uid %q", body["uid"])
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"AccessToken":  "new-token",
			"RefreshToken": "new-refresh",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memAuthStore{ok: true, auth: AuthRecord{UID: "uid-1", AccessToken: "old-token", RefreshToken: "old-refresh"}}
	client := NewClient(srv.Client(), srv.URL+"/", "test@1.0.0", store)

	var out map[string]bool
	if err := client.Get(context.Background(), "core/v4/users", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refreshCalls)
	}
	final, _ := store.Get(context.Background())
	if final.UID != "uid-1" {
		t.Fatalf("uid changed across refresh: got %q", final.UID)
	}
	if final.AccessToken == "old-token" || final.RefreshToken == "old-refresh" {
		t.Fatal("tokens did not rotate")
	}
}

// TestRefreshFailureClearsAuth exercises S6: refresh failing surfaces
// SessionExpired and leaves the auth store cleared.
func TestRefreshFailureClearsAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/core/v4/users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/v4/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Code":10013,"Error":"invalid refresh token"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memAuthStore{ok: true, auth: AuthRecord{UID: "uid-1", AccessToken: "old-token", RefreshToken: "old-refresh"}}
	client := NewClient(srv.Client(), srv.URL+"/", "test@1.0.0", store)

	var out map[string]bool
	err := client.Get(context.Background(), "core/v4/users", &out)
	if err != ErrSessionExpired {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}
	if store.ok {
		t.Fatal("expected auth to be cleared after failed refresh")
	}
}

// TestConcurrentRefreshHappensOnce exercises the double-checked-lock
// invariant: many goroutines racing on the same expired session trigger
// only one refresh request.
func TestConcurrentRefreshHappensOnce(t *testing.T) {
	var refreshCalls int
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/core/v4/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer new-token" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/v4/refresh", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		refreshCalls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"AccessToken":  "new-token",
			"RefreshToken": "new-refresh",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memAuthStore{ok: true, auth: AuthRecord{UID: "uid-1", AccessToken: "old-token", RefreshToken: "old-refresh"}}
	client := NewClient(srv.Client(), srv.URL+"/", "test@1.0.0", store)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out map[string]bool
			_ = client.Get(context.Background(), "core/v4/users", &out)
		}()
	}
	wg.Wait()

	if refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh call under race, got %d", refreshCalls)
	}
}
