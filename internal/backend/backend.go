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

// Package backend maps a backend tag (e.g. "Proton Mail") to a capability
// able to build HTTP clients and Pollers from persisted account rows.
package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/yhmail/yhmail/internal/proton"
)

// ErrUnknownBackend is returned by a Registry when no Backend is
// registered under the requested name.
var ErrUnknownBackend = errors.New("backend: unknown backend")

// ErrLoggedOut is returned by NewPoller when the account's secret column
// is NULL.
var ErrLoggedOut = errors.New("backend: account is logged out")

// Proxy mirrors session.Proxy without importing the session package,
// keeping Backend's interface free of HTTP-layer concerns it does not
// otherwise need.
type Proxy struct {
	Protocol string
	Host     string
	Port     int
	Username string
	Password string
}

// Poller is the narrow per-account capability the orchestrator drives:
// *proton.Poller already satisfies this.
type Poller interface {
	Check(ctx context.Context) ([]proton.NewMessage, error)
	Logout(ctx context.Context) error
	State() proton.TaskState
}

// Backend is a capability object naming a mail provider and able to
// manufacture HTTP clients (proxy-aware) and Pollers from persisted
// account rows.
type Backend interface {
	Name() string
	CreateClient(ctx context.Context, proxy *Proxy) (*http.Client, error)
	NewPoller(ctx context.Context, client *http.Client, email string) (Poller, error)
}

// Registry maps backend tags to Backend implementations.
type Registry struct {
	backends []Backend
}

// NewRegistry builds a Registry from the given backends.
func NewRegistry(backends ...Backend) *Registry {
	return &Registry{backends: backends}
}

// Backends returns all registered backends.
func (r *Registry) Backends() []Backend {
	return r.backends
}

// BackendWithName looks up a backend by its Name().
func (r *Registry) BackendWithName(name string) (Backend, bool) {
	for _, b := range r.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}
