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
	"net/http"

	"github.com/yhmail/yhmail/internal/proton"
)

// NullBackend is a zero-network Backend for demos: it never contacts any
// server, and its pollers never report a new message.
type NullBackend struct{}

// NewNullBackend constructs the null backend.
func NewNullBackend() *NullBackend { return &NullBackend{} }

func (NullBackend) Name() string { return "Null" }

func (NullBackend) CreateClient(ctx context.Context, proxy *Proxy) (*http.Client, error) {
	return http.DefaultClient, nil
}

func (NullBackend) NewPoller(ctx context.Context, client *http.Client, email string) (Poller, error) {
	return &nullPoller{state: proton.NewTaskState()}, nil
}

// nullPoller always reports no new messages and never fails.
type nullPoller struct {
	state proton.TaskState
}

func (p *nullPoller) Check(ctx context.Context) ([]proton.NewMessage, error) {
	return nil, nil
}

func (p *nullPoller) Logout(ctx context.Context) error { return nil }

func (p *nullPoller) State() proton.TaskState { return p.state }
