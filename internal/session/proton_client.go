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
	"fmt"

	"github.com/yhmail/yhmail/internal/proton"
)

// ProtonClient adapts a Client to the proton.Client interface the
// reconciliation engine consumes, by calling the concrete wire endpoints
// listed in spec.md §6.
type ProtonClient struct {
	client *Client
}

// NewProtonClient wraps an authenticated Client for use by proton.Poller.
func NewProtonClient(client *Client) *ProtonClient {
	return &ProtonClient{client: client}
}

func (p *ProtonClient) LatestEventID(ctx context.Context) (string, error) {
	var out struct {
		EventID string `json:"EventID"`
	}
	if err := p.client.Get(ctx, "core/v4/events/latest", &out); err != nil {
		return "", err
	}
	return out.EventID, nil
}

func (p *ProtonClient) Labels(ctx context.Context, labelType proton.LabelType) ([]proton.Label, error) {
	var out struct {
		Labels []proton.Label `json:"Labels"`
	}
	path := fmt.Sprintf("core/v4/labels?Type=%d", int(labelType))
	if err := p.client.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

func (p *ProtonClient) Event(ctx context.Context, id string) (*proton.EventsResponse, error) {
	var out proton.EventsResponse
	if err := p.client.Get(ctx, "core/v4/events/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *ProtonClient) Logout(ctx context.Context) error {
	return p.client.Delete(ctx, "auth/v4")
}
