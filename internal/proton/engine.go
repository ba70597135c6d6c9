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

package proton

import (
	"context"
	"errors"
	"fmt"
)

// maxEventChainIterations bounds a single Check call so a server that
// never reports caught-up (More always Yes) cannot hang the poller
// forever. Recommended, not mandated, by the source design notes.
const maxEventChainIterations = 1000

// ErrEventChainTooLong is returned when a single Check exceeds
// maxEventChainIterations without reaching a fixed point.
var ErrEventChainTooLong = errors.New("proton: event chain did not converge within iteration cap")

// Client is the subset of the Proton API the reconciliation engine
// consumes. internal/session provides the authenticated HTTP
// implementation; tests provide an in-memory one.
type Client interface {
	LatestEventID(ctx context.Context) (string, error)
	Labels(ctx context.Context, labelType LabelType) ([]Label, error)
	Event(ctx context.Context, id string) (*EventsResponse, error)
	Logout(ctx context.Context) error
}

// Poller runs one Check for one account against a Client, evolving a
// TaskState across calls. It holds no long-lived authentication state of
// its own — that lives in the Client.
type Poller struct {
	client    Client
	state     TaskState
	stateSink func(context.Context, TaskState) error
}

// NewPoller constructs a Poller for an account whose previously-persisted
// state is given (the zero value, via NewTaskState, if this is the first
// poll of the account's lifetime).
func NewPoller(client Client, state TaskState) *Poller {
	if state.ActiveFolderIDs == nil {
		state = NewTaskState()
	}
	return &Poller{client: client, state: state}
}

// SetStateSink registers a callback invoked with the current state after
// bootstrap and after every loop iteration that advances the cursor, so
// a mid-walk failure can resume from the last fully-applied event
// (spec.md §4.1's partial-progress guarantee). A non-nil error from fn
// aborts Check immediately.
func (p *Poller) SetStateSink(fn func(context.Context, TaskState) error) {
	p.stateSink = fn
}

// State returns the current persisted state, to be written back to the
// store regardless of whether Check succeeded, failed, or is mid-walk.
func (p *Poller) State() TaskState {
	return p.state
}

// Logout invalidates the account's session with the backend.
func (p *Poller) Logout(ctx context.Context) error {
	return p.client.Logout(ctx)
}

// Check performs bootstrap (if necessary) and a single event-chain walk,
// returning the de-duplicated, order-preserved list of messages that
// still deserve a notification. The Poller's State is updated as the
// walk progresses, even if Check returns an error partway through.
func (p *Poller) Check(ctx context.Context) ([]NewMessage, error) {
	if !p.state.Bootstrapped() {
		if err := p.bootstrap(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		if err := p.commitState(ctx); err != nil {
			return nil, fmt.Errorf("persist bootstrap state: %w", err)
		}
	}

	walk := newWalkState(p.state)

	cursor := p.state.LastEventID

	// The loop guard is the pair (event_id, more) of the event just
	// fetched, not a value carried over from the previous iteration: a
	// server may report more=Yes without advancing event_id (e.g. a page
	// boundary with no net change), and that must still keep the walk
	// going (spec's resolved open question on chain termination).
	for i := 0; i < maxEventChainIterations; i++ {
		event, err := p.client.Event(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("get event %s: %w", cursor, err)
		}

		if event.EventID == cursor && !bool(event.More) {
			break
		}

		walk.applyLabelEvents(event.Labels)
		walk.applyMessageEvents(event.Messages)

		cursor = event.EventID
		p.state.LastEventID = cursor
		p.state.ActiveFolderIDs = walk.folders()
		if err := p.commitState(ctx); err != nil {
			return nil, fmt.Errorf("persist state after event %s: %w", cursor, err)
		}

		if i == maxEventChainIterations-1 {
			return nil, ErrEventChainTooLong
		}
	}

	return walk.emit(), nil
}

func (p *Poller) commitState(ctx context.Context) error {
	if p.stateSink == nil {
		return nil
	}
	return p.stateSink(ctx, p.state)
}

// bootstrap fetches the latest event id and seeds ActiveFolderIDs with
// the inbox plus every folder-type label whose Notify flag is set. It does
// not persist anything itself: Check commits the new state right after
// bootstrap returns, before walking any events, so a failure during the
// walk does not force a re-bootstrap.
func (p *Poller) bootstrap(ctx context.Context) error {
	latest, err := p.client.LatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("latest event id: %w", err)
	}

	labels, err := p.client.Labels(ctx, LabelTypeFolder)
	if err != nil {
		return fmt.Errorf("folder labels: %w", err)
	}

	folders := map[string]bool{InboxLabelID: true}
	for _, l := range labels {
		if bool(l.Notify) {
			folders[l.ID] = true
		}
	}

	p.state = TaskState{LastEventID: latest, ActiveFolderIDs: folders}
	return nil
}

// walkState holds the transient per-Check bookkeeping described in
// spec.md §4.1: the folder set (evolving copy of TaskState's), the
// ordered candidate list, and the unseen set.
type walkState struct {
	activeFolders map[string]bool
	candidates    []NewMessage
	candidateSeen map[string]bool // dedup guard for candidates, by id
	unseen        map[string]bool
}

func newWalkState(state TaskState) *walkState {
	folders := make(map[string]bool, len(state.ActiveFolderIDs))
	for k, v := range state.ActiveFolderIDs {
		folders[k] = v
	}
	return &walkState{
		activeFolders: folders,
		candidateSeen: map[string]bool{},
		unseen:        map[string]bool{},
	}
}

func (w *walkState) folders() map[string]bool {
	return w.activeFolders
}

// applyLabelEvents updates activeFolders per spec.md §4.1's label-event
// semantics. Only folder-type labels matter; label-type records do not
// appear in the wire Labels list for non-folder labels in practice, but
// the Type is still checked defensively.
func (w *walkState) applyLabelEvents(events []LabelEvent) {
	for _, e := range events {
		switch e.Action {
		case ActionCreate:
			if e.Label == nil || e.Label.Type != LabelTypeFolder {
				continue
			}
			if bool(e.Label.Notify) {
				w.activeFolders[e.Label.ID] = true
			}
		case ActionUpdate, ActionUpdateFlags:
			if e.Label == nil || e.Label.Type != LabelTypeFolder {
				continue
			}
			if bool(e.Label.Notify) {
				w.activeFolders[e.Label.ID] = true
			} else {
				delete(w.activeFolders, e.Label.ID)
			}
		case ActionDelete:
			if e.ID == InboxLabelID {
				continue
			}
			delete(w.activeFolders, e.ID)
		}
	}
	w.activeFolders[InboxLabelID] = true
}

// applyMessageEvents updates candidates/unseen per spec.md §4.1's
// message-event semantics (the subtle part).
func (w *walkState) applyMessageEvents(events []MessageEvent) {
	for _, e := range events {
		switch e.Action {
		case ActionCreate:
			m := e.Message
			if m == nil {
				continue // missing payload: ignore, per spec.md §9
			}
			if !bool(m.Unread) {
				continue
			}
			if !w.inNotifiableFolder(m.LabelIDs) {
				continue
			}
			sender := m.SenderAddress
			if m.SenderName != "" {
				sender = m.SenderName
			}
			id := m.ID
			if !w.candidateSeen[id] {
				w.candidateSeen[id] = true
				w.candidates = append(w.candidates, NewMessage{
					ID:      id,
					Sender:  sender,
					Subject: m.Subject,
				})
			}
			w.unseen[id] = true
		case ActionUpdate, ActionUpdateFlags:
			m := e.Message
			if m == nil {
				continue
			}
			if !bool(m.Unread) {
				delete(w.unseen, m.ID)
			}
			// message marked unread again: never re-added, per spec.md §4.1.
		case ActionDelete:
			delete(w.unseen, e.ID)
		}
	}
}

func (w *walkState) inNotifiableFolder(labelIDs []string) bool {
	for _, id := range labelIDs {
		if w.activeFolders[id] {
			return true
		}
	}
	return false
}

// emit filters candidates down to those still present in unseen,
// preserving candidates' arrival order.
func (w *walkState) emit() []NewMessage {
	out := make([]NewMessage, 0, len(w.candidates))
	for _, c := range w.candidates {
		if w.unseen[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
