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

// Package proton implements the Proton Mail wire contract and the
// per-account event-reconciliation engine that decides which incoming
// messages still deserve a user-visible notification.
package proton

import (
	"encoding/json"
	"fmt"
)

// InboxLabelID is the well-known system label id for the inbox folder.
// It is always present in ActiveFolderIDs and is never removed by a
// Delete label event.
const InboxLabelID = "0"

// Action identifies the kind of change a MessageEvent or LabelEvent
// describes.
type Action int

const (
	ActionDelete Action = iota
	ActionCreate
	ActionUpdate
	ActionUpdateFlags
)

// UnmarshalJSON decodes the wire's small-integer Action encoding.
func (a *Action) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode Action: %w", err)
	}
	if n < int(ActionDelete) || n > int(ActionUpdateFlags) {
		return fmt.Errorf("decode Action: unknown value %d", n)
	}
	*a = Action(n)
	return nil
}

// MarshalJSON encodes Action using the wire's small-integer convention.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(a))
}

// LabelType classifies a Label per the wire's small-integer Type field.
type LabelType int

const (
	LabelTypeLabel LabelType = iota + 1
	LabelTypeContactGroup
	LabelTypeFolder
	LabelTypeSystem
)

// wireBool decodes the wire's 0/1 boolean encoding into a Go bool.
type wireBool bool

func (b *wireBool) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode Boolean: %w", err)
	}
	*b = n != 0
	return nil
}

func (b wireBool) MarshalJSON() ([]byte, error) {
	if b {
		return json.Marshal(1)
	}
	return json.Marshal(0)
}

// Label is a Proton mailbox label or folder, as returned by
// GET core/v4/labels.
type Label struct {
	ID     string    `json:"ID"`
	Name   string    `json:"Name"`
	Type   LabelType `json:"Type"`
	Notify wireBool  `json:"Notify"`
}

// MessagePayload is the body of a message change record, present on
// Create/Update/UpdateFlags but absent on some Delete records.
type MessagePayload struct {
	ID             string   `json:"ID"`
	LabelIDs       []string `json:"LabelIDs"`
	Unread         wireBool `json:"Unread"`
	Subject        string   `json:"Subject"`
	SenderAddress  string   `json:"SenderAddress"`
	SenderName     string   `json:"SenderName"`
}

// LabelPayload is the body of a label change record.
type LabelPayload struct {
	ID     string    `json:"ID"`
	Name   string    `json:"Name"`
	Type   LabelType `json:"Type"`
	Notify wireBool  `json:"Notify"`
}

// MessageEvent is one element of an EventsResponse's Messages list.
type MessageEvent struct {
	ID      string          `json:"ID"`
	Action  Action          `json:"Action"`
	Message *MessagePayload `json:"Message,omitempty"`
}

// LabelEvent is one element of an EventsResponse's Labels list.
type LabelEvent struct {
	ID     string        `json:"ID"`
	Action Action        `json:"Action"`
	Label  *LabelPayload `json:"Label,omitempty"`
}

// EventsResponse is the decoded body of GET core/v4/events/{id}.
type EventsResponse struct {
	EventID  string         `json:"EventID"`
	More     wireBool       `json:"More"`
	Messages []MessageEvent `json:"Messages"`
	Labels   []LabelEvent   `json:"Labels"`
}

// NewMessage is a single notification-worthy message surfaced by Check.
type NewMessage struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
}

// TaskState is the per-account poll state persisted between calls to
// Check: the last fully-applied event id and the set of folder ids
// currently flagged as notifiable.
type TaskState struct {
	LastEventID     string          `json:"last_event_id"`
	ActiveFolderIDs map[string]bool `json:"active_folder_ids"`
}

// NewTaskState returns a TaskState with only the inbox folder active and
// no last event id recorded, i.e. the state before the first bootstrap.
func NewTaskState() TaskState {
	return TaskState{
		ActiveFolderIDs: map[string]bool{InboxLabelID: true},
	}
}

// Bootstrapped reports whether the state has completed its first poll.
func (s TaskState) Bootstrapped() bool {
	return s.LastEventID != ""
}

// Clone returns a deep copy, so callers can mutate the result without
// affecting the persisted value until it is explicitly saved back.
func (s TaskState) Clone() TaskState {
	folders := make(map[string]bool, len(s.ActiveFolderIDs))
	for k, v := range s.ActiveFolderIDs {
		folders[k] = v
	}
	return TaskState{LastEventID: s.LastEventID, ActiveFolderIDs: folders}
}

// MarshalJSON ensures ActiveFolderIDs is never nil on the wire, so a
// freshly-constructed TaskState round-trips through the store cleanly.
func (s TaskState) MarshalJSON() ([]byte, error) {
	type alias TaskState
	cp := alias(s)
	if cp.ActiveFolderIDs == nil {
		cp.ActiveFolderIDs = map[string]bool{}
	}
	return json.Marshal(cp)
}
