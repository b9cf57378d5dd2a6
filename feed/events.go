// Copyright 2025-2026 The bloodlink Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feed

import (
	"context"
	"encoding/json"

	"github.com/bloodlink-project/bloodlink/hub"
)

// ChangeOperation is the kind of mutation a change event reports
type ChangeOperation string

// The change operations forwarded from the store
const (
	OperationInsert ChangeOperation = "insert"
	OperationUpdate ChangeOperation = "update"
	OperationDelete ChangeOperation = "delete"
)

// ChangeEvent is one upstream data mutation, in store commit order
type ChangeEvent struct {
	// Operation is the mutation kind
	Operation ChangeOperation `json:"operation" validate:"required,oneof=insert update delete"`
	// ResourceID is the mutated record's ID
	ResourceID string `json:"resourceId" validate:"required"`
	// Document is the full record JSON after the change; absent for delete
	Document json.RawMessage `json:"document,omitempty"`
}

// ChangeFeedCursor is an open position on one resource class's ordered
// change stream
type ChangeFeedCursor interface {
	// Next blocks for the next change event
	Next(ctxt context.Context) (ChangeEvent, error)
	// Close releases the cursor
	Close() error
}

// ChangeFeedSource opens cursors on the external change feed. A re-opened
// cursor resumes from the durable feed position, not from the beginning.
type ChangeFeedSource interface {
	// Open opens a cursor for one watched resource class
	Open(ctxt context.Context, class hub.ResourceClass) (ChangeFeedCursor, error)
}
