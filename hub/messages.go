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

package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceClass is a broadcastable record class clients can subscribe to
type ResourceClass string

// The set of known resource classes
const (
	ClassBloodRequest     ResourceClass = "BLOOD_REQUEST"
	ClassBloodDonor       ResourceClass = "BLOOD_DONOR"
	ClassNotification     ResourceClass = "NOTIFICATION"
	ClassBloodRequestList ResourceClass = "BLOOD_REQUEST_LIST"
	ClassBloodDonorList   ResourceClass = "BLOOD_DONOR_LIST"
)

// SystemMessageType marks server generated control messages
const SystemMessageType = "SYSTEM"

// WildcardResourceID subscribes to a class's list level changes instead of one record
const WildcardResourceID = "ALL"

// ParseResourceClass converts a wire string into a known ResourceClass
func ParseResourceClass(raw string) (ResourceClass, error) {
	switch ResourceClass(raw) {
	case ClassBloodRequest, ClassBloodDonor, ClassNotification,
		ClassBloodRequestList, ClassBloodDonorList:
		return ResourceClass(raw), nil
	}
	return "", fmt.Errorf("unknown resource class '%s'", raw)
}

// ListClass returns the list level class paired with a point level class
func (c ResourceClass) ListClass() (ResourceClass, bool) {
	switch c {
	case ClassBloodRequest:
		return ClassBloodRequestList, true
	case ClassBloodDonor:
		return ClassBloodDonorList, true
	}
	return "", false
}

// Subscription is one interest declaration held by a connection
type Subscription struct {
	// Type is the resource class subscribed to
	Type ResourceClass `json:"type"`
	// ResourceID is the record ID, or WildcardResourceID for list level interest
	ResourceID string `json:"resourceId"`
}

// Key returns the topic key "<class>:<resource-id>" used by the subscription index
func (s Subscription) Key() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ResourceID)
}

// ==========================================================================
// Inbound client requests

// ClientAction enumerates the supported inbound request actions
type ClientAction int

// The closed set of inbound request actions. Unknown wire actions fail
// decoding at the boundary instead of falling through a default branch.
const (
	ClientActionSubscribe ClientAction = iota
	ClientActionUnsubscribe
	ClientActionPing
	ClientActionGetSubscriptions
)

// ClientRequest is a decoded inbound request frame
type ClientRequest struct {
	// Action is the requested operation
	Action ClientAction
	// Target is the subscription operated on. Only meaningful for
	// subscribe / unsubscribe.
	Target Subscription
}

// clientRequestEnvelope is the raw wire format of an inbound frame
type clientRequestEnvelope struct {
	Action     string  `json:"action"`
	Type       *string `json:"type,omitempty"`
	ResourceID *string `json:"resourceId,omitempty"`
}

// ParseClientRequest decodes and validates one inbound client frame
func ParseClientRequest(payload []byte) (ClientRequest, error) {
	var envelope clientRequestEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ClientRequest{}, fmt.Errorf("invalid message format: %s", err.Error())
	}

	readTarget := func() (Subscription, error) {
		if envelope.Type == nil {
			return Subscription{}, fmt.Errorf("subscription type is required")
		}
		class, err := ParseResourceClass(*envelope.Type)
		if err != nil {
			return Subscription{}, err
		}
		if envelope.ResourceID == nil {
			return Subscription{}, fmt.Errorf("resource ID is required")
		}
		return Subscription{Type: class, ResourceID: *envelope.ResourceID}, nil
	}

	switch envelope.Action {
	case "subscribe":
		target, err := readTarget()
		if err != nil {
			return ClientRequest{}, err
		}
		return ClientRequest{Action: ClientActionSubscribe, Target: target}, nil
	case "unsubscribe":
		target, err := readTarget()
		if err != nil {
			return ClientRequest{}, err
		}
		return ClientRequest{Action: ClientActionUnsubscribe, Target: target}, nil
	case "ping":
		return ClientRequest{Action: ClientActionPing}, nil
	case "get_subscriptions":
		return ClientRequest{Action: ClientActionGetSubscriptions}, nil
	}
	return ClientRequest{}, fmt.Errorf("unknown action '%s'", envelope.Action)
}

// ==========================================================================
// Outbound server messages

// ServerMessage is the outbound wire envelope
type ServerMessage struct {
	// Type is the resource class, or SystemMessageType for control messages
	Type string `json:"type"`
	// Action describes what happened: insert, update, delete, or a system action
	Action string `json:"action"`
	// ResourceID is the record the message concerns
	ResourceID string `json:"resourceId"`
	// Data is the payload, itself a JSON encoded string
	Data string `json:"data"`
	// Timestamp is the message creation time in epoch milliseconds
	Timestamp int64 `json:"timestamp"`
}

// NewSystemMessage builds a SYSTEM control message
func NewSystemMessage(action, resourceID, dataJSON string) ServerMessage {
	return ServerMessage{
		Type:       SystemMessageType,
		Action:     action,
		ResourceID: resourceID,
		Data:       dataJSON,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewBroadcastMessage builds a resource change message
func NewBroadcastMessage(
	class ResourceClass, resourceID, action, dataJSON string,
) ServerMessage {
	return ServerMessage{
		Type:       string(class),
		Action:     action,
		ResourceID: resourceID,
		Data:       dataJSON,
		Timestamp:  time.Now().UnixMilli(),
	}
}
