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
	"sort"
	"sync"
)

// subscriptionIndex maps topic keys to the set of interested connection IDs,
// and tracks the reverse mapping per connection. Both directions mutate
// under one lock so the symmetry invariant holds at all times: an ID is a
// member of a topic iff that connection holds the matching Subscription.
type subscriptionIndex struct {
	lock sync.RWMutex
	// topics: topic key -> set of connection IDs
	topics map[string]map[string]bool
	// perConnection: connection ID -> topic key -> Subscription
	perConnection map[string]map[string]Subscription
}

// newSubscriptionIndex creates an empty subscription index
func newSubscriptionIndex() *subscriptionIndex {
	return &subscriptionIndex{
		topics:        make(map[string]map[string]bool),
		perConnection: make(map[string]map[string]Subscription),
	}
}

// subscribe records interest both directions. Duplicate subscribe is
// idempotent; returns false if the membership already existed.
func (x *subscriptionIndex) subscribe(connectionID string, target Subscription) bool {
	key := target.Key()
	x.lock.Lock()
	defer x.lock.Unlock()
	held, ok := x.perConnection[connectionID]
	if !ok {
		held = make(map[string]Subscription)
		x.perConnection[connectionID] = held
	}
	_, existed := held[key]
	held[key] = target
	members, ok := x.topics[key]
	if !ok {
		members = make(map[string]bool)
		x.topics[key] = members
	}
	members[connectionID] = true
	return !existed
}

// unsubscribe removes interest both directions, pruning empty sets
func (x *subscriptionIndex) unsubscribe(connectionID string, target Subscription) bool {
	key := target.Key()
	x.lock.Lock()
	defer x.lock.Unlock()
	held, ok := x.perConnection[connectionID]
	if !ok {
		return false
	}
	if _, existed := held[key]; !existed {
		return false
	}
	delete(held, key)
	if len(held) == 0 {
		delete(x.perConnection, connectionID)
	}
	x.dropMembership(key, connectionID)
	return true
}

// removeAll removes a connection from every topic it was part of.
// Safe to call repeatedly for the same ID.
func (x *subscriptionIndex) removeAll(connectionID string) {
	x.lock.Lock()
	defer x.lock.Unlock()
	held, ok := x.perConnection[connectionID]
	if !ok {
		return
	}
	for key := range held {
		x.dropMembership(key, connectionID)
	}
	delete(x.perConnection, connectionID)
}

// dropMembership removes one topic membership, pruning the topic set when
// its last member leaves. Caller must hold the write lock.
func (x *subscriptionIndex) dropMembership(key, connectionID string) {
	members, ok := x.topics[key]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(x.topics, key)
	}
}

// membersOf snapshots the set of connection IDs interested in a topic
func (x *subscriptionIndex) membersOf(key string) []string {
	x.lock.RLock()
	defer x.lock.RUnlock()
	members, ok := x.topics[key]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(members))
	for id := range members {
		result = append(result, id)
	}
	return result
}

// snapshotFor lists a connection's current subscriptions in stable order
func (x *subscriptionIndex) snapshotFor(connectionID string) []Subscription {
	x.lock.RLock()
	defer x.lock.RUnlock()
	held, ok := x.perConnection[connectionID]
	if !ok {
		return []Subscription{}
	}
	keys := make([]string, 0, len(held))
	for key := range held {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]Subscription, 0, len(keys))
	for _, key := range keys {
		result = append(result, held[key])
	}
	return result
}

// totalSubscriptions sums the topic set sizes
func (x *subscriptionIndex) totalSubscriptions() int {
	x.lock.RLock()
	defer x.lock.RUnlock()
	total := 0
	for _, members := range x.topics {
		total += len(members)
	}
	return total
}

// topicCount counts topics with at least one member
func (x *subscriptionIndex) topicCount() int {
	x.lock.RLock()
	defer x.lock.RUnlock()
	return len(x.topics)
}
