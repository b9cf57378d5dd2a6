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

import "sync/atomic"

// MetricsSnapshot is a read-only view of the hub's operating counters
type MetricsSnapshot struct {
	// ActiveConnections is the current registry membership count
	ActiveConnections int64 `json:"activeConnections"`
	// TotalSubscriptions is the sum of all topic set sizes
	TotalSubscriptions int `json:"totalSubscriptions"`
	// MessagesSent counts frames successfully written to transports
	MessagesSent int64 `json:"messagesSent"`
	// MessagesDropped counts frames dropped against full send queues
	MessagesDropped int64 `json:"messagesDropped"`
	// UniqueTopics counts topics with at least one subscriber
	UniqueTopics int `json:"uniqueTopics"`
}

// metricsAggregator holds the monotonic counters shared across hub tasks
type metricsAggregator struct {
	messagesSent    int64
	messagesDropped int64
}

func (m *metricsAggregator) recordSent() {
	atomic.AddInt64(&m.messagesSent, 1)
}

func (m *metricsAggregator) recordDropped() {
	atomic.AddInt64(&m.messagesDropped, 1)
}

func (m *metricsAggregator) sent() int64 {
	return atomic.LoadInt64(&m.messagesSent)
}

func (m *metricsAggregator) dropped() int64 {
	return atomic.LoadInt64(&m.messagesDropped)
}
