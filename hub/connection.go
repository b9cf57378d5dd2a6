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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
)

// TransportSession is the narrow view of a network session the hub operates on.
// The session itself is owned by the network layer; the hub only writes
// frames to it and closes it when the connection's lifetime ends.
type TransportSession interface {
	// SendTextMessage writes one text frame to the peer
	SendTextMessage(ctxt context.Context, payload []byte) error
	// Close closes the session with a going-away reason
	Close(reason string) error
}

// Connection is one registered client connection
type Connection struct {
	id        string
	ownerID   string
	session   TransportSession
	sendQueue chan []byte
	// lastActivity is unix epoch milliseconds, mutated atomically
	lastActivity int64
	lock         sync.RWMutex
	closed       bool
	closeReason  string
}

// newConnection creates a connection record around an accepted session
func newConnection(
	id, ownerID string, session TransportSession, queueDepth int,
) *Connection {
	return &Connection{
		id:           id,
		ownerID:      ownerID,
		session:      session,
		sendQueue:    make(chan []byte, queueDepth),
		lastActivity: time.Now().UnixMilli(),
	}
}

// ID returns the process unique connection ID
func (c *Connection) ID() string {
	return c.id
}

// OwnerID returns the authenticated user which owns this connection
func (c *Connection) OwnerID() string {
	return c.ownerID
}

// touch records inbound activity on the connection
func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixMilli())
}

// lastActivityMilli reads the most recent inbound activity timestamp
func (c *Connection) lastActivityMilli() int64 {
	return atomic.LoadInt64(&c.lastActivity)
}

// enqueueFrame queues one pre-serialized frame for delivery without blocking.
// Returns false when the queue is full or already closed; the caller decides
// whether that is a counted drop.
func (c *Connection) enqueueFrame(payload []byte) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.sendQueue <- payload:
		return true
	default:
		return false
	}
}

// closeQueue closes the send queue exactly once, releasing the sender task.
// Frames already queued are still delivered before the sender exits.
func (c *Connection) closeQueue(reason string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeReason = reason
	close(c.sendQueue)
}

// readCloseReason reads the recorded close reason
func (c *Connection) readCloseReason() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.closeReason
}

// runSender runs the dedicated sender task: it drains the send queue in
// order and writes each frame to the transport. A transport write failure
// terminates delivery for this connection only and triggers its cleanup.
func (c *Connection) runSender(
	ctxt context.Context,
	wg *sync.WaitGroup,
	onSent func(),
	onFailure func(),
	logTags log.Fields,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if err := c.session.Close(c.readCloseReason()); err != nil {
				log.WithError(err).WithFields(logTags).Debug("Session close failed")
			}
		}()
		defer log.WithFields(logTags).Debug("Sender task exiting")
		for payload := range c.sendQueue {
			if err := c.session.SendTextMessage(ctxt, payload); err != nil {
				log.WithError(err).WithFields(logTags).Error("Transport write failed")
				onFailure()
				return
			}
			onSent()
		}
	}()
}
