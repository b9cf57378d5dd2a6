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
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ConnectionManager is the live connection hub: it owns the connection
// registry and subscription index, fans out broadcasts, and reclaims stale
// connections. The network layer registers accepted sessions with it and
// forwards inbound frames and close events.
type ConnectionManager interface {
	// Register adds a newly accepted session under an authenticated owner.
	// The new connection's queue receives a SYSTEM "connected" message
	// before any other traffic.
	Register(ctxt context.Context, session TransportSession, ownerID string) (*Connection, error)
	// Lookup fetches a registered connection by ID
	Lookup(connectionID string) (*Connection, bool)
	// HandleInboundFrame processes one inbound client frame. Malformed
	// frames are logged and ignored; the connection stays open.
	HandleInboundFrame(ctxt context.Context, connection *Connection, payload []byte)
	// Touch records transport level activity (e.g. a pong) on a connection
	Touch(connection *Connection)
	// Evict removes a connection, cleaning up its registry entry, index
	// memberships, and send queue. Idempotent.
	Evict(ctxt context.Context, connectionID string)
	// Broadcast publishes one resource change to the topic's subscribers
	Broadcast(
		ctxt context.Context, class ResourceClass, resourceID, action, dataJSON string,
	) error
	// Metrics reads the current operating counters
	Metrics() MetricsSnapshot
	// Start starts the background workers (dispatcher, health monitor,
	// metrics logger)
	Start(wg *sync.WaitGroup) error
	// Shutdown notifies and closes every live connection and stops the
	// background workers
	Shutdown(ctxt context.Context)
}

// ConnectionManagerParams are the operating parameters of the hub
type ConnectionManagerParams struct {
	// SendQueueDepth is the per-connection outbound queue capacity
	SendQueueDepth int `validate:"required,gte=1"`
	// BroadcastBuffer is the dispatcher event queue capacity
	BroadcastBuffer int `validate:"required,gte=1"`
	// StaleTimeout is the idle duration after which a connection is evicted
	StaleTimeout time.Duration `validate:"required"`
	// HealthCheckInterval is the stale connection sweep interval
	HealthCheckInterval time.Duration `validate:"required"`
	// MetricsLogInterval is the periodic metrics log interval
	MetricsLogInterval time.Duration `validate:"required"`
}

// connectionManagerImpl implements ConnectionManager
type connectionManagerImpl struct {
	common.Component
	params      ConnectionManagerParams
	rootContext context.Context
	wg          *sync.WaitGroup
	// connections is the registry: connection ID -> *Connection
	connections sync.Map
	// countedIDs tracks which IDs have been counted into activeCount, so
	// repeated eviction can never double-decrement
	countedIDs   sync.Map
	activeCount  int64
	index        *subscriptionIndex
	metrics      *metricsAggregator
	dispatcher   *broadcastDispatcher
	healthTimer  common.IntervalTimer
	metricsTimer common.IntervalTimer
	idCounter    uint64
	shuttingDown int32
}

// GetConnectionManager defines a new connection manager
func GetConnectionManager(
	ctxt context.Context, params ConnectionManagerParams, wg *sync.WaitGroup,
) (ConnectionManager, error) {
	logTags := log.Fields{
		"module": "hub", "component": "connection-manager",
	}
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid manager params")
		return nil, err
	}
	instance := &connectionManagerImpl{
		Component:   common.Component{LogTags: logTags},
		params:      params,
		rootContext: ctxt,
		wg:          wg,
		index:       newSubscriptionIndex(),
		metrics:     &metricsAggregator{},
	}
	dispatcher, err := newBroadcastDispatcher(
		ctxt, params.BroadcastBuffer, instance.index, instance.Lookup, instance.metrics,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define dispatcher")
		return nil, err
	}
	instance.dispatcher = dispatcher
	healthTimer, err := common.GetIntervalTimerInstance("health-monitor", ctxt, wg)
	if err != nil {
		return nil, err
	}
	metricsTimer, err := common.GetIntervalTimerInstance("metrics-logger", ctxt, wg)
	if err != nil {
		return nil, err
	}
	instance.healthTimer = healthTimer
	instance.metricsTimer = metricsTimer
	return instance, nil
}

// Start starts the background workers
func (m *connectionManagerImpl) Start(wg *sync.WaitGroup) error {
	if err := m.dispatcher.start(wg); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Failed to start dispatcher")
		return err
	}
	if err := m.healthTimer.Start(
		m.params.HealthCheckInterval, m.sweepStaleConnections, false,
	); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Failed to start health monitor")
		return err
	}
	if err := m.metricsTimer.Start(
		m.params.MetricsLogInterval, m.logMetrics, false,
	); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Failed to start metrics logger")
		return err
	}
	return nil
}

// ==========================================================================
// Registry

// Register adds a newly accepted session under an authenticated owner
func (m *connectionManagerImpl) Register(
	ctxt context.Context, session TransportSession, ownerID string,
) (*Connection, error) {
	if atomic.LoadInt32(&m.shuttingDown) == 1 {
		return nil, fmt.Errorf("connection manager is shutting down")
	}

	// Monotonic counter plus random suffix keeps IDs unique even for
	// registrations landing within the same millisecond
	connectionID := fmt.Sprintf(
		"conn_%d_%s", atomic.AddUint64(&m.idCounter, 1), uuid.NewString()[:8],
	)
	connection := newConnection(connectionID, ownerID, session, m.params.SendQueueDepth)
	m.connections.Store(connectionID, connection)
	if atomic.LoadInt32(&m.shuttingDown) == 1 {
		// Raced the shutdown sweep; withdraw the registration
		m.connections.Delete(connectionID)
		return nil, fmt.Errorf("connection manager is shutting down")
	}
	if _, counted := m.countedIDs.LoadOrStore(connectionID, true); !counted {
		atomic.AddInt64(&m.activeCount, 1)
	}

	connectionLogTags := log.Fields{
		"module":     "hub",
		"component":  "connection-sender",
		"connection": connectionID,
		"user":       ownerID,
	}
	connection.runSender(
		m.rootContext,
		m.wg,
		m.metrics.recordSent,
		func() { m.evictWithReason(m.rootContext, connectionID, "transport failure") },
		connectionLogTags,
	)

	greeting, _ := json.Marshal(map[string]string{
		"userId": ownerID, "connectionId": connectionID,
	})
	m.queueSystemMessage(
		connection, NewSystemMessage("connected", connectionID, string(greeting)),
	)
	log.WithFields(m.LogTags).Infof(
		"Connection %s established for %s (total: %d)",
		connectionID, ownerID, atomic.LoadInt64(&m.activeCount),
	)
	return connection, nil
}

// Lookup fetches a registered connection by ID
func (m *connectionManagerImpl) Lookup(connectionID string) (*Connection, bool) {
	value, ok := m.connections.Load(connectionID)
	if !ok {
		return nil, false
	}
	return value.(*Connection), true
}

// Touch records transport level activity on a connection
func (m *connectionManagerImpl) Touch(connection *Connection) {
	connection.touch()
}

// Evict removes a connection. Idempotent.
func (m *connectionManagerImpl) Evict(ctxt context.Context, connectionID string) {
	m.evictWithReason(ctxt, connectionID, "going away")
}

func (m *connectionManagerImpl) evictWithReason(
	ctxt context.Context, connectionID, reason string,
) {
	value, loaded := m.connections.LoadAndDelete(connectionID)
	m.index.removeAll(connectionID)
	if _, counted := m.countedIDs.LoadAndDelete(connectionID); counted {
		atomic.AddInt64(&m.activeCount, -1)
	}
	if !loaded {
		return
	}
	connection := value.(*Connection)
	connection.closeQueue(reason)
	log.WithFields(common.UpdateLogTags(ctxt, m.LogTags)).Infof(
		"Cleaned up connection %s (total: %d)",
		connectionID, atomic.LoadInt64(&m.activeCount),
	)
}

// ==========================================================================
// Inbound protocol

// HandleInboundFrame processes one inbound client frame
func (m *connectionManagerImpl) HandleInboundFrame(
	ctxt context.Context, connection *Connection, payload []byte,
) {
	connection.touch()
	request, err := ParseClientRequest(payload)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Warnf(
			"Ignoring malformed frame from %s", connection.id,
		)
		return
	}
	switch request.Action {
	case ClientActionSubscribe:
		m.subscribe(ctxt, connection, request.Target)
	case ClientActionUnsubscribe:
		m.unsubscribe(ctxt, connection, request.Target)
	case ClientActionPing:
		pong, _ := json.Marshal(map[string]int64{"timestamp": time.Now().UnixMilli()})
		m.queueSystemMessage(
			connection, NewSystemMessage("pong", connection.id, string(pong)),
		)
	case ClientActionGetSubscriptions:
		snapshot, _ := json.Marshal(m.index.snapshotFor(connection.id))
		m.queueSystemMessage(
			connection, NewSystemMessage("subscriptions", connection.id, string(snapshot)),
		)
	}
}

// subscribe records a connection's interest in a topic
func (m *connectionManagerImpl) subscribe(
	ctxt context.Context, connection *Connection, target Subscription,
) {
	if _, registered := m.connections.Load(connection.id); !registered {
		// Raced a disconnect; nothing to record
		return
	}
	m.index.subscribe(connection.id, target)
	if _, registered := m.connections.Load(connection.id); !registered {
		// Eviction may have swept the index before our insert landed
		m.index.removeAll(connection.id)
		return
	}
	log.WithFields(m.LogTags).Infof("%s subscribed to %s", connection.id, target.Key())
	confirmation, _ := json.Marshal(&target)
	m.queueSystemMessage(
		connection, NewSystemMessage("subscribed", target.ResourceID, string(confirmation)),
	)
}

// unsubscribe removes a connection's interest in a topic
func (m *connectionManagerImpl) unsubscribe(
	ctxt context.Context, connection *Connection, target Subscription,
) {
	if !m.index.unsubscribe(connection.id, target) {
		return
	}
	log.WithFields(m.LogTags).Infof("%s unsubscribed from %s", connection.id, target.Key())
	confirmation, _ := json.Marshal(&target)
	m.queueSystemMessage(
		connection, NewSystemMessage("unsubscribed", target.ResourceID, string(confirmation)),
	)
}

// queueSystemMessage queues a SYSTEM message on one connection
func (m *connectionManagerImpl) queueSystemMessage(
	connection *Connection, msg ServerMessage,
) {
	frame, err := json.Marshal(&msg)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Failed to serialize system message")
		return
	}
	if !connection.enqueueFrame(frame) {
		log.WithFields(m.LogTags).Warnf(
			"Failed to queue %s message for %s", msg.Action, connection.id,
		)
	}
}

// ==========================================================================
// Broadcast

// Broadcast publishes one resource change to the topic's subscribers
func (m *connectionManagerImpl) Broadcast(
	ctxt context.Context, class ResourceClass, resourceID, action, dataJSON string,
) error {
	return m.dispatcher.publish(ctxt, NewBroadcastMessage(class, resourceID, action, dataJSON))
}

// ==========================================================================
// Health / metrics

// sweepStaleConnections evicts connections idle beyond the stale timeout
func (m *connectionManagerImpl) sweepStaleConnections() error {
	now := time.Now().UnixMilli()
	staleMillis := m.params.StaleTimeout.Milliseconds()
	m.connections.Range(func(key, value interface{}) bool {
		connection := value.(*Connection)
		if now-connection.lastActivityMilli() > staleMillis {
			log.WithFields(m.LogTags).Infof(
				"Removing stale connection %s for %s", connection.id, connection.ownerID,
			)
			m.evictWithReason(m.rootContext, connection.id, "stale connection")
		}
		return true
	})
	return nil
}

// logMetrics writes a periodic metrics report to the log
func (m *connectionManagerImpl) logMetrics() error {
	snapshot := m.Metrics()
	log.WithFields(m.LogTags).Infof(
		"Hub metrics: connections=%d subscriptions=%d sent=%d dropped=%d topics=%d",
		snapshot.ActiveConnections,
		snapshot.TotalSubscriptions,
		snapshot.MessagesSent,
		snapshot.MessagesDropped,
		snapshot.UniqueTopics,
	)
	return nil
}

// Metrics reads the current operating counters
func (m *connectionManagerImpl) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		ActiveConnections:  atomic.LoadInt64(&m.activeCount),
		TotalSubscriptions: m.index.totalSubscriptions(),
		MessagesSent:       m.metrics.sent(),
		MessagesDropped:    m.metrics.dropped(),
		UniqueTopics:       m.index.topicCount(),
	}
}

// ==========================================================================
// Shutdown

// Shutdown notifies and closes every live connection and stops the workers
func (m *connectionManagerImpl) Shutdown(ctxt context.Context) {
	atomic.StoreInt32(&m.shuttingDown, 1)
	log.WithFields(m.LogTags).Infof(
		"Shutting down connection manager (%d active connections)",
		atomic.LoadInt64(&m.activeCount),
	)
	_ = m.healthTimer.Stop()
	_ = m.metricsTimer.Stop()
	notice, _ := json.Marshal(map[string]string{"reason": "server shutting down"})
	m.connections.Range(func(key, value interface{}) bool {
		connection := value.(*Connection)
		m.queueSystemMessage(
			connection, NewSystemMessage("shutdown", connection.id, string(notice)),
		)
		m.evictWithReason(ctxt, connection.id, "server shutting down")
		return true
	})
	_ = m.dispatcher.stop()
	log.WithFields(m.LogTags).Info("Connection manager shutdown complete")
}
