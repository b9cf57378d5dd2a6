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
	"reflect"
	"sync"

	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/common"
)

// connectionLookup resolves a connection ID against the registry
type connectionLookup func(connectionID string) (*Connection, bool)

// broadcastDispatcher fans one serialized message out to every connection
// subscribed to its topic. Publication never blocks on a recipient: a full
// send queue is a counted drop for that recipient only.
type broadcastDispatcher struct {
	common.Component
	tp      common.TaskProcessor
	index   *subscriptionIndex
	lookup  connectionLookup
	metrics *metricsAggregator
}

// broadcastTask is the dispatcher event queue entry
type broadcastTask struct {
	topicKey string
	frame    []byte
}

// newBroadcastDispatcher defines a broadcast dispatcher with its single
// drain worker fed from a large bounded event queue
func newBroadcastDispatcher(
	ctxt context.Context,
	eventBuffer int,
	index *subscriptionIndex,
	lookup connectionLookup,
	metrics *metricsAggregator,
) (*broadcastDispatcher, error) {
	logTags := log.Fields{
		"module": "hub", "component": "broadcast-dispatcher",
	}
	tp, err := common.GetNewTaskProcessorInstance("broadcast", eventBuffer, ctxt)
	if err != nil {
		return nil, err
	}
	instance := &broadcastDispatcher{
		Component: common.Component{LogTags: logTags},
		tp:        tp,
		index:     index,
		lookup:    lookup,
		metrics:   metrics,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(broadcastTask{}), instance.processBroadcast,
	); err != nil {
		return nil, err
	}
	return instance, nil
}

// start starts the drain worker
func (d *broadcastDispatcher) start(wg *sync.WaitGroup) error {
	return d.tp.StartEventLoop(wg)
}

// stop stops the drain worker
func (d *broadcastDispatcher) stop() error {
	return d.tp.StopEventLoop()
}

// publish serializes the message once and enqueues it for fan-out. Returns
// as soon as the event is queued, regardless of fan-out size.
func (d *broadcastDispatcher) publish(ctxt context.Context, msg ServerMessage) error {
	frame, err := json.Marshal(&msg)
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Error("Failed to serialize message")
		return err
	}
	topicKey := fmt.Sprintf("%s:%s", msg.Type, msg.ResourceID)
	return d.tp.Submit(ctxt, broadcastTask{topicKey: topicKey, frame: frame})
}

// processBroadcast resolves one event's topic members and performs the
// per-connection non-blocking enqueues
func (d *broadcastDispatcher) processBroadcast(param interface{}) error {
	task, ok := param.(broadcastTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for broadcast", reflect.TypeOf(param))
	}
	for _, connectionID := range d.index.membersOf(task.topicKey) {
		connection, ok := d.lookup(connectionID)
		if !ok {
			// Lost a race with eviction. The index entry is already
			// being cleaned up by the evicting task.
			continue
		}
		if !connection.enqueueFrame(task.frame) {
			d.metrics.recordDropped()
			log.WithFields(d.LogTags).Debugf(
				"Dropped frame on %s for %s", task.topicKey, connectionID,
			)
		}
	}
	return nil
}
