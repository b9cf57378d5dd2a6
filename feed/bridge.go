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
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/common"
	"github.com/bloodlink-project/bloodlink/hub"
	"github.com/go-playground/validator/v10"
)

// ChangeFeedBridge consumes the upstream change feed and forwards each
// event into the hub as two broadcasts: one on the record's own topic and
// one on the class's list level wildcard topic. Feed failures are retried
// with a fixed backoff; they never propagate to the hub.
type ChangeFeedBridge interface {
	// Start starts one watch loop per watched resource class
	Start() error
}

// ChangeFeedBridgeParams are the bridge operating parameters
type ChangeFeedBridgeParams struct {
	// WatchedClasses lists the resource classes to watch
	WatchedClasses []hub.ResourceClass `validate:"required,min=1"`
	// RetryInterval is the fixed wait before re-opening a failed feed
	RetryInterval time.Duration `validate:"required"`
}

// changeFeedBridgeImpl implements ChangeFeedBridge
type changeFeedBridgeImpl struct {
	common.Component
	source           ChangeFeedSource
	manager          hub.ConnectionManager
	params           ChangeFeedBridgeParams
	operationContext context.Context
	wg               *sync.WaitGroup
	lock             *sync.Mutex
	started          bool
}

// GetChangeFeedBridge define a new change feed bridge
func GetChangeFeedBridge(
	ctxt context.Context,
	source ChangeFeedSource,
	manager hub.ConnectionManager,
	params ChangeFeedBridgeParams,
	wg *sync.WaitGroup,
) (ChangeFeedBridge, error) {
	logTags := log.Fields{
		"module": "feed", "component": "change-feed-bridge",
	}
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid bridge params")
		return nil, err
	}
	return &changeFeedBridgeImpl{
		Component:        common.Component{LogTags: logTags},
		source:           source,
		manager:          manager,
		params:           params,
		operationContext: ctxt,
		wg:               wg,
		lock:             &sync.Mutex{},
		started:          false,
	}, nil
}

// Start starts one watch loop per watched resource class
func (b *changeFeedBridgeImpl) Start() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.started {
		return fmt.Errorf("already started")
	}
	for _, class := range b.params.WatchedClasses {
		b.wg.Add(1)
		go b.watchClass(class)
	}
	b.started = true
	log.WithFields(b.LogTags).Infof(
		"Watching %d resource classes", len(b.params.WatchedClasses),
	)
	return nil
}

// watchClass runs the watch loop for one resource class. The loop only
// exits on context cancel; every feed failure waits out the retry interval
// and re-opens from the durable position.
func (b *changeFeedBridgeImpl) watchClass(class hub.ResourceClass) {
	defer b.wg.Done()
	logTags := log.Fields{
		"module": "feed", "component": "change-feed-bridge", "class": string(class),
	}
	defer log.WithFields(logTags).Info("Watch loop exiting")
	for {
		cursor, err := b.source.Open(b.operationContext, class)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to open change feed")
			if !b.waitRetry() {
				return
			}
			continue
		}
		b.consume(cursor, class, logTags)
		if b.operationContext.Err() != nil {
			return
		}
		if !b.waitRetry() {
			return
		}
	}
}

// consume drains one open cursor until it fails or the bridge stops
func (b *changeFeedBridgeImpl) consume(
	cursor ChangeFeedCursor, class hub.ResourceClass, logTags log.Fields,
) {
	defer func() {
		if err := cursor.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Warn("Cursor close failed")
		}
	}()
	for {
		event, err := cursor.Next(b.operationContext)
		if err != nil {
			if b.operationContext.Err() == nil {
				log.WithError(err).WithFields(logTags).Error("Change feed read failed")
			}
			return
		}
		b.forward(class, event, logTags)
	}
}

// forward turns one change event into its point and list level broadcasts
func (b *changeFeedBridgeImpl) forward(
	class hub.ResourceClass, event ChangeEvent, logTags log.Fields,
) {
	var data string
	if event.Operation == OperationDelete {
		tombstone, _ := json.Marshal(map[string]interface{}{
			"id": event.ResourceID, "deleted": true,
		})
		data = string(tombstone)
	} else {
		data = string(event.Document)
	}
	log.WithFields(logTags).Debugf("Forwarding %s of %s", event.Operation, event.ResourceID)
	if err := b.manager.Broadcast(
		b.operationContext, class, event.ResourceID, string(event.Operation), data,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Point broadcast failed")
	}
	if listClass, ok := class.ListClass(); ok {
		if err := b.manager.Broadcast(
			b.operationContext, listClass, hub.WildcardResourceID, string(event.Operation), data,
		); err != nil {
			log.WithError(err).WithFields(logTags).Error("List broadcast failed")
		}
	}
}

// waitRetry waits out the fixed backoff; returns false when the bridge
// should stop instead of retrying
func (b *changeFeedBridgeImpl) waitRetry() bool {
	select {
	case <-b.operationContext.Done():
		return false
	case <-time.After(b.params.RetryInterval):
		return true
	}
}
