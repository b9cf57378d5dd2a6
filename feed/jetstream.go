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

	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/common"
	"github.com/bloodlink-project/bloodlink/core"
	"github.com/bloodlink-project/bloodlink/hub"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// JetStreamFeedSourceParams are the JetStream change feed parameters
type JetStreamFeedSourceParams struct {
	// SubjectPrefix is the subject prefix change events arrive under; the
	// per-class subject is "<prefix>.<CLASS>"
	SubjectPrefix string `validate:"required"`
	// ConsumerPrefix is the durable consumer name prefix; the durable
	// cursor is what lets a re-opened feed resume mid-stream
	ConsumerPrefix string `validate:"required"`
}

// jetStreamFeedSourceImpl implements ChangeFeedSource against JetStream
type jetStreamFeedSourceImpl struct {
	common.Component
	nats   *core.NatsClient
	params JetStreamFeedSourceParams
}

// GetJetStreamFeedSource define a JetStream backed change feed source
func GetJetStreamFeedSource(
	natsClient *core.NatsClient, params JetStreamFeedSourceParams,
) (ChangeFeedSource, error) {
	logTags := log.Fields{
		"module": "feed", "component": "jetstream-source",
	}
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid feed source params")
		return nil, err
	}
	return &jetStreamFeedSourceImpl{
		Component: common.Component{LogTags: logTags},
		nats:      natsClient,
		params:    params,
	}, nil
}

// Open opens a cursor for one watched resource class
func (s *jetStreamFeedSourceImpl) Open(
	ctxt context.Context, class hub.ResourceClass,
) (ChangeFeedCursor, error) {
	subject := fmt.Sprintf("%s.%s", s.params.SubjectPrefix, class)
	durable := fmt.Sprintf("%s-%s", s.params.ConsumerPrefix, class)
	logTags := log.Fields{
		"module":    "feed",
		"component": "jetstream-cursor",
		"subject":   subject,
		"consumer":  durable,
	}
	sub, err := s.nats.JetStream().SubscribeSync(subject, nats.Durable(durable))
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open change feed")
		return nil, err
	}
	log.WithFields(logTags).Info("Opened change feed")
	return &jetStreamFeedCursor{
		Component: common.Component{LogTags: logTags},
		sub:       sub,
		validate:  validator.New(),
	}, nil
}

// jetStreamFeedCursor implements ChangeFeedCursor
type jetStreamFeedCursor struct {
	common.Component
	sub      *nats.Subscription
	validate *validator.Validate
}

// Next blocks for the next change event. Undecodable feed entries are
// logged, acknowledged, and skipped.
func (c *jetStreamFeedCursor) Next(ctxt context.Context) (ChangeEvent, error) {
	for {
		msg, err := c.sub.NextMsgWithContext(ctxt)
		if err != nil {
			return ChangeEvent{}, err
		}
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.WithError(err).WithFields(c.LogTags).Warn("Skipping undecodable feed entry")
			_ = msg.Ack()
			continue
		}
		if err := c.validate.Struct(&event); err != nil {
			log.WithError(err).WithFields(c.LogTags).Warn("Skipping invalid feed entry")
			_ = msg.Ack()
			continue
		}
		if err := msg.Ack(); err != nil {
			log.WithError(err).WithFields(c.LogTags).Warn("Feed entry ACK failed")
		}
		return event, nil
	}
}

// Close releases the cursor. The durable consumer remains, so the next
// Open resumes from the current feed position.
func (c *jetStreamFeedCursor) Close() error {
	if err := c.sub.Drain(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Drain failed")
		return err
	}
	log.WithFields(c.LogTags).Info("Closed change feed cursor")
	return nil
}
