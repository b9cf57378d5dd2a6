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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/apis"
	"github.com/bloodlink-project/bloodlink/common"
	"github.com/bloodlink-project/bloodlink/core"
	"github.com/bloodlink-project/bloodlink/feed"
	"github.com/bloodlink-project/bloodlink/hub"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// RunRelayServer run the relay server
func RunRelayServer(
	runTimeContext context.Context,
	config *common.RelayServerConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "relay",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid relay server config")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	// -------------------------------------------------------------------
	// Define the connection hub

	manager, err := hub.GetConnectionManager(
		localCtxt, hub.ConnectionManagerParams{
			SendQueueDepth:      config.Websocket.SendQueueDepth,
			BroadcastBuffer:     config.Websocket.BroadcastBuffer,
			StaleTimeout:        time.Second * time.Duration(config.Websocket.StaleTimeout),
			HealthCheckInterval: time.Second * time.Duration(config.Websocket.HealthCheckInterval),
			MetricsLogInterval:  time.Second * time.Duration(config.Websocket.MetricsLogInterval),
		}, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection manager")
		return err
	}
	if err := manager.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start connection manager")
		return err
	}

	// -------------------------------------------------------------------
	// Bridge the upstream change feed into the hub

	watched := make([]hub.ResourceClass, 0, len(config.Feed.WatchedClasses))
	for _, name := range config.Feed.WatchedClasses {
		class, err := hub.ParseResourceClass(name)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unknown watched resource class %s", name,
			)
			return err
		}
		watched = append(watched, class)
	}

	feedSource, err := feed.GetJetStreamFeedSource(
		natsClient, feed.JetStreamFeedSourceParams{
			SubjectPrefix:  config.Feed.SubjectPrefix,
			ConsumerPrefix: config.Feed.ConsumerPrefix,
		},
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define change feed source")
		return err
	}

	bridge, err := feed.GetChangeFeedBridge(
		localCtxt, feedSource, manager, feed.ChangeFeedBridgeParams{
			WatchedClasses: watched,
			RetryInterval:  time.Second * time.Duration(config.Feed.RetryInterval),
		}, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define change feed bridge")
		return err
	}
	if err := bridge.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start change feed bridge")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	httpHandler, err := apis.GetAPIRestRelayHandler(
		localCtxt, natsClient, &config.HTTPSetting, manager,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Live update session
	wsAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/ws", map[string]http.HandlerFunc{
			"get": httpHandler.ConnectHandler(),
		},
	)

	// Hub metrics
	_ = apis.RegisterPathPrefix(
		wsAPIRouter, "/metrics", map[string]http.HandlerFunc{
			"get": httpHandler.GetMetricsHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTPSetting.Server.ListenOn, config.HTTPSetting.Server.Port,
	)
	// The WebSocket endpoint hijacks its connection, so the server must speak
	// HTTP/1.1 and carry no write deadline on the long lived sessions
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.HTTPSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.IdleTimeout),
		Handler:      router,
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Notify and close the live sessions before taking down the listener
	manager.Shutdown(context.Background())

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
