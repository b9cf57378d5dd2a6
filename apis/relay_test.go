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

package apis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/common"
	"github.com/bloodlink-project/bloodlink/hub"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func utHTTPConfig() *common.HTTPConfig {
	return &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Bloodlink-Request-ID",
		},
	}
}

func utConnectionManager(
	t *testing.T, ctxt context.Context, wg *sync.WaitGroup,
) hub.ConnectionManager {
	manager, err := hub.GetConnectionManager(ctxt, hub.ConnectionManagerParams{
		SendQueueDepth:      16,
		BroadcastBuffer:     64,
		StaleTimeout:        time.Minute,
		HealthCheckInterval: time.Minute,
		MetricsLogInterval:  time.Minute,
	}, wg)
	assert.Nil(t, err)
	assert.Nil(t, manager.Start(wg))
	return manager
}

func TestRelayAliveCheck(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := utConnectionManager(t, utCtxt, &wg)
	defer manager.Shutdown(utCtxt)

	uut, err := GetAPIRestRelayHandler(utCtxt, nil, utHTTPConfig(), manager)
	assert.Nil(err)

	req, err := http.NewRequest("GET", "/alive", nil)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	uut.AliveHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)
}

func TestRelayMetricsEndpoint(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := utConnectionManager(t, utCtxt, &wg)
	defer manager.Shutdown(utCtxt)

	uut, err := GetAPIRestRelayHandler(utCtxt, nil, utHTTPConfig(), manager)
	assert.Nil(err)

	req, err := http.NewRequest("GET", "/v1/ws/metrics", nil)
	assert.Nil(err)
	respRecorder := httptest.NewRecorder()
	uut.GetMetricsHandler().ServeHTTP(respRecorder, req)
	assert.Equal(http.StatusOK, respRecorder.Code)

	var resp APIRestRespHubMetrics
	assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &resp))
	assert.True(resp.Success)
	assert.Equal(int64(0), resp.Metrics.ActiveConnections)
	assert.Equal(0, resp.Metrics.TotalSubscriptions)
}

func TestRelayWebSocketSession(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := utConnectionManager(t, utCtxt, &wg)
	defer manager.Shutdown(utCtxt)

	uut, err := GetAPIRestRelayHandler(utCtxt, nil, utHTTPConfig(), manager)
	assert.Nil(err)

	router := mux.NewRouter()
	_ = RegisterPathPrefix(router, "/v1/ws", map[string]http.HandlerFunc{
		"get": uut.ConnectHandler(),
	})
	testServer := httptest.NewServer(router)
	defer testServer.Close()
	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/v1/ws"

	readMessage := func(client *websocket.Conn) hub.ServerMessage {
		assert.Nil(client.SetReadDeadline(time.Now().Add(time.Second * 2)))
		_, frame, err := client.ReadMessage()
		assert.Nil(err)
		var msg hub.ServerMessage
		assert.Nil(json.Unmarshal(frame, &msg))
		return msg
	}

	// Case 1: upgrade without an authenticated identity is refused
	{
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.NotNil(err)
		assert.NotNil(resp)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	}

	// Case 2: an authenticated session starts with the connected notice
	header := http.Header{}
	header.Set("Bloodlink-User-ID", "user-1")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	assert.Nil(err)
	{
		msg := readMessage(client)
		assert.Equal(hub.SystemMessageType, msg.Type)
		assert.Equal("connected", msg.Action)
		assert.Eventually(func() bool {
			return manager.Metrics().ActiveConnections == 1
		}, time.Second, time.Millisecond*10)
	}

	// Case 3: subscription and broadcast flow end to end
	{
		assert.Nil(client.WriteMessage(websocket.TextMessage, []byte(
			`{"action":"subscribe","type":"BLOOD_REQUEST","resourceId":"req-01"}`,
		)))
		msg := readMessage(client)
		assert.Equal("subscribed", msg.Action)

		assert.Nil(manager.Broadcast(
			utCtxt, hub.ClassBloodRequest, "req-01", "update", `{"id":"req-01"}`,
		))
		msg = readMessage(client)
		assert.Equal("BLOOD_REQUEST", msg.Type)
		assert.Equal("update", msg.Action)
		assert.Equal(`{"id":"req-01"}`, msg.Data)
	}

	// Case 4: application level ping
	{
		assert.Nil(client.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)))
		msg := readMessage(client)
		assert.Equal("pong", msg.Action)
	}

	// Case 5: client close evicts the connection
	{
		assert.Nil(client.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second),
		))
		_ = client.Close()
		assert.Eventually(func() bool {
			return manager.Metrics().ActiveConnections == 0
		}, time.Second*2, time.Millisecond*10)
	}
}
