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
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlink-project/bloodlink/common"
	"github.com/bloodlink-project/bloodlink/core"
	"github.com/bloodlink-project/bloodlink/hub"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
)

// ownerIDHeader carries the authenticated user identity. The auth layer in
// front of this service verifies the caller and installs this header before
// the request reaches the relay.
const ownerIDHeader = "Bloodlink-User-ID"

// sessionWriteTimeout bounds a single frame write to a peer
const sessionWriteTimeout = time.Second * 10

// APIRestRelayHandler REST/WebSocket handler for the relay server
type APIRestRelayHandler struct {
	goutils.RestAPIHandler
	natsClient  *core.NatsClient
	manager     hub.ConnectionManager
	upgrader    websocket.Upgrader
	baseContext context.Context
}

// GetAPIRestRelayHandler define APIRestRelayHandler
func GetAPIRestRelayHandler(
	baseContext context.Context,
	client *core.NatsClient,
	httpConfig *common.HTTPConfig,
	manager hub.ConnectionManager,
) (APIRestRelayHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "relay",
	}
	return APIRestRelayHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		natsClient: client,
		manager:    manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the auth layer in front
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseContext: baseContext,
	}, nil
}

// =======================================================================
// WebSocket endpoint

// Write logging support
func (h APIRestRelayHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// webSocketSession adapts a gorilla connection to the hub's session view
type webSocketSession struct {
	ws *websocket.Conn
}

// SendTextMessage writes one text frame to the peer
func (s *webSocketSession) SendTextMessage(ctxt context.Context, payload []byte) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a going-away close frame and tears the connection down
func (s *webSocketSession) Close(reason string) error {
	_ = s.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(sessionWriteTimeout),
	)
	return s.ws.Close()
}

// Connect godoc
// @Summary Establish a live update session
// @Description Upgrade to a WebSocket session carrying live resource change
// notifications. The caller must already be authenticated; subscriptions are
// managed through frames on the session itself.
// @tags Relay
// @Param Bloodlink-Request-ID header string false "User provided request ID to match against logs"
// @Param Bloodlink-User-ID header string true "Authenticated user ID installed by the auth layer"
// @Success 101 {string} string "protocol switch"
// @Failure 401 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ws [get]
func (h APIRestRelayHandler) Connect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	ownerID := r.Header.Get(ownerIDHeader)
	if ownerID == "" {
		msg := "No authenticated user identity"
		log.WithFields(localLogTags).Error(msg)
		if err := h.WriteRESTResponse(
			w,
			http.StatusUnauthorized,
			h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, msg),
			nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("WebSocket upgrade failed")
		return
	}

	session := &webSocketSession{ws: ws}
	connection, err := h.manager.Register(r.Context(), session, ownerID)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Warn("Registration rejected")
		_ = session.Close("server shutting down")
		return
	}

	// Transport level keepalive refreshes the connection's activity clock
	ws.SetPingHandler(func(message string) error {
		h.manager.Touch(connection)
		err := ws.WriteControl(
			websocket.PongMessage, []byte(message), time.Now().Add(sessionWriteTimeout),
		)
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	ws.SetPongHandler(func(string) error {
		h.manager.Touch(connection)
		return nil
	})

	h.readLoop(r.Context(), ws, connection, localLogTags)
	h.manager.Evict(r.Context(), connection.ID())
}

// readLoop sequentially processes inbound frames until the session ends
func (h APIRestRelayHandler) readLoop(
	ctxt context.Context,
	ws *websocket.Conn,
	connection *hub.Connection,
	logTags log.Fields,
) {
	for {
		msgType, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithFields(logTags).Infof(
					"Client closed connection %s", connection.ID(),
				)
			} else {
				log.WithError(err).WithFields(logTags).Infof(
					"Read loop ending for %s", connection.ID(),
				)
			}
			return
		}
		if msgType == websocket.TextMessage {
			h.manager.HandleInboundFrame(ctxt, connection, payload)
		}
	}
}

// ConnectHandler Wrapper around Connect
func (h APIRestRelayHandler) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Connect(w, r)
	}
}

// =======================================================================
// Operator endpoints

// APIRestRespHubMetrics response for the hub metrics snapshot
type APIRestRespHubMetrics struct {
	goutils.RestAPIBaseResponse
	// Metrics the current hub operating counters
	Metrics hub.MetricsSnapshot `json:"metrics"`
}

// GetMetrics godoc
// @Summary Query hub metrics
// @Description Query the relay hub's current operating counters
// @tags Relay
// @Produce json
// @Param Bloodlink-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespHubMetrics "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ws/metrics [get]
func (h APIRestRelayHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespHubMetrics{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Metrics: h.manager.Metrics(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// GetMetricsHandler Wrapper around GetMetrics
func (h APIRestRelayHandler) GetMetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetMetrics(w, r)
	}
}

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For relay REST API liveness check
// @Description Will return success to indicate relay REST API module is live
// @tags Relay
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestRelayHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestRelayHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For relay REST API readiness check
// @Description Will return success if relay REST API module is ready for use
// @tags Relay
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestRelayHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.natsClient.NATs().Status() == nats.CONNECTED {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestRelayHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
