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

package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout. The WebSocket endpoint
	// requires this to be zero; long lived sessions must not be
	// cut off by the server write deadline.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// WebSocket Hub Related Config

// WebsocketConfig defines parameters of the connection hub
type WebsocketConfig struct {
	// SendQueueDepth is the per-connection outbound frame queue capacity.
	// When full, further broadcast frames for that connection are dropped.
	SendQueueDepth int `mapstructure:"send_queue_depth" json:"send_queue_depth" validate:"gte=1"`
	// BroadcastBuffer is the dispatcher inbound event queue capacity
	BroadcastBuffer int `mapstructure:"broadcast_buffer" json:"broadcast_buffer" validate:"gte=1"`
	// StaleTimeout is the max duration in seconds a connection can stay
	// registered without inbound activity before being evicted
	StaleTimeout int `mapstructure:"stale_timeout_sec" json:"stale_timeout_sec" validate:"gte=1"`
	// HealthCheckInterval is the stale connection sweep interval in seconds
	HealthCheckInterval int `mapstructure:"health_check_interval_sec" json:"health_check_interval_sec" validate:"gte=1"`
	// MetricsLogInterval is the periodic metrics log interval in seconds
	MetricsLogInterval int `mapstructure:"metrics_log_interval_sec" json:"metrics_log_interval_sec" validate:"gte=1"`
}

// ===============================================================================
// Change Feed Related Config

// ChangeFeedConfig defines parameters of the upstream data change feed
type ChangeFeedConfig struct {
	// SubjectPrefix is the subject prefix change events are received under.
	// One subject per watched resource class: "<prefix>.<CLASS>"
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
	// ConsumerPrefix is the durable consumer name prefix, one consumer
	// per watched resource class
	ConsumerPrefix string `mapstructure:"consumer_prefix" json:"consumer_prefix" validate:"required"`
	// RetryInterval is the wait in seconds before re-opening a failed feed
	RetryInterval int `mapstructure:"retry_interval_sec" json:"retry_interval_sec" validate:"gte=1"`
	// WatchedClasses lists the resource classes to watch
	WatchedClasses []string `mapstructure:"watched_classes" json:"watched_classes" validate:"required,min=1,dive,required"`
}

// ===============================================================================
// Relay Server Related Config

// RelayEndpointConfig defines relay API endpoint config
type RelayEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the relay APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// RelayServerConfig defines configuration for the relay server
type RelayServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the relay server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the relay server
	Endpoints RelayEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// Websocket are the connection hub parameters
	Websocket WebsocketConfig `mapstructure:"websocket" json:"websocket" validate:"required,dive"`
	// Feed are the upstream change feed parameters
	Feed ChangeFeedConfig `mapstructure:"feed" json:"feed" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Relay are the relay server configs
	Relay *RelayServerConfig `mapstructure:"relay,omitempty" json:"relay,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default relay server settings
	viper.SetDefault("relay.endpoint_config.path_prefix", "/")
	viper.SetDefault("relay.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("relay.api_server.server_config.listen_port", 3000)
	viper.SetDefault("relay.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("relay.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("relay.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"relay.api_server.logging_config.request_id_header", "Bloodlink-Request-ID",
	)
	viper.SetDefault(
		"relay.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)

	// Default connection hub settings
	viper.SetDefault("relay.websocket.send_queue_depth", 64)
	viper.SetDefault("relay.websocket.broadcast_buffer", 4096)
	viper.SetDefault("relay.websocket.stale_timeout_sec", 300)
	viper.SetDefault("relay.websocket.health_check_interval_sec", 60)
	viper.SetDefault("relay.websocket.metrics_log_interval_sec", 300)

	// Default change feed settings
	viper.SetDefault("relay.feed.subject_prefix", "bloodlink.changes")
	viper.SetDefault("relay.feed.consumer_prefix", "bloodlink-relay")
	viper.SetDefault("relay.feed.retry_interval_sec", 5)
	viper.SetDefault("relay.feed.watched_classes", []string{"BLOOD_REQUEST", "BLOOD_DONOR"})
}
