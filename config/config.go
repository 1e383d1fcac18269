// Package config provides CSMS and charge point settings loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"ocpp-rpc/client"
	"ocpp-rpc/endpoint"
	"ocpp-rpc/loadbalance"
	"ocpp-rpc/middleware"
)

const logPrefix = "config:LoadConfig"

// Config holds the settings shared by cmd/csms and cmd/chargepoint.
type Config struct {
	// WebSocket listener (CSMS) and the address other processes should use to reach it.
	ListenAddr    string   `envconfig:"OCPP_LISTEN_ADDR" default:":9000"`
	AdvertiseAddr string   `envconfig:"OCPP_ADVERTISE_ADDR"`
	Subprotocols  []string `envconfig:"OCPP_SUBPROTOCOLS" default:"ocpp2.0.1,ocpp1.6"`

	// Correlation
	CallTimeout             time.Duration `envconfig:"OCPP_CALL_TIMEOUT" default:"30s"`
	ScanInterval            time.Duration `envconfig:"OCPP_TIMEOUT_SCAN_INTERVAL" default:"500ms"`
	StrictSingleOutstanding bool          `envconfig:"OCPP_STRICT_SINGLE_OUTSTANDING" default:"true"`
	CallRetries             int           `envconfig:"OCPP_CALL_RETRIES" default:"0"`
	CallRetryDelay          time.Duration `envconfig:"OCPP_CALL_RETRY_DELAY" default:"1s"`

	// Inbound handling
	MaxInflightCalls      int64         `envconfig:"OCPP_MAX_INFLIGHT_CALLS" default:"8"`
	UnmatchedResponses    string        `envconfig:"OCPP_UNMATCHED_RESPONSES" default:"drop"`
	AnswerMalformedFrames bool          `envconfig:"OCPP_ANSWER_MALFORMED_FRAMES" default:"false"`
	HandlerTimeout        time.Duration `envconfig:"OCPP_HANDLER_TIMEOUT" default:"0s"`
	InboundRate           float64       `envconfig:"OCPP_INBOUND_RATE" default:"0"`
	InboundBurst          int           `envconfig:"OCPP_INBOUND_BURST" default:"10"`

	// Transport keep-alive
	PingInterval time.Duration `envconfig:"OCPP_PING_INTERVAL" default:"30s"`

	// Node registry (empty endpoints = in-memory registry)
	EtcdEndpoints []string      `envconfig:"ETCD_ENDPOINTS"`
	RegistryTTL   time.Duration `envconfig:"REGISTRY_TTL" default:"10s"`
	Cluster       string        `envconfig:"OCPP_CLUSTER" default:"csms"`
	NodeWeight    int           `envconfig:"OCPP_NODE_WEIGHT" default:"10"`
	NodeStrategy  string        `envconfig:"OCPP_NODE_STRATEGY" default:"consistent-hash"`

	// Lifecycle events (empty = not published)
	NATSURL       string `envconfig:"NATS_URL"`
	EventsSubject string `envconfig:"OCPP_EVENTS_SUBJECT" default:"ocpp.events"`

	// Prometheus endpoint (empty = disabled)
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9100"`

	// Charge point
	CSMSURL           string        `envconfig:"OCPP_CSMS_URL"`
	ChargePointID     string        `envconfig:"OCPP_CHARGE_POINT_ID"`
	HeartbeatInterval time.Duration `envconfig:"OCPP_HEARTBEAT_INTERVAL" default:"60s"`
	Vendor            string        `envconfig:"OCPP_CHARGE_POINT_VENDOR" default:"ocpp-rpc"`
	Model             string        `envconfig:"OCPP_CHARGE_POINT_MODEL" default:"simulator"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &c, nil
}

func (c *Config) validateCommon() error {
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - OCPP_CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("%s - OCPP_TIMEOUT_SCAN_INTERVAL must be positive", logPrefix)
	}
	if c.ScanInterval > c.CallTimeout {
		return fmt.Errorf("%s - OCPP_TIMEOUT_SCAN_INTERVAL must not exceed OCPP_CALL_TIMEOUT", logPrefix)
	}
	if c.MaxInflightCalls <= 0 {
		return fmt.Errorf("%s - OCPP_MAX_INFLIGHT_CALLS must be positive", logPrefix)
	}
	if c.CallRetries < 0 {
		return fmt.Errorf("%s - OCPP_CALL_RETRIES must not be negative", logPrefix)
	}
	if _, err := endpoint.ParseUnmatchedPolicy(c.UnmatchedResponses); err != nil {
		return fmt.Errorf("%s - OCPP_UNMATCHED_RESPONSES: %w", logPrefix, err)
	}
	if c.InboundRate < 0 || (c.InboundRate > 0 && c.InboundBurst <= 0) {
		return fmt.Errorf("%s - OCPP_INBOUND_RATE/OCPP_INBOUND_BURST must be positive", logPrefix)
	}
	if len(c.Subprotocols) == 0 {
		return fmt.Errorf("%s - OCPP_SUBPROTOCOLS is required", logPrefix)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ValidateForCSMS checks required config when running the CSMS.
func (c *Config) ValidateForCSMS() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%s - OCPP_LISTEN_ADDR is required for the CSMS", logPrefix)
	}
	if len(c.EtcdEndpoints) > 0 && c.RegistryTTL < time.Second {
		return fmt.Errorf("%s - REGISTRY_TTL must be at least 1s", logPrefix)
	}
	if c.NodeWeight <= 0 {
		return fmt.Errorf("%s - OCPP_NODE_WEIGHT must be positive", logPrefix)
	}
	return nil
}

// ValidateForChargePoint checks required config when running a charge point.
func (c *Config) ValidateForChargePoint() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.ChargePointID == "" {
		return fmt.Errorf("%s - OCPP_CHARGE_POINT_ID is required for a charge point", logPrefix)
	}
	if strings.ContainsAny(c.ChargePointID, "/?#") {
		return fmt.Errorf("%s - OCPP_CHARGE_POINT_ID %q must be usable as a path segment", logPrefix, c.ChargePointID)
	}
	if c.CSMSURL == "" && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("%s - either OCPP_CSMS_URL or ETCD_ENDPOINTS is required for a charge point", logPrefix)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s - OCPP_HEARTBEAT_INTERVAL must be positive", logPrefix)
	}
	if _, err := loadbalance.New(c.NodeStrategy); err != nil {
		return fmt.Errorf("%s - OCPP_NODE_STRATEGY: %w", logPrefix, err)
	}
	return nil
}

// EndpointOptions returns the connection-independent endpoint settings. Callers fill in
// ChargePointID, Catalog, Logger, Publisher and Metrics.
func (c *Config) EndpointOptions() endpoint.Options {
	policy, _ := endpoint.ParseUnmatchedPolicy(c.UnmatchedResponses)
	return endpoint.Options{
		CallTimeout:             c.CallTimeout,
		ScanInterval:            c.ScanInterval,
		StrictSingleOutstanding: c.StrictSingleOutstanding,
		MaxInflightCalls:        c.MaxInflightCalls,
		UnmatchedResponses:      policy,
		AnswerMalformedFrames:   c.AnswerMalformedFrames,
		Retry:                   client.RetryPolicy{MaxRetries: c.CallRetries, BaseDelay: c.CallRetryDelay},
	}
}

// Middlewares returns the handler middlewares enabled by configuration, outermost first.
func (c *Config) Middlewares(logger *slog.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if c.InboundRate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(c.InboundRate, c.InboundBurst))
	}
	if c.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(c.HandlerTimeout))
	}
	return mws
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return 0, fmt.Errorf("%s - LOG_LEVEL %q: %w", logPrefix, level, err)
	}
	return l, nil
}

// NewLogger builds a text logger on stderr. Unknown levels fall back to info.
func NewLogger(level string) *slog.Logger {
	l, err := ParseLevel(level)
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
