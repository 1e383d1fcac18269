package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"ocpp-rpc/endpoint"
)

var envVars = []string{
	"OCPP_LISTEN_ADDR", "OCPP_ADVERTISE_ADDR", "OCPP_SUBPROTOCOLS",
	"OCPP_CALL_TIMEOUT", "OCPP_TIMEOUT_SCAN_INTERVAL", "OCPP_STRICT_SINGLE_OUTSTANDING",
	"OCPP_CALL_RETRIES", "OCPP_CALL_RETRY_DELAY",
	"OCPP_MAX_INFLIGHT_CALLS", "OCPP_UNMATCHED_RESPONSES", "OCPP_ANSWER_MALFORMED_FRAMES",
	"OCPP_HANDLER_TIMEOUT", "OCPP_INBOUND_RATE", "OCPP_INBOUND_BURST", "OCPP_PING_INTERVAL",
	"ETCD_ENDPOINTS", "REGISTRY_TTL", "OCPP_CLUSTER", "OCPP_NODE_WEIGHT", "OCPP_NODE_STRATEGY",
	"NATS_URL", "OCPP_EVENTS_SUBJECT", "METRICS_ADDR",
	"OCPP_CSMS_URL", "OCPP_CHARGE_POINT_ID", "OCPP_HEARTBEAT_INTERVAL",
	"OCPP_CHARGE_POINT_VENDOR", "OCPP_CHARGE_POINT_MODEL", "LOG_LEVEL",
}

// clearEnv unsets every variable the config reads. t.Setenv registers the restore.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.ListenAddr != ":9000" {
		t.Errorf("config:config_test - ListenAddr = %q, want :9000", cfg.ListenAddr)
	}
	if strings.Join(cfg.Subprotocols, ",") != "ocpp2.0.1,ocpp1.6" {
		t.Errorf("config:config_test - Subprotocols = %v", cfg.Subprotocols)
	}
	if cfg.CallTimeout != 30*time.Second {
		t.Errorf("config:config_test - CallTimeout = %v, want 30s", cfg.CallTimeout)
	}
	if cfg.ScanInterval != 500*time.Millisecond {
		t.Errorf("config:config_test - ScanInterval = %v, want 500ms", cfg.ScanInterval)
	}
	if !cfg.StrictSingleOutstanding {
		t.Error("config:config_test - expected StrictSingleOutstanding=true by default")
	}
	if cfg.MaxInflightCalls != 8 {
		t.Errorf("config:config_test - MaxInflightCalls = %d, want 8", cfg.MaxInflightCalls)
	}
	if cfg.UnmatchedResponses != "drop" {
		t.Errorf("config:config_test - UnmatchedResponses = %q, want drop", cfg.UnmatchedResponses)
	}
	if cfg.AnswerMalformedFrames {
		t.Error("config:config_test - expected AnswerMalformedFrames=false by default")
	}
	if len(cfg.EtcdEndpoints) != 0 || cfg.NATSURL != "" {
		t.Errorf("config:config_test - expected no etcd or NATS by default, got %v %q", cfg.EtcdEndpoints, cfg.NATSURL)
	}
	if cfg.NodeStrategy != "consistent-hash" {
		t.Errorf("config:config_test - NodeStrategy = %q", cfg.NodeStrategy)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want info", cfg.LogLevel)
	}
	if err := cfg.ValidateForCSMS(); err != nil {
		t.Errorf("config:config_test - defaults should be valid for the CSMS: %v", err)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCPP_SUBPROTOCOLS", "ocpp1.6")
	t.Setenv("OCPP_CALL_TIMEOUT", "5s")
	t.Setenv("OCPP_STRICT_SINGLE_OUTSTANDING", "false")
	t.Setenv("OCPP_MAX_INFLIGHT_CALLS", "2")
	t.Setenv("OCPP_UNMATCHED_RESPONSES", "reply")
	t.Setenv("ETCD_ENDPOINTS", "10.0.0.1:2379,10.0.0.2:2379")
	t.Setenv("OCPP_CHARGE_POINT_ID", "CP-1")
	t.Setenv("OCPP_CALL_RETRIES", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if len(cfg.Subprotocols) != 1 || cfg.Subprotocols[0] != "ocpp1.6" {
		t.Errorf("config:config_test - Subprotocols = %v", cfg.Subprotocols)
	}
	if len(cfg.EtcdEndpoints) != 2 {
		t.Errorf("config:config_test - EtcdEndpoints = %v", cfg.EtcdEndpoints)
	}
	if err := cfg.ValidateForChargePoint(); err != nil {
		t.Fatalf("config:config_test - unexpected validation error: %v", err)
	}

	opts := cfg.EndpointOptions()
	if opts.CallTimeout != 5*time.Second || opts.StrictSingleOutstanding || opts.MaxInflightCalls != 2 {
		t.Errorf("config:config_test - unexpected endpoint options %+v", opts)
	}
	if opts.UnmatchedResponses != endpoint.UnmatchedReply {
		t.Errorf("config:config_test - UnmatchedResponses = %q, want reply", opts.UnmatchedResponses)
	}
	if opts.Retry.MaxRetries != 2 || opts.Retry.BaseDelay != time.Second {
		t.Errorf("config:config_test - Retry = %+v", opts.Retry)
	}
}

func TestLoadConfig_BadValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("OCPP_CALL_TIMEOUT", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("config:config_test - expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		csms    bool
		wantErr string
	}{
		{"zero timeout", func(c *Config) { c.CallTimeout = 0 }, true, "OCPP_CALL_TIMEOUT"},
		{"scan above timeout", func(c *Config) { c.ScanInterval = time.Minute }, true, "OCPP_TIMEOUT_SCAN_INTERVAL"},
		{"zero inflight", func(c *Config) { c.MaxInflightCalls = 0 }, true, "OCPP_MAX_INFLIGHT_CALLS"},
		{"bad policy", func(c *Config) { c.UnmatchedResponses = "echo" }, true, "OCPP_UNMATCHED_RESPONSES"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, true, "LOG_LEVEL"},
		{"no listener", func(c *Config) { c.ListenAddr = "" }, true, "OCPP_LISTEN_ADDR"},
		{"no id", func(c *Config) { c.ChargePointID = "" }, false, "OCPP_CHARGE_POINT_ID"},
		{"id with slash", func(c *Config) { c.ChargePointID = "a/b" }, false, "OCPP_CHARGE_POINT_ID"},
		{"nowhere to connect", func(c *Config) { c.CSMSURL = "" }, false, "OCPP_CSMS_URL"},
		{"bad strategy", func(c *Config) { c.NodeStrategy = "random" }, false, "OCPP_NODE_STRATEGY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := LoadConfig()
			if err != nil {
				t.Fatal(err)
			}
			cfg.ChargePointID = "CP-1"
			cfg.CSMSURL = "ws://localhost:9000/ocpp"
			tt.mutate(cfg)

			if tt.csms {
				err = cfg.ValidateForCSMS()
			} else {
				err = cfg.ValidateForChargePoint()
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("config:config_test - expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMiddlewares(t *testing.T) {
	cfg := &Config{}
	if n := len(cfg.Middlewares(nil)); n != 1 {
		t.Fatalf("expect only logging, got %d middlewares", n)
	}
	cfg.InboundRate, cfg.InboundBurst, cfg.HandlerTimeout = 5, 5, time.Second
	if n := len(cfg.Middlewares(nil)); n != 3 {
		t.Fatalf("expect 3 middlewares, got %d", n)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if NewLogger("nonsense") == nil {
		t.Fatal("NewLogger must always return a logger")
	}
}
