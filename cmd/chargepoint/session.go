package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ocpp-rpc/catalog"
	"ocpp-rpc/catalog/ocpp16"
	"ocpp-rpc/config"
	"ocpp-rpc/endpoint"
	"ocpp-rpc/loadbalance"
	"ocpp-rpc/message"
	"ocpp-rpc/registry"
	"ocpp-rpc/transport"
)

// resolveURL returns the WebSocket URL of the CSMS node serving this charge point:
// the configured URL, or a node picked from the registry by the configured strategy.
func resolveURL(ctx context.Context, cfg *config.Config, reg registry.Registry, bal loadbalance.Balancer) (string, error) {
	if cfg.CSMSURL != "" {
		return strings.TrimSuffix(cfg.CSMSURL, "/") + "/" + cfg.ChargePointID, nil
	}

	nodes, err := reg.Discover(ctx, cfg.Cluster)
	if err != nil {
		return "", fmt.Errorf("%s - discover %s: %w", logPrefix, cfg.Cluster, err)
	}
	usable := nodes[:0:0]
	for _, n := range nodes {
		for _, sub := range cfg.Subprotocols {
			if n.Supports(sub) {
				usable = append(usable, n)
				break
			}
		}
	}
	node, err := bal.Pick(cfg.ChargePointID, usable)
	if err != nil {
		return "", fmt.Errorf("%s - pick node: %w", logPrefix, err)
	}
	return strings.TrimSuffix(node.Addr, "/") + "/" + cfg.ChargePointID, nil
}

// session is one connection to the CSMS: boot, then heartbeats until the connection
// drops or ctx ends.
type session struct {
	cfg    *config.Config
	cat    *catalog.Catalog
	logger *slog.Logger
}

func (s *session) run(ctx context.Context, url string) error {
	ws, err := transport.DialWebSocket(ctx, url, s.cfg.Subprotocols, transport.WebSocketOptions{
		PingInterval: s.cfg.PingInterval,
		Logger:       s.logger,
	})
	if err != nil {
		return err
	}
	set, ok := s.cat.Version(ws.Subprotocol())
	if !ok {
		_ = ws.Close()
		return fmt.Errorf("%s - %w: %q", logPrefix, catalog.ErrUnknownVersion, ws.Subprotocol())
	}

	opts := s.cfg.EndpointOptions()
	opts.ChargePointID = s.cfg.ChargePointID
	opts.Catalog = set
	opts.Logger = s.logger
	ep := endpoint.New(ws, opts)
	for _, mw := range s.cfg.Middlewares(s.logger) {
		ep.Use(mw)
	}
	if err := registerHandlers(ep); err != nil {
		_ = ep.Close()
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- ep.Run(ctx) }()

	err = s.operate(ctx, ep)
	_ = ep.Close()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
		return rerr
	}
	return err
}

// operate sends BootNotification until accepted, then a Heartbeat every interval.
func (s *session) operate(ctx context.Context, ep *endpoint.Endpoint) error {
	interval := s.cfg.HeartbeatInterval
	for {
		status, granted, err := boot(ctx, ep, s.cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if granted > 0 {
			interval = granted
		}
		s.logger.Info(fmt.Sprintf("%s - boot %s", logPrefix, status), "interval", interval)
		if status == ocpp16.RegistrationAccepted {
			break
		}
		if !sleep(ctx, ep, interval) {
			return nil
		}
	}

	if err := s.reportAvailable(ctx, ep); err != nil {
		s.logger.Warn(fmt.Sprintf("%s - status notification failed", logPrefix), "error", err)
	}

	for sleep(ctx, ep, interval) {
		if err := ep.Call(ctx, "Heartbeat", struct{}{}, nil); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s - heartbeat: %w", logPrefix, err)
		}
	}
	return nil
}

func (s *session) reportAvailable(ctx context.Context, ep *endpoint.Endpoint) error {
	if ep.Subprotocol() == catalog.OCPP201 {
		return ep.Call(ctx, "StatusNotification", map[string]any{
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"connectorStatus": "Available",
			"evseId":          1,
			"connectorId":     1,
		}, nil)
	}
	return ep.Call(ctx, "StatusNotification", ocpp16.StatusNotificationRequest{
		ConnectorId: 0,
		ErrorCode:   "NoError",
		Status:      "Available",
	}, nil)
}

// boot sends BootNotification and returns the registration status and heartbeat interval.
func boot(ctx context.Context, ep *endpoint.Endpoint, cfg *config.Config) (string, time.Duration, error) {
	var req any = ocpp16.BootNotificationRequest{
		ChargePointVendor: cfg.Vendor,
		ChargePointModel:  cfg.Model,
	}
	if ep.Subprotocol() == catalog.OCPP201 {
		req = map[string]any{
			"chargingStation": map[string]string{"vendorName": cfg.Vendor, "model": cfg.Model},
			"reason":          "PowerUp",
		}
	}

	var conf struct {
		Status   string `json:"status"`
		Interval int    `json:"interval"`
	}
	if err := ep.Call(ctx, "BootNotification", req, &conf); err != nil {
		return "", 0, fmt.Errorf("%s - boot notification: %w", logPrefix, err)
	}
	return conf.Status, time.Duration(conf.Interval) * time.Second, nil
}

// sleep waits d and reports whether the session should continue.
func sleep(ctx context.Context, ep *endpoint.Endpoint, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-ep.Done():
		return false
	}
}

// registerHandlers binds the actions a CSMS may send to this charge point.
func registerHandlers(ep *endpoint.Endpoint) error {
	accepted := func(context.Context, *message.Call) (any, error) {
		return map[string]string{"status": "Accepted"}, nil
	}
	handlers := map[string]func(context.Context, *message.Call) (any, error){
		"Reset": accepted,
	}
	if ep.Subprotocol() != catalog.OCPP201 {
		handlers["ChangeAvailability"] = accepted
		handlers["ClearCache"] = accepted
		handlers["DataTransfer"] = func(ctx context.Context, call *message.Call) (any, error) {
			var req ocpp16.DataTransferRequest
			if err := json.Unmarshal(call.Payload, &req); err != nil {
				return nil, err
			}
			return ocpp16.DataTransferConfirmation{Status: "UnknownVendorId"}, nil
		}
	}
	for action, h := range handlers {
		if err := ep.Register(action, h); err != nil {
			return err
		}
	}
	return nil
}
