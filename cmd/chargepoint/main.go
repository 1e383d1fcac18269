// Package main is a charge point simulator: it finds a CSMS node, connects over OCPP-J,
// boots, answers CSMS requests and sends heartbeats, reconnecting when the link drops.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ocpp-rpc/catalog"
	"ocpp-rpc/config"
	"ocpp-rpc/loadbalance"
	"ocpp-rpc/registry"
)

const logPrefix = "cmd/chargepoint:main"

const usage = `Usage: chargepoint [help]

Connects charge point OCPP_CHARGE_POINT_ID to OCPP_CSMS_URL, or to a CSMS node discovered
in ETCD_ENDPOINTS and picked by OCPP_NODE_STRATEGY.

Environment: OCPP_CHARGE_POINT_ID, OCPP_CSMS_URL, ETCD_ENDPOINTS, OCPP_NODE_STRATEGY,
OCPP_SUBPROTOCOLS, OCPP_HEARTBEAT_INTERVAL, LOG_LEVEL. See config for the full list.
`

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "-h", "--help":
			fmt.Print(usage)
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", os.Args[1], usage)
			os.Exit(1)
		}
	}
	if err := run(); err != nil {
		log.Fatalf("chargepoint: fatal error: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForChargePoint(); err != nil {
		return err
	}
	logger := config.NewLogger(cfg.LogLevel).With("charge_point", cfg.ChargePointID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Standard()
	if err != nil {
		return fmt.Errorf("%s - failed to load catalog: %w", logPrefix, err)
	}
	bal, err := loadbalance.New(cfg.NodeStrategy)
	if err != nil {
		return err
	}

	var reg registry.Registry
	if cfg.CSMSURL == "" {
		etcdReg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	s := &session{cfg: cfg, cat: cat, logger: logger}
	return connectLoop(ctx, func(ctx context.Context) error {
		url, err := resolveURL(ctx, cfg, reg, bal)
		if err != nil {
			return err
		}
		logger.Info(fmt.Sprintf("%s - connecting", logPrefix), "url", url, "strategy", bal.Name())
		return s.run(ctx, url)
	}, logger)
}

// connectLoop runs connect until ctx ends, backing off exponentially between failures.
func connectLoop(ctx context.Context, connect func(context.Context) error, logger *slog.Logger) error {
	backoff := minBackoff
	for {
		start := time.Now()
		err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A session that lasted a while resets the backoff.
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		logger.Warn(fmt.Sprintf("%s - connection lost, retrying", logPrefix), "error", err, "backoff", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
