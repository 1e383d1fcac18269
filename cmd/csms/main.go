// Package main is the entrypoint for a CSMS node: it accepts charge point connections
// over OCPP-J, exposes Prometheus metrics and announces itself in etcd.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocpp-rpc/catalog"
	"ocpp-rpc/config"
	"ocpp-rpc/csms"
	"ocpp-rpc/endpoint"
	"ocpp-rpc/events"
	"ocpp-rpc/registry"
)

const logPrefix = "cmd/csms:main"

const usage = `Usage: csms [help]

Starts a CSMS node serving charge points on ws://OCPP_LISTEN_ADDR/ocpp/{chargePointId}.

Environment: OCPP_LISTEN_ADDR, OCPP_ADVERTISE_ADDR, OCPP_SUBPROTOCOLS, OCPP_CALL_TIMEOUT,
OCPP_STRICT_SINGLE_OUTSTANDING, OCPP_MAX_INFLIGHT_CALLS, ETCD_ENDPOINTS, NATS_URL,
METRICS_ADDR, LOG_LEVEL. See config for the full list.
`

const shutdownTimeout = 10 * time.Second

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
		log.Fatalf("csms: fatal error: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForCSMS(); err != nil {
		return err
	}
	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Standard()
	if err != nil {
		return fmt.Errorf("%s - failed to load catalog: %w", logPrefix, err)
	}

	// Step 1: Lifecycle events
	var publisher events.Publisher = &events.NoOpPublisher{}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, "ocpp-csms")
		if err != nil {
			return err
		}
		defer nc.Drain()
		publisher = events.NewNATSPublisher(nc, &events.NATSPublisherOpts{SubjectPrefix: cfg.EventsSubject})
	}

	// Step 2: Node registry
	var reg registry.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	// Step 3: Hub
	metrics := endpoint.NewMetrics()
	epOpts := cfg.EndpointOptions()
	epOpts.Logger = logger
	epOpts.Publisher = publisher
	epOpts.Metrics = metrics

	var advertise string
	if cfg.AdvertiseAddr != "" {
		advertise = "ws://" + cfg.AdvertiseAddr + csms.DefaultPath
	}
	hub, err := csms.NewHub(csms.Options{
		Catalog:      cat,
		Subprotocols: cfg.Subprotocols,
		Endpoint:     epOpts,
		Middlewares:  cfg.Middlewares(logger),
		Setup:        setupFunc(cfg.HeartbeatInterval, logger, newTransactions()),
		PingInterval: cfg.PingInterval,
		Registry:     reg,
		Cluster:      cfg.Cluster,
		Node:         registry.Node{Addr: advertise, Weight: cfg.NodeWeight},
		RegistryTTL:  int64(cfg.RegistryTTL / time.Second),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// Step 4: Metrics
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(metrics)
		promReg.MustRegister(hub.Collectors()...)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info(fmt.Sprintf("%s - metrics listening on %s", logPrefix, cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error(fmt.Sprintf("%s - metrics server error: %v", logPrefix, err))
			}
		}()
		defer metricsServer.Close()
	}

	served := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - CSMS listening on %s", logPrefix, cfg.ListenAddr))
		served <- hub.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	slog.Info(fmt.Sprintf("%s - shutting down", logPrefix))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-served
}
