// Package csms accepts charge point WebSocket connections and runs one endpoint per
// charge point. It negotiates the OCPP subprotocol, replaces a stale connection when a
// charge point reconnects, announces the node in the registry and shuts down gracefully.
//
// Connection lifecycle:
//
//	GET /ocpp/{id} → negotiate subprotocol → Upgrade → endpoint.New → Setup(ep)
//	  → replace old endpoint for {id} → ep.Run (until hangup, Close or Shutdown)
package csms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"ocpp-rpc/catalog"
	"ocpp-rpc/endpoint"
	"ocpp-rpc/middleware"
	"ocpp-rpc/registry"
	"ocpp-rpc/transport"
)

const DefaultPath = "/ocpp/"

var (
	// ErrNotConnected is returned when no endpoint is serving the charge point.
	ErrNotConnected = errors.New("csms: charge point not connected")
	// ErrShutdown is returned by Serve after Shutdown.
	ErrShutdown = errors.New("csms: hub is shut down")
)

// SetupFunc prepares a fresh endpoint before it starts serving, typically by
// registering the CSMS handlers. An error rejects the connection.
type SetupFunc func(ep *endpoint.Endpoint) error

type Options struct {
	Catalog *catalog.Catalog
	// Subprotocols limits the versions offered to charge points. Empty allows every
	// version in Catalog.
	Subprotocols []string
	// Path is the URL prefix followed by the charge point identity. Defaults to DefaultPath.
	Path string

	// Endpoint is the template for every connection. ChargePointID and Catalog are set
	// per connection.
	Endpoint    endpoint.Options
	Middlewares []middleware.Middleware
	Setup       SetupFunc

	PingInterval time.Duration

	// Registry, when set, announces this node under Cluster while Serve runs.
	Registry    registry.Registry
	Cluster     string
	Node        registry.Node
	RegistryTTL int64

	Logger *slog.Logger
}

// Hub is an http.Handler serving OCPP-J charge point connections.
type Hub struct {
	opts     Options
	allowed  map[string]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	conns    map[string]*endpoint.Endpoint
	wg       sync.WaitGroup // Tracks live connections for graceful shutdown
	shutdown bool
	server   *http.Server
	node     registry.Node // Announced node, set by Serve

	ctx    context.Context // Parent of every endpoint's Run
	cancel context.CancelFunc
}

func NewHub(opts Options) (*Hub, error) {
	if opts.Catalog == nil {
		return nil, errors.New("csms: catalog is required")
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if !strings.HasSuffix(opts.Path, "/") {
		opts.Path += "/"
	}
	if len(opts.Subprotocols) == 0 {
		opts.Subprotocols = opts.Catalog.Versions()
	}
	allowed := make(map[string]bool, len(opts.Subprotocols))
	for _, sub := range opts.Subprotocols {
		if _, ok := opts.Catalog.Version(sub); !ok {
			return nil, fmt.Errorf("csms: %w: %s", catalog.ErrUnknownVersion, sub)
		}
		allowed[sub] = true
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:    opts,
		allowed: allowed,
		logger:  opts.Logger,
		conns:   make(map[string]*endpoint.Endpoint),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		// Charge points are not browsers.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return h, nil
}

// Negotiate picks the newest subprotocol offered by the charge point that this hub allows.
func (h *Hub) Negotiate(offered []string) (string, bool) {
	filtered := make([]string, 0, len(offered))
	for _, sub := range offered {
		if h.allowed[sub] {
			filtered = append(filtered, sub)
		}
	}
	return h.opts.Catalog.Negotiate(filtered)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutPrefix(r.URL.Path, h.opts.Path)
	if !ok || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	sub, ok := h.Negotiate(websocket.Subprotocols(r))
	if !ok {
		h.logger.Warn("csms: no common subprotocol", "charge_point", id, "offered", websocket.Subprotocols(r))
		http.Error(w, "no supported OCPP subprotocol offered", http.StatusBadRequest)
		return
	}

	// Count the connection before upgrading so Shutdown waits for it.
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", sub)
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already answered the request.
		h.logger.Warn("csms: upgrade failed", "charge_point", id, "error", err)
		return
	}

	ws := transport.NewWebSocket(conn, transport.WebSocketOptions{
		PingInterval: h.opts.PingInterval,
		Logger:       h.logger,
	})
	set, _ := h.opts.Catalog.Version(sub)

	opts := h.opts.Endpoint
	opts.ChargePointID = id
	opts.Catalog = set
	if opts.Logger == nil {
		opts.Logger = h.logger
	}
	ep := endpoint.New(ws, opts)
	for _, mw := range h.opts.Middlewares {
		ep.Use(mw)
	}
	if h.opts.Setup != nil {
		if err := h.opts.Setup(ep); err != nil {
			h.logger.Error("csms: endpoint setup failed", "charge_point", id, "error", err)
			_ = ep.Close()
			return
		}
	}

	if !h.attach(id, ep) {
		_ = ep.Close()
		return
	}
	h.logger.Info("csms: charge point connected", "charge_point", id, "subprotocol", sub, "remote", ws.RemoteAddr())

	err = ep.Run(h.ctx)
	h.detach(id, ep)
	h.logger.Info("csms: charge point disconnected", "charge_point", id, "error", err)
}

// attach makes ep the endpoint for id, closing the one it replaces.
func (h *Hub) attach(id string, ep *endpoint.Endpoint) bool {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return false
	}
	old := h.conns[id]
	h.conns[id] = ep
	h.mu.Unlock()

	if old != nil {
		h.logger.Warn("csms: replacing existing connection", "charge_point", id)
		_ = old.Close()
	}
	return true
}

func (h *Hub) detach(id string, ep *endpoint.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[id] == ep {
		delete(h.conns, id)
	}
}

// Endpoint returns the live endpoint of a charge point.
func (h *Hub) Endpoint(id string) (*endpoint.Endpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.conns[id]
	return ep, ok
}

// ChargePoints lists the connected charge point identities, sorted.
func (h *Hub) ChargePoints() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Call sends a CSMS-initiated Call to a connected charge point and decodes the response.
func (h *Hub) Call(ctx context.Context, id, action string, payload, reply any) error {
	ep, ok := h.Endpoint(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return ep.Call(ctx, action, payload, reply)
}

// PendingCalls sums outbound calls awaiting a response over every connection.
func (h *Hub) PendingCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ep := range h.conns {
		n += ep.Pending()
	}
	return n
}

// Collectors returns gauges for the connection count and pending calls.
func (h *Hub) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ocpp_rpc",
			Name:      "connected_charge_points",
			Help:      "Charge points with a live connection to this node.",
		}, func() float64 { return float64(len(h.ChargePoints())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ocpp_rpc",
			Name:      "pending_calls",
			Help:      "Outbound calls awaiting a response, over every connection.",
		}, func() float64 { return float64(h.PendingCalls()) }),
	}
}

// Serve announces the node in the registry (if configured) and serves HTTP on l until
// Shutdown. It returns nil after Shutdown.
func (h *Hub) Serve(l net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(h.opts.Path, h)

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return ErrShutdown
	}
	h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := h.server
	h.mu.Unlock()

	if h.opts.Registry != nil {
		node := h.opts.Node
		if node.Addr == "" {
			node.Addr = "ws://" + l.Addr().String() + h.opts.Path
		}
		if len(node.Subprotocols) == 0 {
			node.Subprotocols = h.opts.Subprotocols
		}
		h.mu.Lock()
		h.node = node
		h.mu.Unlock()
		if err := h.opts.Registry.Register(h.ctx, h.opts.Cluster, node, h.opts.RegistryTTL); err != nil {
			return fmt.Errorf("csms: register node: %w", err)
		}
		h.logger.Info("csms: node registered", "cluster", h.opts.Cluster, "addr", node.Addr)
	}

	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (h *Hub) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("csms: listen %s: %w", addr, err)
	}
	return h.Serve(l)
}

// Shutdown performs graceful shutdown:
//  1. Deregister the node (charge points stop picking it)
//  2. Stop accepting connections
//  3. Close every endpoint, which resolves their pending calls
//  4. Wait for the connections to finish, bounded by ctx
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	node := h.node
	h.mu.Unlock()
	if h.opts.Registry != nil && node.Addr != "" {
		if err := h.opts.Registry.Deregister(ctx, h.opts.Cluster, node.Addr); err != nil {
			h.logger.Warn("csms: deregister failed", "error", err)
		}
	}

	h.mu.Lock()
	h.shutdown = true
	srv := h.server
	conns := make([]*endpoint.Endpoint, 0, len(h.conns))
	for _, ep := range h.conns {
		conns = append(conns, ep)
	}
	h.mu.Unlock()

	var errs []error
	if srv != nil {
		// Hijacked WebSocket connections are not tracked by http.Server.
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("csms: http shutdown: %w", err))
		}
	}
	for _, ep := range conns {
		_ = ep.Close()
	}
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("csms: timeout waiting for connections to finish: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
