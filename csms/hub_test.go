package csms

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ocpp-rpc/catalog"
	"ocpp-rpc/catalog/ocpp16"
	"ocpp-rpc/endpoint"
	"ocpp-rpc/message"
	"ocpp-rpc/registry"
	"ocpp-rpc/transport"
)

// ---- 测试用的服务 ----

type centralSystem struct{}

func (cs *centralSystem) BootNotification(ctx context.Context, req *ocpp16.BootNotificationRequest) (*ocpp16.BootNotificationConfirmation, error) {
	return &ocpp16.BootNotificationConfirmation{
		Status:      ocpp16.RegistrationAccepted,
		CurrentTime: time.Now().UTC(),
		Interval:    300,
	}, nil
}

func (cs *centralSystem) Heartbeat(ctx context.Context, req *ocpp16.HeartbeatRequest) (*ocpp16.HeartbeatConfirmation, error) {
	return &ocpp16.HeartbeatConfirmation{CurrentTime: time.Now().UTC()}, nil
}

func newHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	if opts.Catalog == nil {
		opts.Catalog = catalog.MustStandard()
	}
	if opts.Setup == nil {
		opts.Setup = func(ep *endpoint.Endpoint) error { return ep.RegisterService(&centralSystem{}) }
	}
	hub, err := NewHub(opts)
	if err != nil {
		t.Fatal(err)
	}
	return hub
}

func wsURL(base, id string) string {
	return "ws" + strings.TrimPrefix(base, "http") + DefaultPath + id
}

type chargePoint struct {
	ep   *endpoint.Endpoint
	ws   *transport.WebSocket
	done chan error
}

// connect dials the hub as charge point id and starts its endpoint.
func connect(t *testing.T, url string, offered ...string) *chargePoint {
	t.Helper()
	if len(offered) == 0 {
		offered = []string{catalog.OCPP16}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := transport.DialWebSocket(ctx, url, offered, transport.WebSocketOptions{})
	if err != nil {
		t.Fatal(err)
	}
	set, ok := catalog.MustStandard().Version(ws.Subprotocol())
	if !ok {
		t.Fatalf("hub agreed on unknown subprotocol %q", ws.Subprotocol())
	}
	id := url[strings.LastIndex(url, "/")+1:]
	ep := endpoint.New(ws, endpoint.Options{ChargePointID: id, Catalog: set, CallTimeout: 5 * time.Second})
	if set.Known("Reset") {
		if err := ep.Register("Reset", func(ctx context.Context, call *message.Call) (any, error) {
			return ocpp16.ResetConfirmation{Status: "Accepted"}, nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	cp := &chargePoint{ep: ep, ws: ws, done: make(chan error, 1)}
	go func() { cp.done <- ep.Run(context.Background()) }()
	t.Cleanup(func() { _ = ep.Close() })
	return cp
}

func (cp *chargePoint) waitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-cp.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("charge point endpoint did not stop")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBootAndRemoteCall(t *testing.T) {
	hub := newHub(t, Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	cp := connect(t, wsURL(srv.URL, "CP-1"))

	var conf ocpp16.BootNotificationConfirmation
	err := cp.ep.Call(context.Background(), "BootNotification",
		ocpp16.BootNotificationRequest{ChargePointVendor: "VendorX", ChargePointModel: "ModelY"}, &conf)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Status != ocpp16.RegistrationAccepted {
		t.Fatalf("unexpected confirmation %+v", conf)
	}

	if got := hub.ChargePoints(); len(got) != 1 || got[0] != "CP-1" {
		t.Fatalf("expect [CP-1], got %v", got)
	}

	// CSMS-initiated call travels the same connection in the other direction.
	var reset ocpp16.ResetConfirmation
	if err := hub.Call(context.Background(), "CP-1", "Reset", ocpp16.ResetRequest{Type: "Soft"}, &reset); err != nil {
		t.Fatal(err)
	}
	if reset.Status != "Accepted" {
		t.Fatalf("unexpected reset status %q", reset.Status)
	}

	if err := hub.Call(context.Background(), "CP-2", "Reset", ocpp16.ResetRequest{Type: "Soft"}, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expect ErrNotConnected, got %v", err)
	}

	_ = cp.ep.Close()
	cp.waitDone(t)
	eventually(t, "charge point to detach", func() bool { return len(hub.ChargePoints()) == 0 })
}

func TestSubprotocolNegotiation(t *testing.T) {
	hub := newHub(t, Options{Setup: func(*endpoint.Endpoint) error { return nil }})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	cp := connect(t, wsURL(srv.URL, "CP-new"), catalog.OCPP16, catalog.OCPP201)
	if got := cp.ws.Subprotocol(); got != catalog.OCPP201 {
		t.Fatalf("expect newest common version %s, got %s", catalog.OCPP201, got)
	}

	old := newHub(t, Options{Subprotocols: []string{catalog.OCPP16}})
	oldSrv := httptest.NewServer(old)
	defer oldSrv.Close()
	defer old.Shutdown(context.Background())

	cp = connect(t, wsURL(oldSrv.URL, "CP-old"), catalog.OCPP201, catalog.OCPP16)
	if got := cp.ws.Subprotocol(); got != catalog.OCPP16 {
		t.Fatalf("expect %s, got %s", catalog.OCPP16, got)
	}

	_, err := transport.DialWebSocket(context.Background(), wsURL(srv.URL, "CP-x"), []string{"ocpp1.5"}, transport.WebSocketOptions{})
	if err == nil {
		t.Fatal("dial without a common subprotocol should fail")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expect a 400 handshake failure, got %v", err)
	}
}

func TestNewHubRejectsUnknownVersion(t *testing.T) {
	if _, err := NewHub(Options{Catalog: catalog.MustStandard(), Subprotocols: []string{"ocpp9"}}); !errors.Is(err, catalog.ErrUnknownVersion) {
		t.Fatalf("expect ErrUnknownVersion, got %v", err)
	}
	if _, err := NewHub(Options{}); err == nil {
		t.Fatal("hub without a catalog should fail")
	}
}

func TestBadPath(t *testing.T) {
	hub := newHub(t, Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	for _, path := range []string{"/ocpp/", "/ocpp/a/b", "/other/CP-1"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expect 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestSetupErrorRejectsConnection(t *testing.T) {
	hub := newHub(t, Options{Setup: func(*endpoint.Endpoint) error { return errors.New("no handlers today") }})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	cp := connect(t, wsURL(srv.URL, "CP-1"))
	if err := cp.waitDone(t); err == nil {
		t.Fatal("expect the charge point to see the connection drop")
	}
	if n := len(hub.ChargePoints()); n != 0 {
		t.Fatalf("expect no attached charge points, got %d", n)
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	hub := newHub(t, Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	first := connect(t, wsURL(srv.URL, "CP-1"))
	eventually(t, "first connection", func() bool { _, ok := hub.Endpoint("CP-1"); return ok })
	firstEp, _ := hub.Endpoint("CP-1")

	second := connect(t, wsURL(srv.URL, "CP-1"))
	eventually(t, "replacement", func() bool {
		ep, ok := hub.Endpoint("CP-1")
		return ok && ep != firstEp
	})

	// The hub closed the stale connection.
	first.waitDone(t)

	var conf ocpp16.HeartbeatConfirmation
	if err := second.ep.Call(context.Background(), "Heartbeat", ocpp16.HeartbeatRequest{}, &conf); err != nil {
		t.Fatalf("second connection should still work: %v", err)
	}
	if got := hub.ChargePoints(); len(got) != 1 {
		t.Fatalf("expect one charge point, got %v", got)
	}
}

func TestCollectors(t *testing.T) {
	hub := newHub(t, Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	collectors := hub.Collectors()
	if v := testutil.ToFloat64(collectors[0]); v != 0 {
		t.Fatalf("expect 0 connected, got %v", v)
	}
	connect(t, wsURL(srv.URL, "CP-1"))
	eventually(t, "connected gauge", func() bool { return testutil.ToFloat64(collectors[0]) == 1 })
	if v := testutil.ToFloat64(collectors[1]); v != 0 {
		t.Fatalf("expect no pending calls, got %v", v)
	}
}

// TestServeAndShutdown 完整链路: Serve → Registry → charge point → Shutdown → Deregister
func TestServeAndShutdown(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	hub := newHub(t, Options{Registry: reg, Cluster: "csms", Node: registry.Node{Weight: 10}, RegistryTTL: 10})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- hub.Serve(l) }()

	var node registry.Node
	eventually(t, "node registration", func() bool {
		nodes, _ := reg.Discover(context.Background(), "csms")
		if len(nodes) == 1 {
			node = nodes[0]
			return true
		}
		return false
	})
	if !node.Supports(catalog.OCPP16) || !node.Supports(catalog.OCPP201) {
		t.Fatalf("node should advertise both versions, got %v", node.Subprotocols)
	}

	cp := connect(t, node.Addr+"CP-1")
	var conf ocpp16.HeartbeatConfirmation
	if err := cp.ep.Call(context.Background(), "Heartbeat", ocpp16.HeartbeatRequest{}, &conf); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hub.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-served; err != nil {
		t.Fatalf("Serve should return nil after Shutdown, got %v", err)
	}
	cp.waitDone(t)

	if nodes, _ := reg.Discover(context.Background(), "csms"); len(nodes) != 0 {
		t.Fatalf("node should be deregistered, got %v", nodes)
	}
	if err := hub.Serve(l); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expect ErrShutdown, got %v", err)
	}
}
