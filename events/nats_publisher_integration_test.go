package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestServer starts an in-process NATS server on a random port.
func startTestServer(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   natsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("events:nats_publisher_integration_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:nats_publisher_integration_test - server failed to start")
	}

	nc, err := Connect(ns.ClientURL(), "events-test")
	if err != nil {
		ns.Shutdown()
		t.Fatalf("events:nats_publisher_integration_test - failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return nc, cleanup
}

func TestNATSPublisher_SubjectPerKind(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewNATSPublisher(nc, nil)
	if got := publisher.Subject(KindCallTimeout); got != "ocpp.events.call.timeout" {
		t.Fatalf("events:nats_publisher_integration_test - unexpected subject %q", got)
	}

	received := make(chan *Event, 1)
	sub, err := nc.Subscribe("ocpp.events.>", func(msg *nats.Msg) {
		if msg.Subject != "ocpp.events.call.timeout" {
			t.Errorf("events:nats_publisher_integration_test - unexpected subject %s", msg.Subject)
			return
		}
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("events:nats_publisher_integration_test - failed to unmarshal: %v", err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("events:nats_publisher_integration_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	event := &Event{
		Kind:          KindCallTimeout,
		ChargePointID: "CP-7",
		MessageID:     "01J0000000000000000000000",
		Action:        "Heartbeat",
		Timestamp:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("events:nats_publisher_integration_test - publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.ChargePointID != "CP-7" || got.Action != "Heartbeat" || got.Kind != KindCallTimeout {
			t.Fatalf("events:nats_publisher_integration_test - unexpected event %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:nats_publisher_integration_test - timed out waiting for event")
	}
}

func TestNATSPublisher_CustomPrefix(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	publisher := NewNATSPublisher(nc, &NATSPublisherOpts{SubjectPrefix: "csms.eu1"})

	sub, err := nc.SubscribeSync("csms.eu1.connected")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	if err := publisher.Publish(context.Background(), &Event{Kind: KindConnected, ChargePointID: "CP-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := sub.NextMsg(5 * time.Second); err != nil {
		t.Fatalf("events:nats_publisher_integration_test - no message on custom subject: %v", err)
	}
}
