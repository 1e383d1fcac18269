package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ocpp-rpc/catalog"
	"ocpp-rpc/catalog/ocpp16"
	"ocpp-rpc/endpoint"
	"ocpp-rpc/message"
	"ocpp-rpc/server"
)

// centralSystem answers the OCPP 1.6 core profile actions a charge point sends.
type centralSystem struct {
	chargePoint       string
	heartbeatInterval time.Duration
	logger            *slog.Logger
	txs               *transactions
}

// transactions hands out transaction ids for the whole node.
type transactions struct {
	mu     sync.Mutex
	nextID int
	open   map[int]string // transaction id → charge point
}

func newTransactions() *transactions {
	return &transactions{nextID: 1, open: make(map[int]string)}
}

func (t *transactions) start(chargePoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.open[id] = chargePoint
	return id
}

func (t *transactions) stop(chargePoint string, id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open[id] != chargePoint {
		return false
	}
	delete(t.open, id)
	return true
}

func (cs *centralSystem) BootNotification(ctx context.Context, req *ocpp16.BootNotificationRequest) (*ocpp16.BootNotificationConfirmation, error) {
	cs.logger.Info("boot notification", "charge_point", cs.chargePoint, "vendor", req.ChargePointVendor, "model", req.ChargePointModel)
	return &ocpp16.BootNotificationConfirmation{
		Status:      ocpp16.RegistrationAccepted,
		CurrentTime: time.Now().UTC(),
		Interval:    int(cs.heartbeatInterval / time.Second),
	}, nil
}

func (cs *centralSystem) Heartbeat(ctx context.Context, req *ocpp16.HeartbeatRequest) (*ocpp16.HeartbeatConfirmation, error) {
	return &ocpp16.HeartbeatConfirmation{CurrentTime: time.Now().UTC()}, nil
}

func (cs *centralSystem) Authorize(ctx context.Context, req *ocpp16.AuthorizeRequest) (*ocpp16.AuthorizeConfirmation, error) {
	return &ocpp16.AuthorizeConfirmation{IdTagInfo: ocpp16.IdTagInfo{Status: ocpp16.AuthorizationAccepted}}, nil
}

func (cs *centralSystem) StatusNotification(ctx context.Context, req *ocpp16.StatusNotificationRequest) (*ocpp16.StatusNotificationConfirmation, error) {
	cs.logger.Info("status notification", "charge_point", cs.chargePoint, "connector", req.ConnectorId, "status", req.Status, "error_code", req.ErrorCode)
	return &ocpp16.StatusNotificationConfirmation{}, nil
}

func (cs *centralSystem) StartTransaction(ctx context.Context, req *ocpp16.StartTransactionRequest) (*ocpp16.StartTransactionConfirmation, error) {
	id := cs.txs.start(cs.chargePoint)
	cs.logger.Info("transaction started", "charge_point", cs.chargePoint, "transaction", id, "connector", req.ConnectorId)
	return &ocpp16.StartTransactionConfirmation{
		IdTagInfo:     ocpp16.IdTagInfo{Status: ocpp16.AuthorizationAccepted},
		TransactionId: id,
	}, nil
}

func (cs *centralSystem) StopTransaction(ctx context.Context, req *ocpp16.StopTransactionRequest) (*ocpp16.StopTransactionConfirmation, error) {
	if !cs.txs.stop(cs.chargePoint, req.TransactionId) {
		return nil, server.NewError(server.KindPropertyConstraint,
			fmt.Sprintf("unknown transaction %d", req.TransactionId), nil)
	}
	cs.logger.Info("transaction stopped", "charge_point", cs.chargePoint, "transaction", req.TransactionId, "meter_stop", req.MeterStop)
	return &ocpp16.StopTransactionConfirmation{}, nil
}

func (cs *centralSystem) DataTransfer(ctx context.Context, req *ocpp16.DataTransferRequest) (*ocpp16.DataTransferConfirmation, error) {
	return &ocpp16.DataTransferConfirmation{Status: "UnknownVendorId"}, nil
}

// setupFunc registers the CSMS handlers on a freshly accepted connection.
func setupFunc(heartbeat time.Duration, logger *slog.Logger, txs *transactions) func(ep *endpoint.Endpoint) error {
	return func(ep *endpoint.Endpoint) error {
		if ep.Subprotocol() == catalog.OCPP201 {
			return register201(ep, heartbeat)
		}
		return ep.RegisterService(&centralSystem{
			chargePoint:       ep.ID(),
			heartbeatInterval: heartbeat,
			logger:            logger,
			txs:               txs,
		})
	}
}

// register201 binds the OCPP 2.0.1 actions. Payloads are untyped maps; the catalog
// checks their shape on the way in and out.
func register201(ep *endpoint.Endpoint, heartbeat time.Duration) error {
	now := func() string { return time.Now().UTC().Format(time.RFC3339) }
	handlers := map[string]func(context.Context, *message.Call) (any, error){
		"BootNotification": func(context.Context, *message.Call) (any, error) {
			return map[string]any{"currentTime": now(), "interval": int(heartbeat / time.Second), "status": "Accepted"}, nil
		},
		"Heartbeat": func(context.Context, *message.Call) (any, error) {
			return map[string]any{"currentTime": now()}, nil
		},
		"StatusNotification": func(context.Context, *message.Call) (any, error) {
			return struct{}{}, nil
		},
		"Authorize": func(context.Context, *message.Call) (any, error) {
			return map[string]any{"idTokenInfo": map[string]string{"status": "Accepted"}}, nil
		},
	}
	for action, h := range handlers {
		if err := ep.Register(action, h); err != nil {
			return err
		}
	}
	return nil
}
