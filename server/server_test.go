package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ocpp-rpc/catalog"
	"ocpp-rpc/catalog/ocpp16"
	"ocpp-rpc/message"
	"ocpp-rpc/middleware"
)

type CentralSystem struct {
	boots int
}

func (cs *CentralSystem) BootNotification(ctx context.Context, req *ocpp16.BootNotificationRequest) (*ocpp16.BootNotificationConfirmation, error) {
	cs.boots++
	return &ocpp16.BootNotificationConfirmation{
		Status:      ocpp16.RegistrationAccepted,
		CurrentTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:    300,
	}, nil
}

func (cs *CentralSystem) Heartbeat(ctx context.Context, req *ocpp16.HeartbeatRequest) (*ocpp16.HeartbeatConfirmation, error) {
	return &ocpp16.HeartbeatConfirmation{CurrentTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (cs *CentralSystem) Authorize(ctx context.Context, req *ocpp16.AuthorizeRequest) (*ocpp16.AuthorizeConfirmation, error) {
	if req.IdTag == "stolen" {
		return nil, NewError(KindSecurity, "id tag blocked", map[string]string{"idTag": req.IdTag})
	}
	return nil, errors.New("database unavailable")
}

// Not an action: wrong signature.
func (cs *CentralSystem) Boots() int { return cs.boots }

func newDispatcher(t *testing.T) (*Dispatcher, *CentralSystem) {
	t.Helper()
	set, _ := catalog.MustStandard().Version(catalog.OCPP16)
	d := NewDispatcher(Options{Catalog: set})
	cs := &CentralSystem{}
	if err := d.RegisterService(cs); err != nil {
		t.Fatal(err)
	}
	return d, cs
}

func call(id, action, payload string) *message.Call {
	return &message.Call{UniqueID: id, Action: action, Payload: json.RawMessage(payload)}
}

func expectError(t *testing.T, frame message.Frame, id string, code message.ErrorCode) *message.CallError {
	t.Helper()
	ce, ok := frame.(*message.CallError)
	if !ok {
		t.Fatalf("expect CallError, got %T %+v", frame, frame)
	}
	if ce.UniqueID != id {
		t.Fatalf("expect id %q, got %q", id, ce.UniqueID)
	}
	if ce.ErrorCode != code {
		t.Fatalf("expect %s, got %s (%s)", code, ce.ErrorCode, ce.ErrorDescription)
	}
	return ce
}

func TestRegisterService(t *testing.T) {
	d, _ := newDispatcher(t)
	got := d.Actions()
	want := []string{"Authorize", "BootNotification", "Heartbeat"}
	if len(got) != len(want) {
		t.Fatalf("expect %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, got)
		}
	}

	if err := d.RegisterService(CentralSystem{}); err == nil {
		t.Fatal("non-pointer receiver should be rejected")
	}
	if err := d.Register("FlyToTheMoon", func(context.Context, *message.Call) (any, error) { return nil, nil }); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expect ErrUnknownAction, got %v", err)
	}
}

func TestDispatchSuccess(t *testing.T) {
	d, cs := newDispatcher(t)

	frame := d.Dispatch(context.Background(), call("1", "BootNotification", `{"chargePointVendor":"VendorX","chargePointModel":"ModelY"}`))
	res, ok := frame.(*message.CallResult)
	if !ok {
		t.Fatalf("expect CallResult, got %+v", frame)
	}
	if res.UniqueID != "1" {
		t.Fatalf("expect id 1, got %s", res.UniqueID)
	}

	var conf ocpp16.BootNotificationConfirmation
	if err := json.Unmarshal(res.Payload, &conf); err != nil {
		t.Fatal(err)
	}
	if conf.Status != ocpp16.RegistrationAccepted || conf.Interval != 300 {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if cs.Boots() != 1 {
		t.Fatalf("expect 1 boot, got %d", cs.Boots())
	}
}

func TestDispatchRejectsInvalidRequest(t *testing.T) {
	d, cs := newDispatcher(t)

	frame := d.Dispatch(context.Background(), call("1", "BootNotification", `{"chargePointVendor":""}`))
	ce := expectError(t, frame, "1", message.PropertyConstraintViolation)
	if cs.Boots() != 0 {
		t.Fatal("handler must not run for an invalid request")
	}

	var details struct {
		Violations []catalog.FieldViolation `json:"violations"`
	}
	if err := json.Unmarshal(ce.ErrorDetails, &details); err != nil {
		t.Fatal(err)
	}
	if len(details.Violations) == 0 {
		t.Fatal("expect violations in error details")
	}
}

func TestDispatchUnknownAndUnsupported(t *testing.T) {
	d, _ := newDispatcher(t)

	unknown := call("2", "FlyToTheMoon", `{}`)
	unknown.UnknownAction = true
	expectError(t, d.Dispatch(context.Background(), unknown), "2", message.NotImplemented)

	// Known to the catalog, but nobody registered a handler.
	expectError(t, d.Dispatch(context.Background(), call("3", "Reset", `{"type":"Hard"}`)), "3", message.NotSupported)
}

func TestDispatchHandlerErrors(t *testing.T) {
	d, _ := newDispatcher(t)

	ce := expectError(t, d.Dispatch(context.Background(), call("4", "Authorize", `{"idTag":"stolen"}`)), "4", message.SecurityError)
	if ce.ErrorDescription != "id tag blocked" {
		t.Fatalf("unexpected description %q", ce.ErrorDescription)
	}
	if string(ce.ErrorDetails) != `{"idTag":"stolen"}` {
		t.Fatalf("unexpected details %s", ce.ErrorDetails)
	}

	expectError(t, d.Dispatch(context.Background(), call("5", "Authorize", `{"idTag":"ok"}`)), "5", message.InternalError)
}

func TestDispatchRecoversPanics(t *testing.T) {
	d, _ := newDispatcher(t)
	if err := d.Register("Heartbeat", func(context.Context, *message.Call) (any, error) {
		panic("nil map")
	}); err != nil {
		t.Fatal(err)
	}

	expectError(t, d.Dispatch(context.Background(), call("6", "Heartbeat", `{}`)), "6", message.InternalError)
}

func TestDispatchRecoversPanicsBehindTimeout(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Use(middleware.TimeOutMiddleware(time.Second))
	if err := d.Register("Heartbeat", func(context.Context, *message.Call) (any, error) {
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}

	expectError(t, d.Dispatch(context.Background(), call("6", "Heartbeat", `{}`)), "6", message.InternalError)
}

type explodingResult struct{}

func (explodingResult) MarshalJSON() ([]byte, error) { panic("marshal boom") }

func TestDispatchRecoversEncodePanics(t *testing.T) {
	d, _ := newDispatcher(t)
	if err := d.Register("Heartbeat", func(context.Context, *message.Call) (any, error) {
		return explodingResult{}, nil
	}); err != nil {
		t.Fatal(err)
	}

	expectError(t, d.Dispatch(context.Background(), call("7", "Heartbeat", `{}`)), "7", message.InternalError)
}

func TestDispatchInvalidResponse(t *testing.T) {
	d, _ := newDispatcher(t)
	if err := d.Register("Heartbeat", func(context.Context, *message.Call) (any, error) {
		return map[string]string{"currentTime": "not a time"}, nil
	}); err != nil {
		t.Fatal(err)
	}
	expectError(t, d.Dispatch(context.Background(), call("7", "Heartbeat", `{}`)), "7", message.InternalError)

	if err := d.Register("Heartbeat", func(context.Context, *message.Call) (any, error) {
		return func() {}, nil
	}); err != nil {
		t.Fatal(err)
	}
	expectError(t, d.Dispatch(context.Background(), call("8", "Heartbeat", `{}`)), "8", message.InternalError)
}

func TestDispatchMiddleware(t *testing.T) {
	d, _ := newDispatcher(t)
	d.Use(middleware.LoggingMiddleware(nil))
	d.Use(middleware.RateLimitMiddleware(0.001, 1))

	if _, ok := d.Dispatch(context.Background(), call("9", "Heartbeat", `{}`)).(*message.CallResult); !ok {
		t.Fatal("first call should pass the limiter")
	}
	expectError(t, d.Dispatch(context.Background(), call("10", "Heartbeat", `{}`)), "10", message.GenericError)
}

func TestDispatchWithoutCatalog(t *testing.T) {
	d := NewDispatcher(Options{})
	if err := d.Register("Custom", func(ctx context.Context, c *message.Call) (any, error) {
		return map[string]int{"n": 1}, nil
	}); err != nil {
		t.Fatal(err)
	}
	res, ok := d.Dispatch(context.Background(), call("11", "Custom", `{}`)).(*message.CallResult)
	if !ok || string(res.Payload) != `{"n":1}` {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestErrorKindsAreTotal(t *testing.T) {
	seen := make(map[message.ErrorCode]ErrorKind)
	for kind := KindInternal; kind <= KindGeneric; kind++ {
		code := kind.Code()
		if !code.IsKnown() {
			t.Fatalf("kind %d maps to unknown code %q", kind, code)
		}
		if prev, dup := seen[code]; dup {
			t.Fatalf("kinds %d and %d share code %s", prev, kind, code)
		}
		seen[code] = kind
	}
	if ErrorKind(99).Code() != message.InternalError {
		t.Fatal("unknown kind should fall back to InternalError")
	}
}
