package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ocpp-rpc/message"
)

// Failures returned to the local caller of Send. None of them is ever put on the wire.
var (
	ErrPipelineFull       = errors.New("another call is still pending on this connection")
	ErrDuplicateMessageID = errors.New("message id is already pending")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrTimeout            = errors.New("call timed out")
	ErrUnmatchedResponse  = errors.New("response does not match any pending call")
	ErrUnknownAction      = errors.New("action is not in the catalog")
)

// TimeoutError resolves a call whose response did not arrive before its deadline.
type TimeoutError struct {
	Action    string
	MessageID string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: no response after %s", e.Action, e.MessageID, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError resolves a call the peer answered with a CallError.
type RemoteError struct {
	Action      string
	MessageID   string
	Code        message.ErrorCode
	Description string
	Details     json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s failed on peer: %s: %s", e.Action, e.MessageID, e.Code, e.Description)
}

// ProtocolViolationError resolves a call whose CallResult payload does not match the
// response shape of the action.
type ProtocolViolationError struct {
	Action    string
	MessageID string
	Err       error
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("%s %s: protocol violation: %v", e.Action, e.MessageID, e.Err)
}

func (e *ProtocolViolationError) Unwrap() error { return e.Err }
