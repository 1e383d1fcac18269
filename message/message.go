// Package message defines the OCPP-J frames exchanged between a charge point and a CSMS.
//
// Every frame is a positional JSON array whose first element is the message type id:
//
//	Call        [2, "<id>", "<action>", {payload}]
//	CallResult  [3, "<id>", {payload}]
//	CallError   [4, "<id>", "<code>", "<description>", {details}]
//
// Payloads stay as raw JSON at this layer. They are bound to a concrete request or
// response shape later, once the action is known.
package message

import "encoding/json"

// MessageType is the first element of every frame.
type MessageType int

const (
	MessageTypeCall       MessageType = 2 // Request
	MessageTypeCallResult MessageType = 3 // Successful response
	MessageTypeCallError  MessageType = 4 // Error response
)

// MaxMessageIDLength is the longest message id accepted on the wire.
const MaxMessageIDLength = 36

func (t MessageType) String() string {
	switch t {
	case MessageTypeCall:
		return "Call"
	case MessageTypeCallResult:
		return "CallResult"
	case MessageTypeCallError:
		return "CallError"
	default:
		return "Unknown"
	}
}

// Frame is implemented by *Call, *CallResult and *CallError.
type Frame interface {
	MessageType() MessageType
	MessageID() string
}

// Call carries a request for Action.
//
// UnknownAction is set by the decoder when the message catalog does not know Action.
// The frame itself is still well formed; the dispatcher answers it with NotImplemented.
type Call struct {
	UniqueID      string
	Action        string
	Payload       json.RawMessage
	UnknownAction bool
}

// CallResult carries the response payload for the Call with the same UniqueID.
type CallResult struct {
	UniqueID string
	Payload  json.RawMessage
}

// CallError reports that the Call with the same UniqueID failed.
type CallError struct {
	UniqueID         string
	ErrorCode        ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

var (
	_ Frame = (*Call)(nil)
	_ Frame = (*CallResult)(nil)
	_ Frame = (*CallError)(nil)
)

func (c *Call) MessageType() MessageType { return MessageTypeCall }
func (c *Call) MessageID() string        { return c.UniqueID }

func (r *CallResult) MessageType() MessageType { return MessageTypeCallResult }
func (r *CallResult) MessageID() string        { return r.UniqueID }

func (e *CallError) MessageType() MessageType { return MessageTypeCallError }
func (e *CallError) MessageID() string        { return e.UniqueID }

// NewCallError builds a CallError whose description defaults to the code's description.
func NewCallError(id string, code ErrorCode, description string, details json.RawMessage) *CallError {
	if description == "" {
		description = code.Description()
	}
	return &CallError{
		UniqueID:         id,
		ErrorCode:        code,
		ErrorDescription: description,
		ErrorDetails:     details,
	}
}
