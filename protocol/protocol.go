// Package protocol implements the OCPP-J frame codec.
//
// A frame is a JSON text message holding a positional array. The first element
// selects the frame kind and therefore the arity:
//
//	 type  arity  layout
//	┌─────┬──────┬──────────────────────────────────────────────┐
//	│  2  │  4   │ [2, messageId, action, payload]               │
//	│  3  │  3   │ [3, messageId, payload]                       │
//	│  4  │  5   │ [4, messageId, errorCode, description, details]│
//	└─────┴──────┴──────────────────────────────────────────────┘
//
// Decoding only validates the framing. Payloads are left as raw JSON and are checked
// against the message catalog by the layers above.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"ocpp-rpc/message"
)

var (
	// ErrNotRPCFrameworkCompliant: the text is not a JSON array or has no integer type id.
	ErrNotRPCFrameworkCompliant = errors.New("frame is not RPC framework compliant")
	// ErrMalformedFrame: the type id is valid but the array shape does not match it.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnsupportedMessageType: the type id is not 2, 3 or 4.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
)

// DecodeError describes why a raw frame was rejected.
// MessageID and MessageType are filled in when they could be read before the failure.
type DecodeError struct {
	Err         error
	MessageType message.MessageType
	MessageID   string
	Reason      string
}

func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrorCode is the code used when the failure is reported to the peer.
func (e *DecodeError) ErrorCode() message.ErrorCode {
	switch {
	case errors.Is(e.Err, ErrNotRPCFrameworkCompliant):
		return message.RpcFrameworkError
	case errors.Is(e.Err, ErrMalformedFrame):
		return message.FormatViolation
	case errors.Is(e.Err, ErrUnsupportedMessageType):
		return message.MessageTypeNotSupported
	default:
		return message.GenericError
	}
}

// ActionLookup reports whether the catalog knows an action.
type ActionLookup func(action string) bool

// Decoder decodes frames and tags Calls whose action is unknown to the catalog.
type Decoder struct {
	known ActionLookup
}

// NewDecoder returns a decoder using known to classify actions.
// A nil lookup treats every action as known.
func NewDecoder(known ActionLookup) *Decoder {
	return &Decoder{known: known}
}

// Decode parses raw and tags unknown actions.
func (d *Decoder) Decode(raw []byte) (message.Frame, error) {
	frame, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if call, ok := frame.(*message.Call); ok && d.known != nil {
		call.UnknownAction = !d.known(call.Action)
	}
	return frame, nil
}

// Decode parses one raw frame without consulting any catalog.
func Decode(raw []byte) (message.Frame, error) {
	// Step 1: the frame must be a JSON array
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &DecodeError{Err: ErrNotRPCFrameworkCompliant, Reason: "not a JSON array"}
	}
	if len(elems) == 0 {
		return nil, &DecodeError{Err: ErrNotRPCFrameworkCompliant, Reason: "empty array"}
	}

	// Step 2: the first element must be an integer type id
	var typeID int
	if err := json.Unmarshal(elems[0], &typeID); err != nil {
		return nil, &DecodeError{Err: ErrNotRPCFrameworkCompliant, Reason: "message type id is not an integer"}
	}
	typ := message.MessageType(typeID)

	// Step 3: recover the message id early so that errors can reference it
	var id string
	if len(elems) > 1 {
		_ = json.Unmarshal(elems[1], &id)
	}

	// Step 4: the type id selects the arity
	var arity int
	switch typ {
	case message.MessageTypeCall:
		arity = 4
	case message.MessageTypeCallResult:
		arity = 3
	case message.MessageTypeCallError:
		arity = 5
	default:
		return nil, &DecodeError{
			Err:         ErrUnsupportedMessageType,
			MessageType: typ,
			MessageID:   id,
			Reason:      fmt.Sprintf("message type id %d", typeID),
		}
	}
	if len(elems) != arity {
		return nil, malformed(typ, id, "%s needs %d elements, got %d", typ, arity, len(elems))
	}

	// Step 5: validate the message id
	if err := json.Unmarshal(elems[1], &id); err != nil {
		return nil, malformed(typ, "", "message id is not a string")
	}
	if id == "" {
		return nil, malformed(typ, "", "message id is empty")
	}
	if len(id) > message.MaxMessageIDLength {
		return nil, malformed(typ, id, "message id longer than %d characters", message.MaxMessageIDLength)
	}

	// Step 6: type specific fields
	switch typ {
	case message.MessageTypeCall:
		var action string
		if err := json.Unmarshal(elems[2], &action); err != nil || action == "" {
			return nil, malformed(typ, id, "action is not a non-empty string")
		}
		return &message.Call{UniqueID: id, Action: action, Payload: elems[3]}, nil

	case message.MessageTypeCallResult:
		return &message.CallResult{UniqueID: id, Payload: elems[2]}, nil

	default:
		var code, description string
		if err := json.Unmarshal(elems[2], &code); err != nil {
			return nil, malformed(typ, id, "error code is not a string")
		}
		if err := json.Unmarshal(elems[3], &description); err != nil {
			return nil, malformed(typ, id, "error description is not a string")
		}
		return &message.CallError{
			UniqueID:         id,
			ErrorCode:        message.ParseErrorCode(code),
			ErrorDescription: description,
			ErrorDetails:     elems[4],
		}, nil
	}
}

func malformed(typ message.MessageType, id, format string, args ...any) *DecodeError {
	return &DecodeError{
		Err:         ErrMalformedFrame,
		MessageType: typ,
		MessageID:   id,
		Reason:      fmt.Sprintf(format, args...),
	}
}

var emptyObject = json.RawMessage(`{}`)

// Encode serializes a frame into its positional array form.
// Missing payloads and error details are written as {}.
func Encode(frame message.Frame) ([]byte, error) {
	var elems []any
	switch f := frame.(type) {
	case *message.Call:
		elems = []any{message.MessageTypeCall, f.UniqueID, f.Action, orEmpty(f.Payload)}
	case *message.CallResult:
		elems = []any{message.MessageTypeCallResult, f.UniqueID, orEmpty(f.Payload)}
	case *message.CallError:
		elems = []any{message.MessageTypeCallError, f.UniqueID, string(f.ErrorCode), f.ErrorDescription, orEmpty(f.ErrorDetails)}
	default:
		return nil, fmt.Errorf("protocol: cannot encode frame of type %T", frame)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(elems); err != nil {
		return nil, fmt.Errorf("protocol: encode %s %s: %w", frame.MessageType(), frame.MessageID(), err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return emptyObject
	}
	return raw
}
