package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"ocpp-rpc/message"
)

var ErrUnknownAction = errors.New("action is not in the catalog")

// ErrorKind classifies a handler failure. Each kind is answered with exactly one error code.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotImplemented
	KindNotSupported
	KindProtocol
	KindSecurity
	KindFormat
	KindPropertyConstraint
	KindOccurrenceConstraint
	KindTypeConstraint
	KindGeneric
)

var kindCodes = map[ErrorKind]message.ErrorCode{
	KindInternal:             message.InternalError,
	KindNotImplemented:       message.NotImplemented,
	KindNotSupported:         message.NotSupported,
	KindProtocol:             message.ProtocolError,
	KindSecurity:             message.SecurityError,
	KindFormat:               message.FormatViolation,
	KindPropertyConstraint:   message.PropertyConstraintViolation,
	KindOccurrenceConstraint: message.OccurrenceConstraintViolation,
	KindTypeConstraint:       message.TypeConstraintViolation,
	KindGeneric:              message.GenericError,
}

// Code returns the error code sent for k. Unknown kinds are internal errors.
func (k ErrorKind) Code() message.ErrorCode {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return message.InternalError
}

func (k ErrorKind) String() string { return string(k.Code()) }

// DispatchError is the failure a handler returns to choose the CallError sent back.
type DispatchError struct {
	Kind        ErrorKind
	Description string
	Details     any // marshalled into error_details; nil sends {}
}

func (e *DispatchError) Error() string {
	if e.Description == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// NewError builds a DispatchError.
func NewError(kind ErrorKind, description string, details any) *DispatchError {
	return &DispatchError{Kind: kind, Description: description, Details: details}
}

func (e *DispatchError) toCallError(id string) *message.CallError {
	var details json.RawMessage
	if e.Details != nil {
		if b, err := json.Marshal(e.Details); err == nil {
			details = b
		}
	}
	return message.NewCallError(id, e.Kind.Code(), e.Description, details)
}
