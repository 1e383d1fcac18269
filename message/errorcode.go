package message

// ErrorCode is the error token carried by a CallError.
//
// Codes received from a peer are kept verbatim even when they are not members of the
// set below. Codes produced locally are always members.
type ErrorCode string

const (
	FormatViolation               ErrorCode = "FormatViolation"
	GenericError                  ErrorCode = "GenericError"
	InternalError                 ErrorCode = "InternalError"
	MessageTypeNotSupported       ErrorCode = "MessageTypeNotSupported"
	NotImplemented                ErrorCode = "NotImplemented"
	NotSupported                  ErrorCode = "NotSupported"
	OccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	PropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ProtocolError                 ErrorCode = "ProtocolError"
	RpcFrameworkError             ErrorCode = "RpcFrameworkError"
	SecurityError                 ErrorCode = "SecurityError"
	TypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
)

var descriptions = map[ErrorCode]string{
	FormatViolation:               "Payload for Action is syntactically incorrect",
	GenericError:                  "Any other error not covered by the more specific error codes",
	InternalError:                 "An internal error occurred and the receiver was not able to process the requested Action successfully",
	MessageTypeNotSupported:       "A message with a Message Type Number received that is not supported by this implementation",
	NotImplemented:                "Requested Action is not known by receiver",
	NotSupported:                  "Requested Action is recognized but not supported by the receiver",
	OccurrenceConstraintViolation: "Payload for Action is syntactically correct but at least one of the fields violates occurrence constraints",
	PropertyConstraintViolation:   "Payload is syntactically correct but at least one field contains an invalid value",
	ProtocolError:                 "Payload for Action is not conform the PDU structure",
	RpcFrameworkError:             "Content of the call is not a valid RPC Request, for example: MessageId could not be read",
	SecurityError:                 "During the processing of Action a security issue occurred preventing receiver from completing the Action successfully",
	TypeConstraintViolation:       "Payload for Action is syntactically correct but at least one of the fields violates data type constraints",
}

// OCPP 1.6 spellings of two codes that were renamed in 2.0.
var legacyCodes = map[string]ErrorCode{
	"FormationViolation":           FormatViolation,
	"OccurenceConstraintViolation": OccurrenceConstraintViolation,
}

// IsKnown reports whether c is a member of the closed error code set.
func (c ErrorCode) IsKnown() bool {
	_, ok := descriptions[c]
	return ok
}

// Description returns the fixed human readable text for c, or the GenericError text
// for codes outside the set.
func (c ErrorCode) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return descriptions[GenericError]
}

// ParseErrorCode maps a wire token to an ErrorCode. Legacy OCPP 1.6 spellings are
// normalized; any other unknown token is returned unchanged.
func ParseErrorCode(token string) ErrorCode {
	if c, ok := legacyCodes[token]; ok {
		return c
	}
	return ErrorCode(token)
}

// OrGeneric returns c when it is a known member and GenericError otherwise.
func (c ErrorCode) OrGeneric() ErrorCode {
	if c.IsKnown() {
		return c
	}
	return GenericError
}

// ErrorCodes lists every member of the closed set.
func ErrorCodes() []ErrorCode {
	return []ErrorCode{
		FormatViolation,
		GenericError,
		InternalError,
		MessageTypeNotSupported,
		NotImplemented,
		NotSupported,
		OccurrenceConstraintViolation,
		PropertyConstraintViolation,
		ProtocolError,
		RpcFrameworkError,
		SecurityError,
		TypeConstraintViolation,
	}
}
