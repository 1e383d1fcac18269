package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ocpp-rpc/message"
)

// FieldViolation is one failed schema constraint.
type FieldViolation struct {
	Field   string            `json:"field"`   // JSON pointer into the payload, "" for the root
	Keyword string            `json:"keyword"` // Schema keyword that failed, e.g. "maxLength"
	Message string            `json:"message"`
	Code    message.ErrorCode `json:"code"`
}

// ViolationError reports that a payload does not satisfy its action's schema.
type ViolationError struct {
	Action     string
	Kind       PayloadKind
	Violations []FieldViolation
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		field := v.Field
		if field == "" {
			field = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", field, v.Message))
	}
	return fmt.Sprintf("%s %s payload invalid: %s", e.Action, e.Kind, strings.Join(parts, "; "))
}

// Severity order used to pick a single code for a payload with several violations.
// A present but wrong value is reported before a missing one.
var codePrecedence = []message.ErrorCode{
	message.TypeConstraintViolation,
	message.PropertyConstraintViolation,
	message.OccurrenceConstraintViolation,
}

// ErrorCode returns the CallError code that best describes the violations.
func (e *ViolationError) ErrorCode() message.ErrorCode {
	for _, code := range codePrecedence {
		for _, v := range e.Violations {
			if v.Code == code {
				return code
			}
		}
	}
	// A payload that is not JSON at all carries a single syntax violation.
	if len(e.Violations) > 0 && e.Violations[0].Code.IsKnown() {
		return e.Violations[0].Code
	}
	return message.PropertyConstraintViolation
}

// Details renders the violations as CallError details.
func (e *ViolationError) Details() json.RawMessage {
	data, err := json.Marshal(struct {
		Violations []FieldViolation `json:"violations"`
	}{e.Violations})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

func collectViolations(ve *jsonschema.ValidationError, out []FieldViolation) []FieldViolation {
	if len(ve.Causes) == 0 {
		keyword := lastSegment(ve.KeywordLocation)
		return append(out, FieldViolation{
			Field:   ve.InstanceLocation,
			Keyword: keyword,
			Message: ve.Message,
			Code:    codeForKeyword(keyword),
		})
	}
	for _, cause := range ve.Causes {
		out = collectViolations(cause, out)
	}
	return out
}

func codeForKeyword(keyword string) message.ErrorCode {
	switch keyword {
	case "required", "minItems", "maxItems", "minProperties", "maxProperties", "dependencies", "dependentRequired":
		return message.OccurrenceConstraintViolation
	case "type":
		return message.TypeConstraintViolation
	default:
		return message.PropertyConstraintViolation
	}
}

func lastSegment(location string) string {
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}
