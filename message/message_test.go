package message

import "testing"

func TestFrameKinds(t *testing.T) {
	frames := []struct {
		frame Frame
		typ   MessageType
		id    string
	}{
		{&Call{UniqueID: "1", Action: "Heartbeat"}, MessageTypeCall, "1"},
		{&CallResult{UniqueID: "2"}, MessageTypeCallResult, "2"},
		{&CallError{UniqueID: "3", ErrorCode: GenericError}, MessageTypeCallError, "3"},
	}

	for _, tc := range frames {
		if tc.frame.MessageType() != tc.typ {
			t.Errorf("expect type %v, got %v", tc.typ, tc.frame.MessageType())
		}
		if tc.frame.MessageID() != tc.id {
			t.Errorf("expect id %s, got %s", tc.id, tc.frame.MessageID())
		}
	}
}

func TestNewCallErrorDefaultsDescription(t *testing.T) {
	e := NewCallError("42", NotImplemented, "", nil)
	if e.ErrorDescription != NotImplemented.Description() {
		t.Fatalf("expect default description, got %q", e.ErrorDescription)
	}

	e = NewCallError("42", NotImplemented, "no such action", nil)
	if e.ErrorDescription != "no such action" {
		t.Fatalf("expect custom description, got %q", e.ErrorDescription)
	}
}

func TestErrorCodes(t *testing.T) {
	codes := ErrorCodes()
	if len(codes) != 12 {
		t.Fatalf("expect 12 error codes, got %d", len(codes))
	}
	for _, c := range codes {
		if !c.IsKnown() {
			t.Errorf("%s should be known", c)
		}
		if c.Description() == "" {
			t.Errorf("%s has no description", c)
		}
	}
}

func TestParseErrorCode(t *testing.T) {
	cases := []struct {
		token string
		want  ErrorCode
		known bool
	}{
		{"NotSupported", NotSupported, true},
		{"FormationViolation", FormatViolation, true},
		{"OccurenceConstraintViolation", OccurrenceConstraintViolation, true},
		{"VendorSpecificFailure", ErrorCode("VendorSpecificFailure"), false},
	}

	for _, tc := range cases {
		got := ParseErrorCode(tc.token)
		if got != tc.want {
			t.Errorf("ParseErrorCode(%q) = %q, want %q", tc.token, got, tc.want)
		}
		if got.IsKnown() != tc.known {
			t.Errorf("%q known = %v, want %v", got, got.IsKnown(), tc.known)
		}
	}

	if ErrorCode("Bogus").OrGeneric() != GenericError {
		t.Fatal("unknown code should fall back to GenericError")
	}
	if ErrorCode("Bogus").Description() != GenericError.Description() {
		t.Fatal("unknown code should use the GenericError description")
	}
}
