package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONCodec uses encoding/json and tolerates fields it does not know about.
// Payloads already in raw form are passed through after a validity check.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) (json.RawMessage, error) {
	return encode(v)
}

func (c *JSONCodec) Decode(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

// StrictJSONCodec rejects payloads carrying fields the target struct does not declare.
type StrictJSONCodec struct{}

func (c *StrictJSONCodec) Encode(v any) (json.RawMessage, error) {
	return encode(v)
}

func (c *StrictJSONCodec) Decode(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("codec: trailing data after payload")
	}
	return nil
}

func (c *StrictJSONCodec) Type() CodecType {
	return CodecTypeStrictJSON
}

func encode(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("codec: raw payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("codec: raw payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	return json.Marshal(v)
}
