// Package codec binds raw OCPP payloads to typed request and response values.
//
// Frames keep payloads as raw JSON. Once the action is known, a Codec turns the raw
// payload into the handler's request struct and the handler's response back into raw JSON.
package codec

import "encoding/json"

type CodecType byte

const (
	CodecTypeJSON       CodecType = 0 // Unknown fields are ignored
	CodecTypeStrictJSON CodecType = 1 // Unknown fields are rejected
)

type Codec interface {
	Encode(v any) (json.RawMessage, error)
	Decode(data json.RawMessage, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeStrictJSON {
		return &StrictJSONCodec{}
	}

	return &JSONCodec{}
}
