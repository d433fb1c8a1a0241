package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = json.RawMessage("null")

// Envelope is the {type, data} structure exchanged over the wire in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEnvelope serializes data under msgType.
func EncodeEnvelope(msgType string, data any) ([]byte, error) {
	if msgType == "" {
		return nil, ErrMissingType
	}

	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
		raw = jsonNull
	case json.RawMessage:
		if len(v) == 0 {
			raw = jsonNull
		} else {
			raw = v
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %q data: %w", msgType, err)
		}
		raw = b
	}

	return json.Marshal(Envelope{Type: msgType, Data: raw})
}

// DecodeEnvelope parses a wire frame. Frames that are not JSON objects or
// carry no type are rejected.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrInvalidEnvelope
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	if len(env.Data) == 0 {
		env.Data = jsonNull
	}

	return env, nil
}
