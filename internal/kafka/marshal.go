package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errEmptyPayload = errors.New("empty payload")

// MustMarshal encodes v as JSON for a message value. Event types are plain
// structs, so a failure here is a programming error and panics.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("kafka: marshal %T: %v", v, err))
	}
	return b
}

// DecodePayload reads an envelope's payload into T. A missing payload is an
// error rather than a zero T.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, fmt.Errorf("decode payload %T: %w", out, errEmptyPayload)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode payload %T: %w", out, err)
	}
	return out, nil
}
