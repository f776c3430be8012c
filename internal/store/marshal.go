package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// marshalPayload converts a payload document to JSON TEXT for storage.
func marshalPayload(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalPayload parses JSON TEXT into a payload document.
// Numbers decode as json.Number so large integers survive the round trip.
func unmarshalPayload(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var p map[string]any
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

func encodeTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
