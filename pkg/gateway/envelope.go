package gateway

import (
	"bytes"
	"encoding/json"
)

// Unwrap peels nested {"status":..., "data":...} envelopes until the value no
// longer has that shape. Values without both keys pass through unchanged, so
// Unwrap(Unwrap(x)) == Unwrap(x).
func Unwrap(raw json.RawMessage) json.RawMessage {
	current := bytes.TrimSpace(raw)
	for {
		if len(current) == 0 || current[0] != '{' {
			return current
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(current, &fields); err != nil {
			return current
		}
		_, hasStatus := fields["status"]
		data, hasData := fields["data"]
		if !hasStatus || !hasData {
			return current
		}
		current = bytes.TrimSpace(data)
	}
}
