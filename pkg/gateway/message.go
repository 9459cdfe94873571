package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"
)

const maxMessageChars = 256

var messageFields = []string{"error", "detail", "message"}

// errorMessage picks the best human-readable message from an error body:
// the error, detail or message field in that order, then a plain-text body,
// then fallback.
func errorMessage(body []byte, fallback string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fallback
	}
	if json.Valid(trimmed) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err == nil {
			for _, key := range messageFields {
				if msg := fieldText(fields[key]); msg != "" {
					return msg
				}
			}
		}
		return fallback
	}
	return truncate(string(trimmed), maxMessageChars)
}

func fieldText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
		return strings.TrimSpace(nested.Message)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		return truncate(compact.String(), maxMessageChars)
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// readBodyLimited reads up to maxBytes of r. over reports that r held more.
func readBodyLimited(r io.Reader, maxBytes int64) (data []byte, over bool, err error) {
	if r == nil || maxBytes <= 0 {
		return nil, false, nil
	}
	data, err = io.ReadAll(io.LimitReader(r, maxBytes+1))
	if int64(len(data)) > maxBytes {
		return data[:maxBytes], true, err
	}
	return data, false, err
}
