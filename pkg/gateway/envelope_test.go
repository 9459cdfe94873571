package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single", `{"status":"ok","data":{"id":1}}`, `{"id":1}`},
		{"bare object", `{"id":1}`, `{"id":1}`},
		{"bare array", `[1,2,3]`, `[1,2,3]`},
		{"four levels", `{"status":"ok","data":{"status":"ok","data":{"status":"ok","data":{"status":"ok","data":[{"a":1}]}}}}`, `[{"a":1}]`},
		{"status only", `{"status":"ok"}`, `{"status":"ok"}`},
		{"data only", `{"data":5}`, `{"data":5}`},
		{"null data", `{"status":"ok","data":null}`, `null`},
		{"extra keys still peeled", `{"status":"ok","data":"x","message":"fine"}`, `"x"`},
		{"scalar", `42`, `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Unwrap(json.RawMessage(tt.in))
			assert.JSONEq(t, tt.want, string(got))
			assert.Equal(t, string(got), string(Unwrap(got)), "unwrap should be idempotent")
		})
	}
}
