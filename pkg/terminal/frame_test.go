package terminal

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantType string
		raw      bool
	}{
		{name: "output frame", in: `{"type":"output","data":{"chunk":"hi"}}`, wantType: "output"},
		{name: "ready frame", in: `{"type":"ready"}`, wantType: "ready"},
		{name: "plain text", in: "ls -la\r\n", raw: true},
		{name: "json without type", in: `{"data":{"chunk":"x"}}`, raw: true},
		{name: "numeric type", in: `{"type":7}`, raw: true},
		{name: "empty type", in: `{"type":""}`, raw: true},
		{name: "json array", in: `["output"]`, raw: true},
		{name: "broken json", in: `{"type":"output"`, raw: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DecodeFrame(tt.in)
			if tt.raw {
				r, ok := f.(Raw)
				require.True(t, ok, "want Raw, got %T", f)
				assert.Equal(t, tt.in, r.Text)
				return
			}
			framed, ok := f.(Framed)
			require.True(t, ok, "want Framed, got %T", f)
			assert.Equal(t, tt.wantType, framed.Type)
		})
	}
}

func TestFramedChunk(t *testing.T) {
	chunk, ok := DecodeFrame(`{"type":"output","data":{"chunk":"abc"}}`).(Framed).Chunk()
	require.True(t, ok)
	assert.Equal(t, "abc", chunk)

	_, ok = DecodeFrame(`{"type":"output","data":{"text":"abc"}}`).(Framed).Chunk()
	assert.False(t, ok)

	_, ok = Framed{Type: "output"}.Chunk()
	assert.False(t, ok)
}

func TestOutboundEncoding(t *testing.T) {
	var input map[string]any
	require.NoError(t, json.Unmarshal(encodeInput("ls\n"), &input))
	assert.Equal(t, map[string]any{"type": "input", "data": "ls\n"}, input)

	var resize map[string]any
	require.NoError(t, json.Unmarshal(encodeResize(24, 80), &resize))
	assert.Equal(t, map[string]any{
		"type": "resize",
		"data": map[string]any{"rows": float64(24), "cols": float64(80)},
	}, resize)
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		mode    Mode
		token   string
		forward string
		scheme  string
		path    string
	}{
		{name: "http becomes ws", base: "http://alpha:5001", mode: ModeInteractive, scheme: "ws", path: "/ws/terminal"},
		{name: "https becomes wss", base: "https://alpha.example", mode: ModeRead, token: "tok", scheme: "wss", path: "/ws/terminal"},
		{name: "trailing slash", base: "http://alpha:5001/", mode: ModeRead, scheme: "ws", path: "/ws/terminal"},
		{name: "base path replaced", base: "http://hub:5000/api", mode: ModeRead, scheme: "ws", path: "/ws/terminal"},
		{name: "base query dropped", base: "http://proxy/agents/alpha?x=1", mode: ModeInteractive, forward: "alpha", scheme: "ws", path: "/ws/terminal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := BuildURL(tt.base, tt.mode, tt.token, tt.forward)
			require.NoError(t, err)
			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, u.Scheme)
			assert.Equal(t, tt.path, u.Path)
			assert.Equal(t, string(tt.mode), u.Query().Get("mode"))
			assert.Equal(t, tt.token, u.Query().Get("token"))
			assert.Equal(t, tt.forward, u.Query().Get("forward_param"))
			assert.Empty(t, u.Query().Get("x"))
		})
	}
}

func TestBuildURLRejectsUnknownScheme(t *testing.T) {
	_, err := BuildURL("ftp://alpha", ModeRead, "", "")
	require.Error(t, err)

	_, err = BuildURL("http://", ModeRead, "", "")
	require.Error(t, err)
}
