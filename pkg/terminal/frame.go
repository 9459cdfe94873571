package terminal

import (
	"encoding/json"
	"net/url"
	"strings"

	gwerrors "github.com/ananta888/hubgate/pkg/errors"
)

// Path is the terminal endpoint on every agent.
const Path = "/ws/terminal"

// Mode selects whether input is forwarded.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeRead        Mode = "read"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeInteractive || m == ModeRead }

// Frame is an inbound message: either Framed or Raw.
type Frame interface {
	isFrame()
}

// Framed is a structured {"type":...,"data":...} message.
type Framed struct {
	Type string
	Data json.RawMessage
}

// Raw is unframed text from servers that stream bytes directly.
type Raw struct {
	Text string
}

func (Framed) isFrame() {}
func (Raw) isFrame()    {}

// DecodeFrame classifies one inbound text frame. Anything that is not a JSON
// object with a string "type" field is Raw.
func DecodeFrame(text string) Frame {
	var head struct {
		Type *string         `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Raw{Text: text}
	}
	if err := json.Unmarshal([]byte(trimmed), &head); err != nil || head.Type == nil || *head.Type == "" {
		return Raw{Text: text}
	}
	return Framed{Type: *head.Type, Data: head.Data}
}

// Chunk extracts data.chunk from an output frame.
func (f Framed) Chunk() (string, bool) {
	var payload struct {
		Chunk *string `json:"chunk"`
	}
	if len(f.Data) == 0 || json.Unmarshal(f.Data, &payload) != nil || payload.Chunk == nil {
		return "", false
	}
	return *payload.Chunk, true
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type resizeData struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

func encodeInput(text string) []byte {
	payload, _ := json.Marshal(outbound{Type: "input", Data: text})
	return payload
}

func encodeResize(rows, cols int) []byte {
	payload, _ := json.Marshal(outbound{Type: "resize", Data: resizeData{Rows: rows, Cols: cols}})
	return payload
}

// BuildURL derives the socket URL for baseURL: http becomes ws, https
// becomes wss, any base path or query is replaced by Path, and mode, token
// and forward_param ride in the query.
func BuildURL(baseURL string, mode Mode, token, forwardParam string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "parse terminal base url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", gwerrors.New(gwerrors.ErrCodeInvalidInput, "unsupported terminal url scheme").
			WithContext("scheme", u.Scheme)
	}
	if u.Host == "" {
		return "", gwerrors.New(gwerrors.ErrCodeInvalidInput, "terminal url has no host")
	}
	u.Path = Path
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	q.Set("mode", string(mode))
	if token != "" {
		q.Set("token", token)
	}
	if forwardParam != "" {
		q.Set("forward_param", forwardParam)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
