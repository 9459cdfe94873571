// Package chatstream reads assistant tokens from a streamed generation
// response as they arrive.
package chatstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/credential"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/telemetry"
)

// GenerateRoute is the hub's generation endpoint.
const GenerateRoute = "/llm/generate"

const readChunkSize = 4 << 10

// ErrStreamFailed matches (via errors.Is) every failure to open or read a
// stream. Callers treat it as a signal to retry without streaming.
var ErrStreamFailed = gwerrors.New(gwerrors.ErrCodeStreamFailed, "stream failed")

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of a generation call.
type GenerateRequest struct {
	Prompt  string `json:"prompt"`
	History []Turn `json:"history,omitempty"`
	Stream  bool   `json:"stream"`
}

// Options configures a Reader.
type Options struct {
	// HTTPClient must not set a Timeout; bound streams with ctx instead.
	HTTPClient *http.Client
	Resolver   *auth.Resolver
	Logger     *logging.Logger
}

// Reader opens token streams.
type Reader struct {
	http     *http.Client
	resolver *auth.Resolver
	logger   *logging.Logger
}

// NewReader builds a Reader from opts.
func NewReader(opts Options) *Reader {
	r := &Reader{
		http:     opts.HTTPClient,
		resolver: opts.Resolver,
		logger:   logging.OrNop(opts.Logger).Named(logging.ComponentChatStream),
	}
	if r.http == nil {
		r.http = &http.Client{}
	}
	if r.resolver == nil {
		r.resolver = auth.NewResolver(nil, nil, nil, opts.Logger)
	}
	return r
}

// Stream posts body to url and emits each token fragment as it arrives. The
// token channel closes when the stream ends; the error channel then yields at
// most one error. Failures before the first token carry ErrStreamFailed.
func (r *Reader) Stream(ctx context.Context, url string, body any, explicit credential.Credential) (<-chan string, <-chan error) {
	tokens := make(chan string, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(tokens)
		if err := r.stream(ctx, url, body, explicit, tokens); err != nil {
			telemetry.ChatStreamFailures.Inc()
			r.logger.Warn("chat stream failed", "url", url, "error", err)
			errc <- err
		}
	}()

	return tokens, errc
}

// Collect drains a stream into one string.
func Collect(tokens <-chan string, errc <-chan error) (string, error) {
	var buf bytes.Buffer
	for tok := range tokens {
		buf.WriteString(tok)
	}
	return buf.String(), <-errc
}

func (r *Reader) stream(ctx context.Context, url string, body any, explicit credential.Credential, tokens chan<- string) error {
	cred, err := r.resolver.Resolve(url, explicit)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "encode generate request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "build generate request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if header := auth.BearerHeader(cred); header != "" {
		req.Header.Set("Authorization", header)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return streamFailed(err, "open stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gwerrors.New(gwerrors.ErrCodeStreamFailed, "stream rejected").
			WithContext("status", resp.StatusCode)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return gwerrors.New(gwerrors.ErrCodeStreamFailed, "stream has no body")
	}

	var dec Decoder
	chunk := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			fragments, done := dec.Feed(chunk[:n])
			if err := emit(ctx, tokens, fragments); err != nil {
				return err
			}
			if done {
				return nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			fragments, _ := dec.Flush()
			return emit(ctx, tokens, fragments)
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return streamFailed(readErr, "read stream")
		}
	}
}

func emit(ctx context.Context, tokens chan<- string, fragments []string) error {
	for _, frag := range fragments {
		select {
		case tokens <- frag:
			telemetry.ChatTokens.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func streamFailed(err error, message string) error {
	return gwerrors.Wrap(err, gwerrors.ErrCodeStreamFailed, message)
}
