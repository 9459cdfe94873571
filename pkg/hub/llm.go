package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ananta888/hubgate/pkg/chatstream"
	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/gateway"
)

type generateResponse struct {
	Response string `json:"response"`
	Text     string `json:"text"`
}

// Generate runs a non-streaming completion and returns the full answer.
func (c *Client) Generate(ctx context.Context, prompt string, history []chatstream.Turn, opts ...gateway.CallOption) (string, error) {
	req := chatstream.GenerateRequest{Prompt: prompt, History: history, Stream: false}
	raw, err := c.gw.Do(ctx, "POST", c.baseURL, chatstream.GenerateRoute, req,
		withDefaults(opts, gateway.WithTimeout(GenerateTimeout))...)
	if err != nil {
		return "", err
	}
	return answerText(raw), nil
}

// GenerateStream streams the answer token by token. When the stream fails
// before its first token the call degrades to Generate and delivers the
// whole answer as one token. A failure after tokens arrived is reported as
// is; the partial answer is not retried.
func (c *Client) GenerateStream(ctx context.Context, prompt string, history []chatstream.Turn, explicit credential.Credential) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		req := chatstream.GenerateRequest{Prompt: prompt, History: history, Stream: true}
		tokens, streamErr := c.chat.Stream(ctx, c.baseURL+chatstream.GenerateRoute, req, explicit)

		delivered := 0
		for tok := range tokens {
			select {
			case out <- tok:
				delivered++
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		err := <-streamErr
		if err == nil {
			return
		}
		if delivered > 0 || !errors.Is(err, chatstream.ErrStreamFailed) {
			errc <- err
			return
		}

		c.logger.Info("stream unavailable, falling back to plain generate", "error", err)
		var opts []gateway.CallOption
		if !explicit.IsZero() {
			opts = append(opts, gateway.WithCredential(explicit))
		}
		answer, err := c.Generate(ctx, prompt, history, opts...)
		if err != nil {
			errc <- err
			return
		}
		if answer == "" {
			return
		}
		select {
		case out <- answer:
		case <-ctx.Done():
			errc <- ctx.Err()
		}
	}()

	return out, errc
}

// answerText accepts {"response":...}, {"text":...} or a bare string.
func answerText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var resp generateResponse
	if json.Unmarshal(raw, &resp) == nil {
		if resp.Response != "" {
			return resp.Response
		}
		return resp.Text
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	return string(raw)
}
