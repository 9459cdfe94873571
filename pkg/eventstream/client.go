// Package eventstream keeps long-lived Server-Sent-Event subscriptions to the
// hub alive across disconnects. The credential rides in the token query
// parameter because the transport cannot carry custom headers.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/backoff"
	"github.com/ananta888/hubgate/pkg/clock"
	"github.com/ananta888/hubgate/pkg/credential"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/telemetry"
)

// Routes of the two built-in feeds.
const (
	SystemEventsRoute = "/api/system/events"
	taskLogsRouteFmt  = "/tasks/%s/stream-logs"
)

// Stream labels used in metrics.
const (
	StreamTaskLogs     = "task_logs"
	StreamSystemEvents = "system_events"
	StreamCustom       = "custom"
)

const defaultBuffer = 64

// Options configures a Client.
type Options struct {
	// HTTPClient must not set a Timeout; streams are long-lived.
	HTTPClient     *http.Client
	Resolver       *auth.Resolver
	Clock          clock.Clock
	Logger         *logging.Logger
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Buffer         int
}

// Client opens event subscriptions.
type Client struct {
	http     *http.Client
	resolver *auth.Resolver
	clock    clock.Clock
	logger   *logging.Logger
	initial  time.Duration
	max      time.Duration
	buffer   int
}

// New builds a Client from opts.
func New(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		resolver: opts.Resolver,
		clock:    opts.Clock,
		logger:   logging.OrNop(opts.Logger).Named(logging.ComponentEventStream),
		initial:  opts.InitialBackoff,
		max:      opts.MaxBackoff,
		buffer:   opts.Buffer,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.resolver == nil {
		c.resolver = auth.NewResolver(nil, nil, nil, opts.Logger)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.buffer <= 0 {
		c.buffer = defaultBuffer
	}
	return c
}

type resolveFunc func(target string, explicit credential.Credential) (credential.Credential, error)

type subscribeConfig struct {
	stream  string
	deduper *Deduper
	resolve resolveFunc
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeConfig)

// WithDeduper drops events the deduper has already seen.
func WithDeduper(d *Deduper) SubscribeOption {
	return func(cfg *subscribeConfig) { cfg.deduper = d }
}

// WithStreamLabel names the subscription in metrics and logs.
func WithStreamLabel(label string) SubscribeOption {
	return func(cfg *subscribeConfig) { cfg.stream = label }
}

// Subscribe opens a reconnecting subscription to baseURL+route. The
// credential is resolved before the first connection; a resolution failure
// is returned without any network I/O.
func (c *Client) Subscribe(ctx context.Context, baseURL, route string, explicit credential.Credential, opts ...SubscribeOption) (*Subscription, error) {
	cfg := subscribeConfig{stream: StreamCustom, resolve: c.resolver.Resolve}
	for _, opt := range opts {
		opt(&cfg)
	}
	return c.subscribe(ctx, baseURL, route, explicit, cfg)
}

// TaskLogs tails the log of one task. The server replays the full history on
// every (re)connect, so pass WithDeduper to see each entry once.
func (c *Client) TaskLogs(ctx context.Context, baseURL, taskID string, explicit credential.Credential, opts ...SubscribeOption) (*Subscription, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, gwerrors.New(gwerrors.ErrCodeInvalidInput, "task id is required")
	}
	cfg := subscribeConfig{stream: StreamTaskLogs, resolve: c.resolver.Resolve}
	for _, opt := range opts {
		opt(&cfg)
	}
	route := fmt.Sprintf(taskLogsRouteFmt, url.PathEscape(taskID))
	return c.subscribe(ctx, baseURL, route, explicit, cfg)
}

// SystemEvents subscribes to the hub-wide feed. Only the operator's session
// (or an explicit signed credential) is accepted; without one it fails with
// an AuthRequired error before touching the network.
func (c *Client) SystemEvents(ctx context.Context, baseURL string, explicit credential.Credential, opts ...SubscribeOption) (*Subscription, error) {
	cfg := subscribeConfig{stream: StreamSystemEvents, resolve: c.resolver.ResolveSessionOnly}
	for _, opt := range opts {
		opt(&cfg)
	}
	return c.subscribe(ctx, baseURL, SystemEventsRoute, explicit, cfg)
}

func (c *Client) subscribe(ctx context.Context, baseURL, route string, explicit credential.Credential, cfg subscribeConfig) (*Subscription, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if route != "" && !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	target := baseURL + route
	if _, err := url.Parse(target); err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "invalid stream url")
	}

	// Fail fast on missing credentials.
	if _, err := cfg.resolve(target, explicit); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		client:   c,
		target:   target,
		route:    route,
		explicit: explicit,
		cfg:      cfg,
		events:   make(chan json.RawMessage, c.buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
		logger:   c.logger.With("stream", cfg.stream, "route", route),
	}
	go s.run(subCtx)
	return s, nil
}

// Subscription is one live event feed. Events arrive in order within a
// connection; across reconnects the server may replay overlapping history.
type Subscription struct {
	client   *Client
	target   string
	route    string
	explicit credential.Credential
	cfg      subscribeConfig
	logger   *logging.Logger

	events chan json.RawMessage
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Events returns the feed. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan json.RawMessage { return s.events }

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil for a clean server close or
// Close, the context error on cancellation, or a terminal failure such as
// AuthRequired.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the subscription down. Once Close returns no further events
// are observable on Events.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
	<-s.done
	for range s.events {
	}
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}

func (s *Subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Subscription) run(ctx context.Context) {
	policy := backoff.NewExponential(s.client.initial, s.client.max)
	for {
		err := s.connect(ctx, policy)
		switch {
		case s.stopped():
			s.finish(nil)
			return
		case ctx.Err() != nil:
			s.finish(ctx.Err())
			return
		case err == nil:
			s.logger.Debug("stream closed by server")
			s.finish(nil)
			return
		case isTerminal(err):
			s.logger.Warn("stream ended", "error", err)
			s.finish(err)
			return
		}

		delay := policy.Next()
		telemetry.StreamReconnects.WithLabelValues(s.cfg.stream).Inc()
		s.logger.StreamReconnecting(s.route, delay, err)
		if err := backoff.Sleep(ctx, s.client.clock, delay); err != nil {
			if s.stopped() {
				s.finish(nil)
			} else {
				s.finish(err)
			}
			return
		}
	}
}

// connect opens one connection and pumps it until it ends. A nil return
// means the server closed the stream cleanly.
func (s *Subscription) connect(ctx context.Context, policy *backoff.Exponential) error {
	cred, err := s.cfg.resolve(s.target, s.explicit)
	if err != nil {
		return err
	}
	streamURL, err := withToken(s.target, cred)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "build stream url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.http.Do(req)
	if err != nil {
		return gwerrors.Transport(err, "connect "+s.route)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gwerrors.HTTP(resp.StatusCode, http.StatusText(resp.StatusCode), "stream rejected").
			WithContext("route", s.route)
	}

	policy.Reset()
	s.logger.Debug("stream connected")

	scanner := NewScanner(resp.Body)
	for scanner.Next() {
		data := strings.TrimSpace(scanner.Event().Data)
		raw := json.RawMessage(data)
		if !json.Valid(raw) {
			telemetry.FramesDropped.WithLabelValues(s.cfg.stream).Inc()
			s.logger.FrameDropped(s.route, len(data),
				gwerrors.New(gwerrors.ErrCodeStreamFraming, "frame is not valid JSON"))
			continue
		}
		if s.cfg.deduper != nil && s.cfg.deduper.Seen(raw) {
			continue
		}
		select {
		case s.events <- raw:
			telemetry.EventsDelivered.WithLabelValues(s.cfg.stream).Inc()
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return gwerrors.Transport(err, "read "+s.route)
	}
	return nil
}

func withToken(target string, cred credential.Credential) (string, error) {
	if cred.IsZero() {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", cred.Value())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isTerminal reports failures that reconnecting cannot fix.
func isTerminal(err error) bool {
	if gwerrors.IsAuthRequired(err) || gwerrors.IsCode(err, gwerrors.ErrCodeInvalidInput) {
		return true
	}
	switch gwerrors.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return errors.Is(err, context.Canceled)
}
