// Package gateway issues authenticated unary calls to the hub and its
// workers. It resolves credentials per endpoint, peels response envelopes,
// retries cheap reads and serves short-lived cached reads.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/backoff"
	"github.com/ananta888/hubgate/pkg/clock"
	"github.com/ananta888/hubgate/pkg/credential"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/telemetry"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultCacheTTL  = 4 * time.Second
	DefaultCacheSize = 256

	DefaultMaxResponseBytes = 16 << 20
)

// Options configures a Gateway.
type Options struct {
	HTTPClient *http.Client
	Resolver   *auth.Resolver
	Clock      clock.Clock
	Logger     *logging.Logger

	// Timeout bounds each attempt.
	Timeout time.Duration
	// RetryCount is the number of extra attempts for retried calls. Zero uses
	// backoff.DefaultRetries; negative disables retries.
	RetryCount int
	CacheTTL   time.Duration
	CacheSize  int

	// MaxResponseBytes caps a successful response body. Larger bodies fail
	// with a DECODE error.
	MaxResponseBytes int64

	// RateLimit caps attempts per second across the gateway. Zero disables it.
	RateLimit float64
	RateBurst int

	UserAgent string
}

// Gateway is safe for concurrent use.
type Gateway struct {
	client    *http.Client
	resolver  *auth.Resolver
	clock     clock.Clock
	logger    *logging.Logger
	timeout   time.Duration
	retry     backoff.Fixed
	cacheTTL  time.Duration
	cache     *responseCache
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
}

// New builds a Gateway from opts.
func New(opts Options) *Gateway {
	g := &Gateway{
		client:    opts.HTTPClient,
		resolver:  opts.Resolver,
		clock:     opts.Clock,
		logger:    logging.OrNop(opts.Logger).Named(logging.ComponentGateway),
		timeout:   opts.Timeout,
		cacheTTL:  opts.CacheTTL,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxResponseBytes,
	}
	if g.client == nil {
		g.client = &http.Client{}
	}
	if g.resolver == nil {
		g.resolver = auth.NewResolver(nil, nil, nil, opts.Logger)
	}
	if g.clock == nil {
		g.clock = clock.Real()
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	switch {
	case opts.RetryCount == 0:
		g.retry = backoff.Fixed{Retries: backoff.DefaultRetries}
	case opts.RetryCount < 0:
		g.retry = backoff.Fixed{}
	default:
		g.retry = backoff.Fixed{Retries: opts.RetryCount}
	}
	if g.cacheTTL <= 0 {
		g.cacheTTL = DefaultCacheTTL
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if g.userAgent == "" {
		g.userAgent = "hubgate"
	}
	if g.maxBody <= 0 {
		g.maxBody = DefaultMaxResponseBytes
	}
	g.cache = newResponseCache(opts.CacheSize, g.clock)
	return g
}

// Resolver returns the credential resolver the gateway uses.
func (g *Gateway) Resolver() *auth.Resolver { return g.resolver }

// Get performs a read and decodes the unwrapped result into out (may be nil).
func (g *Gateway) Get(ctx context.Context, baseURL, route string, out any, opts ...CallOption) error {
	return g.decode(g.Do(ctx, http.MethodGet, baseURL, route, nil, opts...))(out)
}

// Post sends body as JSON and decodes the unwrapped result into out.
func (g *Gateway) Post(ctx context.Context, baseURL, route string, body, out any, opts ...CallOption) error {
	return g.decode(g.Do(ctx, http.MethodPost, baseURL, route, body, opts...))(out)
}

// Patch sends body as JSON and decodes the unwrapped result into out.
func (g *Gateway) Patch(ctx context.Context, baseURL, route string, body, out any, opts ...CallOption) error {
	return g.decode(g.Do(ctx, http.MethodPatch, baseURL, route, body, opts...))(out)
}

// Delete issues a DELETE and decodes the unwrapped result into out.
func (g *Gateway) Delete(ctx context.Context, baseURL, route string, out any, opts ...CallOption) error {
	return g.decode(g.Do(ctx, http.MethodDelete, baseURL, route, nil, opts...))(out)
}

func (g *Gateway) decode(raw json.RawMessage, err error) func(out any) error {
	return func(out any) error {
		if err != nil {
			return err
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return gwerrors.Wrap(err, gwerrors.ErrCodeDecode, "decode response")
		}
		return nil
	}
}

// Do performs a call and returns the unwrapped JSON result. A 2xx body that
// is not JSON is returned as a JSON string. An empty body yields nil.
func (g *Gateway) Do(ctx context.Context, method, baseURL, route string, body any, opts ...CallOption) (json.RawMessage, error) {
	cfg := callConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = g.timeout
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if route != "" && !strings.HasPrefix(route, "/") {
		route = "/" + route
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway."+method, trace.WithAttributes(
		telemetry.AttrMethod.String(method),
		telemetry.AttrEndpoint.String(baseURL),
		telemetry.AttrRoute.String(route),
	))
	defer span.End()
	start := g.clock.Now()

	var (
		raw json.RawMessage
		err error
	)
	if cfg.cache && method == http.MethodGet {
		raw, err = g.cached(ctx, span, baseURL, route, cfg)
	} else {
		raw, err = g.call(ctx, span, method, baseURL, route, body, cfg)
	}

	telemetry.RequestDuration.WithLabelValues(method).Observe(g.clock.Now().Sub(start).Seconds())
	telemetry.RequestsTotal.WithLabelValues(method, outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if status := gwerrors.StatusCode(err); status != 0 {
			span.SetAttributes(telemetry.AttrStatus.Int(status))
		}
	}
	return raw, err
}

func (g *Gateway) cached(ctx context.Context, span trace.Span, baseURL, route string, cfg callConfig) (json.RawMessage, error) {
	tag := cfg.cacheTag
	if tag == "" {
		tag = route
	}
	ttl := cfg.cacheTTL
	if ttl <= 0 {
		ttl = g.cacheTTL
	}
	key := cacheKey(baseURL, tag)

	if data, age, ok := g.cache.get(key, ttl); ok {
		telemetry.CacheLookups.WithLabelValues(telemetry.CacheHit).Inc()
		span.SetAttributes(telemetry.AttrCacheHit.Bool(true))
		g.logger.CacheHit(key, age)
		return data, nil
	}
	telemetry.CacheLookups.WithLabelValues(telemetry.CacheMiss).Inc()
	span.SetAttributes(telemetry.AttrCacheHit.Bool(false))

	// The flight outlives any one caller; each caller waits on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	results := g.cache.flights.DoChan(key, func() (any, error) {
		if data, _, ok := g.cache.get(key, ttl); ok {
			return data, nil
		}
		data, err := g.call(flightCtx, span, http.MethodGet, baseURL, route, nil, cfg)
		if err != nil {
			return nil, err
		}
		g.cache.put(key, data)
		return data, nil
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, classifyTransport(ctx, ctx, ctx.Err(), "GET "+route, cfg.timeout)
	}
}

func (g *Gateway) call(ctx context.Context, span trace.Span, method, baseURL, route string, body any, cfg callConfig) (json.RawMessage, error) {
	target := baseURL + route

	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	var bearer string
	if !cfg.anonymous && cfg.headers.Get("Authorization") == "" {
		cred, err := g.resolver.Resolve(target, cfg.credential)
		if err != nil {
			return nil, err
		}
		bearer = auth.BearerHeader(cred)
		span.SetAttributes(telemetry.AttrCredential.String(cred.Kind().String()))
	}

	retry := method == http.MethodGet
	if cfg.retry != nil {
		retry = *cfg.retry
	}
	attempts := 1
	if retry {
		attempts = g.retry.Attempts()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			telemetry.RequestRetries.WithLabelValues(method).Inc()
			g.logger.WithContext(ctx).RequestRetried(method, route, attempt, lastErr)
		}
		raw, err := g.attempt(ctx, method, target, route, payload, bearer, cfg)
		if err == nil {
			span.SetAttributes(telemetry.AttrAttempts.Int(attempt))
			return raw, nil
		}
		lastErr = err
		if !gwerrors.IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (g *Gateway) attempt(ctx context.Context, method, target, route string, payload []byte, bearer string, cfg callConfig) (json.RawMessage, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.ErrCodeTransport, "rate limit wait").WithRetryable(false)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "build request").WithContext("url", target)
	}
	for key, values := range cfg.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", g.userAgent)

	label := method + " " + route
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, attemptCtx, err, label, cfg.timeout).WithContext("request_id", requestID)
	}
	defer resp.Body.Close()

	data, over, err := readBodyLimited(resp.Body, g.maxBody)
	if err != nil {
		return nil, classifyTransport(ctx, attemptCtx, err, label, cfg.timeout).WithContext("request_id", requestID)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusText := http.StatusText(resp.StatusCode)
		if statusText == "" {
			statusText = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, gwerrors.HTTP(resp.StatusCode, statusText, errorMessage(data, statusText)).
			WithContext("route", route).
			WithContext("request_id", requestID)
	}

	if over {
		return nil, gwerrors.New(gwerrors.ErrCodeDecode, "response exceeds limit").
			WithContext("route", route).
			WithContext("limit", g.maxBody).
			WithContext("request_id", requestID)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		text, _ := json.Marshal(string(data))
		return text, nil
	}
	return Unwrap(data), nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "encode request body")
	}
	return payload, nil
}

// classifyTransport separates per-attempt timeouts from other network
// failures. Cancellation by the caller is never retried.
func classifyTransport(parent, attemptCtx context.Context, err error, label string, budget time.Duration) *gwerrors.Error {
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return gwerrors.Timeout(err, label).WithRetryable(false)
		}
		return gwerrors.Wrap(err, gwerrors.ErrCodeTransport, label+": cancelled")
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return gwerrors.Timeout(err, label).WithContext("budget", budget)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gwerrors.Timeout(err, label).WithContext("budget", budget)
	}
	return gwerrors.Transport(err, label)
}

func outcome(err error) string {
	switch gwerrors.GetCode(err) {
	case "":
		return telemetry.OutcomeOK
	case gwerrors.ErrCodeHTTP:
		return telemetry.OutcomeHTTPError
	case gwerrors.ErrCodeTimeout:
		return telemetry.OutcomeTimeout
	case gwerrors.ErrCodeTransport:
		return telemetry.OutcomeTransport
	default:
		return telemetry.OutcomeOther
	}
}

// CredentialFor exposes resolution for callers building their own requests.
func (g *Gateway) CredentialFor(target string, explicit credential.Credential) (credential.Credential, error) {
	return g.resolver.Resolve(target, explicit)
}
