package gateway

import (
	"net/http"
	"time"

	"github.com/ananta888/hubgate/pkg/credential"
)

type callConfig struct {
	credential credential.Credential
	anonymous  bool
	retry      *bool
	timeout    time.Duration
	cache      bool
	cacheTag   string
	cacheTTL   time.Duration
	headers    http.Header
}

// CallOption customizes a single gateway call.
type CallOption func(*callConfig)

// WithCredential overrides directory-based credential resolution.
func WithCredential(c credential.Credential) CallOption {
	return func(cfg *callConfig) { cfg.credential = c }
}

// Anonymous sends the call without any credential.
func Anonymous() CallOption {
	return func(cfg *callConfig) { cfg.anonymous = true }
}

// WithRetry forces retry on or off. Reads retry by default, writes do not.
func WithRetry(enabled bool) CallOption {
	return func(cfg *callConfig) { cfg.retry = &enabled }
}

// WithTimeout sets the per-attempt budget.
func WithTimeout(d time.Duration) CallOption {
	return func(cfg *callConfig) { cfg.timeout = d }
}

// WithCache serves the read from a short-lived cache keyed by the endpoint
// and tag. An empty tag uses the route; a non-positive ttl uses the gateway
// default. Ignored for writes.
func WithCache(tag string, ttl time.Duration) CallOption {
	return func(cfg *callConfig) {
		cfg.cache = true
		cfg.cacheTag = tag
		cfg.cacheTTL = ttl
	}
}

// WithHeader adds a request header. Supplying Authorization suppresses the
// resolved bearer credential.
func WithHeader(key, value string) CallOption {
	return func(cfg *callConfig) {
		if cfg.headers == nil {
			cfg.headers = make(http.Header)
		}
		cfg.headers.Add(key, value)
	}
}
