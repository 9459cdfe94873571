package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ananta888/hubgate/pkg/auth"
	"github.com/ananta888/hubgate/pkg/bus"
	"github.com/ananta888/hubgate/pkg/chatstream"
	"github.com/ananta888/hubgate/pkg/config"
	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/directory"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/eventstream"
	"github.com/ananta888/hubgate/pkg/gateway"
	"github.com/ananta888/hubgate/pkg/hub"
	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/session"
	"github.com/ananta888/hubgate/pkg/telemetry"
)

// app is the wired set of components one CLI invocation uses.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	dir       *directory.Directory
	sessions  *session.Store
	resolver  *auth.Resolver
	gateway   *gateway.Gateway
	events    *eventstream.Client
	chat      *chatstream.Reader
	tokenPath string

	closers []func()
}

func loadConfig(opts globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, withExitCode(fmt.Errorf("loading config: %w", err), exitConfig)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.trace {
		cfg.Telemetry.Tracing = true
	}
	if opts.token != "" {
		cfg.Session.Token = opts.token
	}
	return cfg, nil
}

// newApp loads configuration and wires every component. The returned app
// must be closed.
func newApp(ctx context.Context, env *cliEnv) (*app, error) {
	cfg, err := loadConfig(env.opts)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLoggerWithOptions("hubgate", logging.Options{
		Level:  cfg.LogLevel(),
		Output: env.stderr,
	})
	for _, w := range cfg.ValidationWarnings() {
		logger.Warn("config warning", "detail", w)
	}

	a := &app{cfg: cfg, logger: logger}

	if cfg.Telemetry.Tracing {
		tp, err := telemetry.NewTracerProvider(cfg.Telemetry.ServiceName, env.stderr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = tp.Shutdown(context.Background()) })
	}

	ids, err := cfg.Identities()
	if err != nil {
		a.Close()
		return nil, withExitCode(err, exitConfig)
	}
	a.dir = directory.New(ids...)
	if path := cfg.EndpointsPath(); path != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		a.closers = append(a.closers, cancel)
		if err := directory.Watch(watchCtx, a.dir, path, logger); err != nil {
			logger.Warn("endpoint file not watched", "error", err)
		}
	}

	token := cfg.Session.Token
	a.tokenPath = cfg.SessionTokenPath()
	if token == "" && a.tokenPath != "" {
		token, err = session.LoadTokenFile(a.tokenPath)
		if err != nil {
			a.Close()
			return nil, withExitCode(err, exitConfig)
		}
	}
	a.sessions = session.NewStore(token)

	a.resolver = auth.NewResolver(a.dir, a.sessions, credential.NewMinter(), logger)

	retries := cfg.Request.RetryCount
	if retries == 0 {
		retries = -1
	}
	a.gateway = gateway.New(gateway.Options{
		Resolver:   a.resolver,
		Logger:     logger,
		Timeout:    cfg.Request.Timeout,
		RetryCount: retries,
		CacheTTL:   cfg.Request.CacheTTL,
		CacheSize:  cfg.Request.CacheSize,
		RateLimit:  cfg.Request.RateLimit,
		RateBurst:  cfg.Request.RateBurst,
		UserAgent:  "hubgate/" + version,
	})
	a.events = eventstream.New(eventstream.Options{
		Resolver:       a.resolver,
		Logger:         logger,
		InitialBackoff: cfg.Stream.InitialBackoff,
		MaxBackoff:     cfg.Stream.MaxBackoff,
		Buffer:         cfg.Stream.Buffer,
	})
	a.chat = chatstream.NewReader(chatstream.Options{Resolver: a.resolver, Logger: logger})
	return a, nil
}

// Close releases tracing and watchers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// hub returns a typed client for the directory's hub.
func (a *app) hub() (*hub.Client, error) {
	id, ok := a.dir.Hub()
	if !ok {
		return nil, withExitCode(gwerrors.New(gwerrors.ErrCodeConfigInvalid, "no endpoint with role hub configured"), exitConfig)
	}
	return a.hubFor(id.BaseURL), nil
}

func (a *app) hubFor(baseURL string) *hub.Client {
	return hub.New(hub.Options{
		BaseURL: baseURL,
		Gateway: a.gateway,
		Events:  a.events,
		Chat:    a.chat,
		Logger:  a.logger,
	})
}

// openBus connects the configured message bus.
func (a *app) openBus() (bus.MessageBus, error) {
	bcfg := bus.DefaultConfig()
	bcfg.URL = a.cfg.Bus.NATSURL
	bcfg.Logger = a.logger
	b, err := bus.New(bcfg)
	if err != nil {
		return nil, gwerrors.Transport(err, "connect message bus")
	}
	return b, nil
}

// persistSessionRotations writes every session change to the token file
// until ctx is done.
func (a *app) persistSessionRotations(ctx context.Context) {
	if a.tokenPath == "" {
		return
	}
	changes, unsubscribe := a.sessions.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case token, ok := <-changes:
				if !ok {
					return
				}
				if err := session.SaveTokenFile(a.tokenPath, token); err != nil {
					a.logger.Warn("session token not persisted", "error", err)
				}
			}
		}
	}()
}

// target splits a CLI target into base URL and route. A full URL is split at
// its path; a bare route is joined to the named endpoint, or the hub when no
// name is given.
func (a *app) target(endpoint, raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", gwerrors.New(gwerrors.ErrCodeInvalidInput, "missing url or route")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", gwerrors.Wrap(err, gwerrors.ErrCodeInvalidInput, "parse url")
		}
		route := u.EscapedPath()
		if u.RawQuery != "" {
			route += "?" + u.RawQuery
		}
		return u.Scheme + "://" + u.Host, route, nil
	}
	base, err := a.endpointURL(endpoint)
	if err != nil {
		return "", "", err
	}
	return base, raw, nil
}

// endpointURL returns the base URL of a named endpoint, or the hub.
func (a *app) endpointURL(name string) (string, error) {
	if name == "" {
		id, ok := a.dir.Hub()
		if !ok {
			return "", gwerrors.New(gwerrors.ErrCodeInvalidInput, "no hub configured; pass -e or a full url")
		}
		return id.BaseURL, nil
	}
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return strings.TrimRight(name, "/"), nil
	}
	id, ok := a.dir.ByName(name)
	if !ok {
		return "", gwerrors.New(gwerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown endpoint %q", name))
	}
	return id.BaseURL, nil
}
