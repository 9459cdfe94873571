package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ananta888/hubgate/pkg/backoff"
	"github.com/ananta888/hubgate/pkg/directory"
	"github.com/ananta888/hubgate/pkg/logging"
)

// Default configuration values exported for documentation and validation
const (
	DefaultRequestTimeout   = 15 * time.Second
	DefaultRetryCount       = backoff.DefaultRetries
	DefaultCacheTTL         = 4 * time.Second
	DefaultCacheSize        = 256
	DefaultStreamInitial    = backoff.DefaultInitial
	DefaultStreamMax        = backoff.DefaultMax
	DefaultStreamBuffer     = 64
	DefaultTerminalDial     = 15 * time.Second
	DefaultLogLevel         = "info"
	DefaultServiceName      = "hubgate"
	DefaultSubjectPrefix    = "hubgate.system"
	DefaultSessionTokenFile = "~/.hubgate/session"
)

// Config represents the complete hubgate configuration
type Config struct {
	// Endpoints replaces the built-in directory when non-empty.
	Endpoints []directory.Identity `yaml:"endpoints"`
	// EndpointsFile, when set, is loaded at start and watched for changes.
	EndpointsFile string `yaml:"endpoints_file"`

	Session   SessionConfig   `yaml:"session"`
	Request   RequestConfig   `yaml:"request"`
	Stream    StreamConfig    `yaml:"stream"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bus       BusConfig       `yaml:"bus"`
}

// SessionConfig locates the operator's session token.
type SessionConfig struct {
	TokenFile string `yaml:"token_file"`
	// Token seeds the session directly; it wins over TokenFile.
	Token string `yaml:"token"`
}

// RequestConfig tunes the request gateway.
type RequestConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	CacheSize  int           `yaml:"cache_size"`
	RateLimit  float64       `yaml:"rate_limit"`
	RateBurst  int           `yaml:"rate_burst"`
}

// StreamConfig tunes event-stream reconnects.
type StreamConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Buffer         int           `yaml:"buffer"`
}

// TerminalConfig tunes terminal sockets.
type TerminalConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig toggles tracing output.
type TelemetryConfig struct {
	Tracing     bool   `yaml:"tracing"`
	ServiceName string `yaml:"service_name"`
}

// BusConfig selects where system events are fanned out. An empty NATSURL
// keeps the fan-out in process.
type BusConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TokenFile: DefaultSessionTokenFile,
		},
		Request: RequestConfig{
			Timeout:    DefaultRequestTimeout,
			RetryCount: DefaultRetryCount,
			CacheTTL:   DefaultCacheTTL,
			CacheSize:  DefaultCacheSize,
		},
		Stream: StreamConfig{
			InitialBackoff: DefaultStreamInitial,
			MaxBackoff:     DefaultStreamMax,
			Buffer:         DefaultStreamBuffer,
		},
		Terminal: TerminalConfig{
			DialTimeout: DefaultTerminalDial,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
		Bus: BusConfig{
			SubjectPrefix: DefaultSubjectPrefix,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// Load user config (~/.hubgate/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to HOME env var if UserHomeDir fails
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".hubgate", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.hubgate/config.yaml)
	projectConfigPath := filepath.Join(".", ".hubgate", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Identities returns the configured endpoints, falling back to the built-in
// local development set.
func (c *Config) Identities() ([]directory.Identity, error) {
	if path := c.EndpointsPath(); path != "" {
		ids, err := directory.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	if len(c.Endpoints) > 0 {
		return append([]directory.Identity(nil), c.Endpoints...), nil
	}
	return directory.Defaults(), nil
}

// EndpointsPath returns the expanded endpoints file path, or "".
func (c *Config) EndpointsPath() string {
	return expandHomeDir(c.EndpointsFile)
}

// SessionTokenPath returns the expanded session token file path, or "".
func (c *Config) SessionTokenPath() string {
	return expandHomeDir(c.Session.TokenFile)
}

// applyEnvOverrides applies environment variable overrides. Variables from
// ~/.hubgate/config.env apply first; the process environment wins.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return configEnv[key]
	}

	if v := lookup("HUBGATE_ENDPOINTS_FILE"); v != "" {
		cfg.EndpointsFile = v
	}
	if v := lookup("HUBGATE_SESSION_TOKEN"); v != "" {
		cfg.Session.Token = v
	}
	if v := lookup("HUBGATE_SESSION_TOKEN_FILE"); v != "" {
		cfg.Session.TokenFile = v
	}
	if d, ok := envDuration(lookup("HUBGATE_REQUEST_TIMEOUT")); ok {
		cfg.Request.Timeout = d
	}
	if n, ok := envInt(lookup("HUBGATE_RETRY_COUNT")); ok {
		cfg.Request.RetryCount = n
	}
	if d, ok := envDuration(lookup("HUBGATE_CACHE_TTL")); ok {
		cfg.Request.CacheTTL = d
	}
	if v := lookup("HUBGATE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Request.RateLimit = f
		}
	}
	if d, ok := envDuration(lookup("HUBGATE_STREAM_INITIAL_BACKOFF")); ok {
		cfg.Stream.InitialBackoff = d
	}
	if d, ok := envDuration(lookup("HUBGATE_STREAM_MAX_BACKOFF")); ok {
		cfg.Stream.MaxBackoff = d
	}
	if d, ok := envDuration(lookup("HUBGATE_TERMINAL_DIAL_TIMEOUT")); ok {
		cfg.Terminal.DialTimeout = d
	}
	if v := lookup("HUBGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if val, ok := envBool(lookup("HUBGATE_TRACING")); ok {
		cfg.Telemetry.Tracing = val
	}
	if v := lookup("HUBGATE_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
	if v := lookup("HUBGATE_SUBJECT_PREFIX"); v != "" {
		cfg.Bus.SubjectPrefix = v
	}
}

func envBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envInt(val string) (int, bool) {
	if strings.TrimSpace(val) == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	return n, err == nil
}

func envDuration(val string) (time.Duration, bool) {
	if strings.TrimSpace(val) == "" {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	return d, err == nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if err := directory.Validate(c.Endpoints); err != nil {
		return err
	}

	if c.Request.Timeout <= 0 {
		return fmt.Errorf("request.timeout must be positive, got %s", c.Request.Timeout)
	}
	if c.Request.RetryCount < 0 {
		return fmt.Errorf("request.retry_count must not be negative, got %d", c.Request.RetryCount)
	}
	if c.Request.CacheTTL < 0 {
		return fmt.Errorf("request.cache_ttl must not be negative, got %s", c.Request.CacheTTL)
	}
	if c.Request.RateLimit < 0 {
		return fmt.Errorf("request.rate_limit must not be negative, got %g", c.Request.RateLimit)
	}

	if c.Stream.InitialBackoff <= 0 || c.Stream.MaxBackoff <= 0 {
		return fmt.Errorf("stream backoff must be positive (initial %s, max %s)", c.Stream.InitialBackoff, c.Stream.MaxBackoff)
	}
	if c.Stream.InitialBackoff > c.Stream.MaxBackoff {
		return fmt.Errorf("stream.initial_backoff %s exceeds stream.max_backoff %s", c.Stream.InitialBackoff, c.Stream.MaxBackoff)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if url := strings.TrimSpace(c.Bus.NATSURL); url != "" &&
		!strings.HasPrefix(url, "nats://") && !strings.HasPrefix(url, "tls://") {
		return fmt.Errorf("bus.nats_url must use nats:// or tls://, got %s", c.Bus.NATSURL)
	}
	if strings.ContainsAny(c.Bus.SubjectPrefix, "*> ") {
		return fmt.Errorf("bus.subject_prefix must be a literal subject, got %q", c.Bus.SubjectPrefix)
	}

	return nil
}

// ValidationWarnings reports settings that are legal but probably unintended.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	ids, err := c.Identities()
	if err == nil {
		hasHub := false
		for _, id := range ids {
			if id.Role == directory.RoleHub {
				hasHub = true
			}
			if strings.HasPrefix(id.BaseURL, "http://") && id.SharedSecret != "" && !isLocalURL(id.BaseURL) {
				warnings = append(warnings, fmt.Sprintf("endpoint %q sends minted credentials over plain http", id.Name))
			}
		}
		if !hasHub {
			warnings = append(warnings, "no endpoint has role hub; session tokens will never be attached")
		}
	}
	if c.Request.CacheTTL > time.Minute {
		warnings = append(warnings, fmt.Sprintf("request.cache_ttl %s may serve stale task lists", c.Request.CacheTTL))
	}
	return warnings
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	return logging.ParseLevel(c.Logging.Level)
}

func isLocalURL(raw string) bool {
	host := strings.TrimPrefix(raw, "http://")
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]"
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, ".hubgate", "config.env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		vars[key] = value
	}
	return vars
}
