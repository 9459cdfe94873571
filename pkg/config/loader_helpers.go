package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ananta888/hubgate/pkg/directory"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Strings and durations apply when
// non-zero; booleans and counts apply only when the key is present in raw so
// an explicit zero can override a default.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if len(override.Endpoints) > 0 {
		base.Endpoints = append([]directory.Identity(nil), override.Endpoints...)
	}
	if strings.TrimSpace(override.EndpointsFile) != "" {
		base.EndpointsFile = override.EndpointsFile
	}

	if override.Session.TokenFile != "" {
		base.Session.TokenFile = override.Session.TokenFile
	}
	if override.Session.Token != "" {
		base.Session.Token = override.Session.Token
	}

	if override.Request.Timeout != 0 {
		base.Request.Timeout = override.Request.Timeout
	}
	if fieldSet(raw, "request", "retry_count") {
		base.Request.RetryCount = override.Request.RetryCount
	}
	if fieldSet(raw, "request", "cache_ttl") {
		base.Request.CacheTTL = override.Request.CacheTTL
	}
	if override.Request.CacheSize != 0 {
		base.Request.CacheSize = override.Request.CacheSize
	}
	if fieldSet(raw, "request", "rate_limit") {
		base.Request.RateLimit = override.Request.RateLimit
	}
	if override.Request.RateBurst != 0 {
		base.Request.RateBurst = override.Request.RateBurst
	}

	if override.Stream.InitialBackoff != 0 {
		base.Stream.InitialBackoff = override.Stream.InitialBackoff
	}
	if override.Stream.MaxBackoff != 0 {
		base.Stream.MaxBackoff = override.Stream.MaxBackoff
	}
	if override.Stream.Buffer != 0 {
		base.Stream.Buffer = override.Stream.Buffer
	}

	if override.Terminal.DialTimeout != 0 {
		base.Terminal.DialTimeout = override.Terminal.DialTimeout
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if fieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}
	if override.Telemetry.ServiceName != "" {
		base.Telemetry.ServiceName = override.Telemetry.ServiceName
	}

	if fieldSet(raw, "bus", "nats_url") {
		base.Bus.NATSURL = override.Bus.NATSURL
	}
	if override.Bus.SubjectPrefix != "" {
		base.Bus.SubjectPrefix = override.Bus.SubjectPrefix
	}
}

func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
