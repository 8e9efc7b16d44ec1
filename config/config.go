// Package config loads and validates configuration for the resilience
// layer from the environment.
//
// String settings may reference environment variables with `${VAR}`
// syntax; references to missing variables are an error rather than an
// empty string, so a misconfigured deployment fails at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variable names.
const (
	EnvAPIBaseURL      = "STATESET_API_URL"
	EnvAPIKey          = "STATESET_API_KEY"
	EnvRequestsPerHour = "STATESET_REQUESTS_PER_HOUR"
	EnvRequestTimeout  = "STATESET_REQUEST_TIMEOUT"
	EnvCacheMaxEntries = "STATESET_CACHE_MAX_ENTRIES"
	EnvCacheMaxMemory  = "STATESET_CACHE_MAX_MEMORY_BYTES"
	EnvLogLevel        = "STATESET_LOG_LEVEL"
)

// Configuration errors.
var (
	ErrMissingAPIKey  = errors.New("config: API key is required")
	ErrMissingBaseURL = errors.New("config: API base URL is required")
	ErrInvalidQuota   = errors.New("config: requests per hour must be positive")
)

// Config holds the settings the resilience layer needs at startup.
type Config struct {
	// APIBaseURL is the StateSet API root.
	APIBaseURL string

	// APIKey is the bearer token for outbound requests.
	APIKey string

	// RequestsPerHour is the hourly API quota shared by the request
	// queue and the connection pool.
	// Default: 1000
	RequestsPerHour int

	// RequestTimeout is the per-request HTTP timeout.
	// Default: 30s
	RequestTimeout time.Duration

	// CacheMaxEntries bounds the response cache item count.
	// Default: 10000
	CacheMaxEntries int

	// CacheMaxMemoryBytes bounds the response cache memory footprint.
	// Default: 100 MiB
	CacheMaxMemoryBytes int64

	// LogLevel is the structured log level (debug|info|warn|error).
	// Default: info
	LogLevel string
}

// Load reads configuration from the environment and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		RequestsPerHour:     1000,
		RequestTimeout:      30 * time.Second,
		CacheMaxEntries:     10000,
		CacheMaxMemoryBytes: 100 * 1024 * 1024,
		LogLevel:            "info",
	}

	var err error
	if cfg.APIBaseURL, err = lookupExpanded(EnvAPIBaseURL, cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if cfg.APIKey, err = lookupExpanded(EnvAPIKey, cfg.APIKey); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = lookupExpanded(EnvLogLevel, cfg.LogLevel); err != nil {
		return Config{}, err
	}

	if v := os.Getenv(EnvRequestsPerHour); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", EnvRequestsPerHour, err)
		}
		cfg.RequestsPerHour = n
	}
	if v := os.Getenv(EnvRequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv(EnvCacheMaxEntries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", EnvCacheMaxEntries, err)
		}
		cfg.CacheMaxEntries = n
	}
	if v := os.Getenv(EnvCacheMaxMemory); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", EnvCacheMaxMemory, err)
		}
		cfg.CacheMaxMemoryBytes = n
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required settings are present and sane.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.RequestsPerHour <= 0 {
		return ErrInvalidQuota
	}
	return nil
}

// lookupExpanded reads an environment variable and strictly expands any
// ${VAR} references in its value.
func lookupExpanded(key, fallback string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	expanded, err := ExpandEnvStrict(v)
	if err != nil {
		return "", fmt.Errorf("config: %s: %w", key, err)
	}
	return expanded, nil
}
