package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RequestsPerHour != 1000 {
		t.Errorf("RequestsPerHour = %d, want 1000", cfg.RequestsPerHour)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.CacheMaxEntries != 10000 {
		t.Errorf("CacheMaxEntries = %d, want 10000", cfg.CacheMaxEntries)
	}
	if cfg.CacheMaxMemoryBytes != 100*1024*1024 {
		t.Errorf("CacheMaxMemoryBytes = %d, want 100 MiB", cfg.CacheMaxMemoryBytes)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvRequestsPerHour, "250")
	t.Setenv(EnvRequestTimeout, "5s")
	t.Setenv(EnvCacheMaxEntries, "500")
	t.Setenv(EnvCacheMaxMemory, "1048576")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RequestsPerHour != 250 {
		t.Errorf("RequestsPerHour = %d, want 250", cfg.RequestsPerHour)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.CacheMaxEntries != 500 {
		t.Errorf("CacheMaxEntries = %d, want 500", cfg.CacheMaxEntries)
	}
	if cfg.CacheMaxMemoryBytes != 1048576 {
		t.Errorf("CacheMaxMemoryBytes = %d, want 1048576", cfg.CacheMaxMemoryBytes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "")

	if _, err := Load(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Load() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoad_InvalidQuota(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvRequestsPerHour, "-5")

	if _, err := Load(); !errors.Is(err, ErrInvalidQuota) {
		t.Errorf("Load() error = %v, want ErrInvalidQuota", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvRequestTimeout, "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestLoad_ExpandsReferences(t *testing.T) {
	t.Setenv("STATESET_TEST_SECRET", "sk-expanded")
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "${STATESET_TEST_SECRET}")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "sk-expanded" {
		t.Errorf("APIKey = %q, want sk-expanded", cfg.APIKey)
	}
}

func TestLoad_MissingReferenceFails(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://api.stateset.com/v1")
	t.Setenv(EnvAPIKey, "${STATESET_TEST_NO_SUCH_VAR}")

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want missing-variable error")
	}
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("STATESET_TEST_VALUE", "hello")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain string", "no variables", "no variables", false},
		{"braced reference", "${STATESET_TEST_VALUE} world", "hello world", false},
		{"escaped dollar", "cost: $$5", "cost: $5", false},
		{"missing variable", "${STATESET_TEST_ABSENT}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnvStrict(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ExpandEnvStrict(%q) error = nil, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandEnvStrict(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict_ListsAllMissing(t *testing.T) {
	_, err := ExpandEnvStrict("${STATESET_TEST_MISSING_B} ${STATESET_TEST_MISSING_A}")
	if err == nil {
		t.Fatal("ExpandEnvStrict() error = nil, want error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "STATESET_TEST_MISSING_A") || !strings.Contains(msg, "STATESET_TEST_MISSING_B") {
		t.Errorf("error %q should name both missing variables", msg)
	}
	if strings.Index(msg, "STATESET_TEST_MISSING_A") > strings.Index(msg, "STATESET_TEST_MISSING_B") {
		t.Errorf("error %q should list missing variables sorted", msg)
	}
}
