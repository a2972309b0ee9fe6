// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/config"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:1933", cfg.Networking.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 1, cfg.Ingest.MaxRetries)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Ingest.StaleAfter)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.InDelta(t, 0.1, cfg.Search.MinScore, 1e-9)
	assert.Equal(t, "redact", cfg.Security.SecretScan)
}

func TestLoad_FromFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "viking.yaml")
	content := `
networking:
  listen: "0.0.0.0:9999"
chunking:
  size: 500
  overlap: 50
embedding:
  provider: openai
  model: text-embedding-3-small
  dimensions: 1536
providers:
  openai:
    api_key: "test-key"
ingest:
  stale_after: 90s
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Networking.Listen)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, "test-key", cfg.Providers["openai"].APIKey)
	assert.Equal(t, 90*time.Second, cfg.Ingest.StaleAfter)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VIKING_NETWORKING_LISTEN", "10.0.0.1:8080")
	t.Setenv("VIKING_INGEST_WORKERS", "7")
	t.Setenv("VIKING_PROVIDERS_ANTHROPIC_API_KEY", "sk-env")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Networking.Listen)
	assert.Equal(t, 7, cfg.Ingest.Workers)
	assert.Equal(t, "sk-env", cfg.Providers["anthropic"].APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, vikingerr.HasCode(err, vikingerr.CodeConfigLoadReadFailure))
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "viking.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  backend: postgres\n"), 0o600))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}

// validConfig returns a config that passes all validation.
func validConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.Empty(t, validConfig(t).Validate())
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantKey string
	}{
		{"empty listen", func(c *config.Config) { c.Networking.Listen = "" }, "networking.listen"},
		{"listen without port", func(c *config.Config) { c.Networking.Listen = "localhost" }, "networking.listen"},
		{"listen bad port", func(c *config.Config) { c.Networking.Listen = "localhost:abc" }, "networking.listen port"},
		{"listen port out of range", func(c *config.Config) { c.Networking.Listen = "localhost:70000" }, "between 0 and 65535"},
		{"negative rate limit", func(c *config.Config) { c.Networking.RateLimitRPS = -1 }, "networking.rate_limit_rps"},
		{"rate limit without burst", func(c *config.Config) { c.Networking.RateLimitRPS = 5; c.Networking.RateLimitBurst = 0 }, "networking.rate_limit_burst"},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"zero fetch timeout", func(c *config.Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"zero fetch attempts", func(c *config.Config) { c.Fetch.MaxAttempts = 0 }, "fetch.max_attempts"},
		{"zero chunk size", func(c *config.Config) { c.Chunking.Size = 0 }, "chunking.size"},
		{"overlap equals size", func(c *config.Config) { c.Chunking.Overlap = c.Chunking.Size }, "chunking.overlap"},
		{"negative overlap", func(c *config.Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"unknown embedder", func(c *config.Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"openai embedder without key", func(c *config.Config) { c.Embedding.Provider = "openai" }, "providers.openai.api_key"},
		{"zero dimensions", func(c *config.Config) { c.Embedding.Dimensions = 0 }, "embedding.dimensions"},
		{"zero batch", func(c *config.Config) { c.Embedding.BatchSize = 0 }, "embedding.batch_size"},
		{"negative rps", func(c *config.Config) { c.Embedding.RateLimitRPS = -1 }, "embedding.rate_limit_rps"},
		{"unknown summarizer", func(c *config.Config) { c.Summary.Provider = "gpt" }, "summary.provider"},
		{"anthropic summarizer without key", func(c *config.Config) { c.Summary.Provider = "anthropic" }, "providers.anthropic.api_key"},
		{"zero workers", func(c *config.Config) { c.Ingest.Workers = 0 }, "ingest.workers"},
		{"negative retries", func(c *config.Config) { c.Ingest.MaxRetries = -1 }, "ingest.max_retries"},
		{"zero stale after", func(c *config.Config) { c.Ingest.StaleAfter = 0 }, "ingest.stale_after"},
		{"job timeout not below stale after", func(c *config.Config) { c.Ingest.JobTimeout = c.Ingest.StaleAfter }, "ingest.job_timeout"},
		{"zero top k", func(c *config.Config) { c.Search.DefaultTopK = 0 }, "search.default_top_k"},
		{"min score above one", func(c *config.Config) { c.Search.MinScore = 1.5 }, "search.min_score"},
		{"unknown secret scan mode", func(c *config.Config) { c.Security.SecretScan = "block" }, "security.secret_scan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs)

			var found bool
			for _, err := range errs {
				assert.True(t, vikingerr.IsInvalidInput(err))
				if strings.Contains(err.Error(), tt.wantKey) {
					found = true
				}
			}
			assert.True(t, found, "expected an error mentioning %q, got %v", tt.wantKey, errs)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.Backend = "nope"
	cfg.Ingest.Workers = 0
	cfg.Search.DefaultTopK = 0

	assert.GreaterOrEqual(t, len(cfg.Validate()), 3)
}

func TestDefaultConfigYAMLIsLoadable(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "viking.yaml")
	require.NoError(t, os.WriteFile(cfgPath, config.DefaultConfigYAML, 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1933", cfg.Networking.Listen)
}
