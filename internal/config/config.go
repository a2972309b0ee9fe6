// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Config is the top-level Viking configuration.
type Config struct {
	Networking NetworkingConfig          `mapstructure:"networking"`
	Auth       AuthConfig                `mapstructure:"auth"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Fetch      FetchConfig               `mapstructure:"fetch"`
	Chunking   ChunkingConfig            `mapstructure:"chunking"`
	Embedding  EmbeddingConfig           `mapstructure:"embedding"`
	Summary    SummaryConfig             `mapstructure:"summary"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Ingest     IngestConfig              `mapstructure:"ingest"`
	Search     SearchConfig              `mapstructure:"search"`
	Security   SecurityConfig            `mapstructure:"security"`
	Log        LogConfig                 `mapstructure:"log"`
}

// NetworkingConfig controls how the HTTP API listens for connections.
type NetworkingConfig struct {
	Listen       string        `mapstructure:"listen"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RateLimitRPS is the sustained per-IP request rate. Zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig lists the API keys accepted on /api/v1. Empty disables auth.
// Entries may be keyring:// references.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// FetchConfig bounds the content fetcher.
type FetchConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	AllowLocal  bool          `mapstructure:"allow_local"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// ChunkingConfig is the chunk policy applied to every parsed document.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	Dimensions   int           `mapstructure:"dimensions"`
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SummaryConfig selects the abstract generator for processed resources.
type SummaryConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	MaxSentences int    `mapstructure:"max_sentences"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// ProviderConfig holds credentials and endpoint for an upstream model API.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// IngestConfig tunes the scheduler and its recovery sweep.
type IngestConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultTopK int     `mapstructure:"default_top_k"`
	MaxTopK     int     `mapstructure:"max_top_k"`
	MinScore    float64 `mapstructure:"min_score"`
}

// SecurityConfig controls the credential scan applied to parsed documents.
type SecurityConfig struct {
	// SecretScan is off, flag (log only) or redact.
	SecretScan string `mapstructure:"secret_scan"`
	// RulesFile adds secrets-patterns-db style rules to the built-in set.
	RulesFile string `mapstructure:"rules_file"`
}

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("networking.listen", "127.0.0.1:1933")
	v.SetDefault("networking.cors_origins", []string{})
	v.SetDefault("networking.read_timeout", 30*time.Second)
	v.SetDefault("networking.write_timeout", 120*time.Second)
	v.SetDefault("networking.rate_limit_rps", 0.0)
	v.SetDefault("networking.rate_limit_burst", 20)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", "")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff", 500*time.Millisecond)
	v.SetDefault("fetch.max_bytes", int64(20<<20))
	v.SetDefault("fetch.allow_local", true)
	v.SetDefault("fetch.user_agent", "viking/1.0")

	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimensions", 256)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.rate_limit_rps", 0.0)
	v.SetDefault("embedding.retry_backoff", time.Second)
	v.SetDefault("embedding.timeout", 60*time.Second)

	v.SetDefault("summary.provider", "extractive")
	v.SetDefault("summary.model", "")
	v.SetDefault("summary.max_sentences", 3)
	v.SetDefault("summary.max_tokens", 256)

	// Registered so VIKING_PROVIDERS_<NAME>_API_KEY is picked up by AutomaticEnv.
	for _, name := range []string{"openai", "google", "anthropic", "openrouter"} {
		v.SetDefault("providers."+name+".api_key", "")
		v.SetDefault("providers."+name+".endpoint", "")
	}

	v.SetDefault("ingest.workers", 3)
	v.SetDefault("ingest.queue_size", 256)
	v.SetDefault("ingest.max_retries", 1)
	v.SetDefault("ingest.stale_after", 10*time.Minute)
	v.SetDefault("ingest.sweep_interval", time.Minute)
	v.SetDefault("ingest.job_timeout", 5*time.Minute)

	v.SetDefault("search.default_top_k", 10)
	v.SetDefault("search.max_top_k", 100)
	v.SetDefault("search.min_score", 0.1)

	v.SetDefault("security.secret_scan", "redact")
	v.SetDefault("security.rules_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// SetupEnv binds VIKING_* environment variables, with "." in keys
// replaced by "_" (e.g. VIKING_EMBEDDING_PROVIDER).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("VIKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix VIKING_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, vikingerr.Errorf(vikingerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, vikingerr.Errorf(vikingerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, vikingerr.Errorf(vikingerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateFetch()...)
	errs = append(errs, c.validateChunking()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateSummary()...)
	errs = append(errs, c.validateIngest()...)
	errs = append(errs, c.validateSearch()...)
	errs = append(errs, c.validateSecurity()...)

	return errs
}

func invalid(format string, args ...any) error {
	return vikingerr.Errorf(vikingerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		return append(errs, invalid("networking.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		return append(errs, invalid("networking.listen must be a valid host:port address, got %q: %w", c.Networking.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, invalid("networking.listen port must be a number, got %q", portStr))
	} else if port < 0 || port > 65535 {
		errs = append(errs, invalid("networking.listen port must be between 0 and 65535, got %d", port))
	}
	if c.Networking.RateLimitRPS < 0 {
		errs = append(errs, invalid("networking.rate_limit_rps must not be negative, got %g", c.Networking.RateLimitRPS))
	}
	if c.Networking.RateLimitRPS > 0 && c.Networking.RateLimitBurst <= 0 {
		errs = append(errs, invalid("networking.rate_limit_burst must be positive when a rate is set, got %d", c.Networking.RateLimitBurst))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		return []error{invalid("storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend)}
	}
	return nil
}

func (c *Config) validateFetch() []error {
	var errs []error
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, invalid("fetch.timeout must be greater than 0, got %s", c.Fetch.Timeout))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, invalid("fetch.max_attempts must be at least 1, got %d", c.Fetch.MaxAttempts))
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, invalid("fetch.max_bytes must be greater than 0, got %d", c.Fetch.MaxBytes))
	}
	return errs
}

func (c *Config) validateChunking() []error {
	var errs []error
	if c.Chunking.Size <= 0 {
		errs = append(errs, invalid("chunking.size must be greater than 0, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, invalid("chunking.overlap must be in [0, chunking.size), got %d", c.Chunking.Overlap))
	}
	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	switch c.Embedding.Provider {
	case "hash":
	case "openai", "google":
		if c.providerKey(c.Embedding.Provider) == "" {
			errs = append(errs, invalid("embedding.provider %q requires providers.%s.api_key", c.Embedding.Provider, c.Embedding.Provider))
		}
	default:
		errs = append(errs, invalid("embedding.provider must be one of [hash, openai, google], got %q", c.Embedding.Provider))
	}

	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, invalid("embedding.dimensions must be greater than 0, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, invalid("embedding.batch_size must be greater than 0, got %d", c.Embedding.BatchSize))
	}
	if c.Embedding.Concurrency <= 0 {
		errs = append(errs, invalid("embedding.concurrency must be greater than 0, got %d", c.Embedding.Concurrency))
	}
	if c.Embedding.RateLimitRPS < 0 {
		errs = append(errs, invalid("embedding.rate_limit_rps must not be negative, got %g", c.Embedding.RateLimitRPS))
	}
	if c.Embedding.RetryBackoff < 0 {
		errs = append(errs, invalid("embedding.retry_backoff must not be negative, got %s", c.Embedding.RetryBackoff))
	}

	return errs
}

func (c *Config) validateSummary() []error {
	switch c.Summary.Provider {
	case "none", "extractive":
		return nil
	case "openai", "anthropic", "google", "openrouter":
		if c.providerKey(c.Summary.Provider) == "" {
			return []error{invalid("summary.provider %q requires providers.%s.api_key", c.Summary.Provider, c.Summary.Provider)}
		}
		return nil
	default:
		return []error{invalid("summary.provider must be one of [none, extractive, openai, anthropic, google, openrouter], got %q", c.Summary.Provider)}
	}
}

func (c *Config) validateIngest() []error {
	var errs []error
	if c.Ingest.Workers <= 0 {
		errs = append(errs, invalid("ingest.workers must be greater than 0, got %d", c.Ingest.Workers))
	}
	if c.Ingest.QueueSize <= 0 {
		errs = append(errs, invalid("ingest.queue_size must be greater than 0, got %d", c.Ingest.QueueSize))
	}
	if c.Ingest.MaxRetries < 0 {
		errs = append(errs, invalid("ingest.max_retries must not be negative, got %d", c.Ingest.MaxRetries))
	}
	if c.Ingest.StaleAfter <= 0 {
		errs = append(errs, invalid("ingest.stale_after must be greater than 0, got %s", c.Ingest.StaleAfter))
	}
	if c.Ingest.SweepInterval <= 0 {
		errs = append(errs, invalid("ingest.sweep_interval must be greater than 0, got %s", c.Ingest.SweepInterval))
	}
	if c.Ingest.JobTimeout <= 0 {
		errs = append(errs, invalid("ingest.job_timeout must be greater than 0, got %s", c.Ingest.JobTimeout))
	}
	if c.Ingest.JobTimeout > 0 && c.Ingest.StaleAfter > 0 && c.Ingest.JobTimeout >= c.Ingest.StaleAfter {
		errs = append(errs, invalid("ingest.job_timeout must be shorter than ingest.stale_after, got %s >= %s",
			c.Ingest.JobTimeout, c.Ingest.StaleAfter))
	}
	return errs
}

func (c *Config) validateSearch() []error {
	var errs []error
	if c.Search.DefaultTopK <= 0 {
		errs = append(errs, invalid("search.default_top_k must be greater than 0, got %d", c.Search.DefaultTopK))
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		errs = append(errs, invalid("search.max_top_k must be at least search.default_top_k, got %d", c.Search.MaxTopK))
	}
	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		errs = append(errs, invalid("search.min_score must be in [-1, 1], got %g", c.Search.MinScore))
	}
	return errs
}

func (c *Config) providerKey(name string) string {
	if c.Providers == nil {
		return ""
	}
	return c.Providers[name].APIKey
}

func (c *Config) validateSecurity() []error {
	switch c.Security.SecretScan {
	case "off", "flag", "redact":
		return nil
	}
	return []error{invalid("security.secret_scan must be one of [off, flag, redact], got %q", c.Security.SecretScan)}
}
