// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/viking-dev/viking/internal/config"
	"github.com/viking-dev/viking/internal/embedding"
	"github.com/viking-dev/viking/internal/fetch"
	"github.com/viking-dev/viking/internal/ingest"
	"github.com/viking-dev/viking/internal/parser"
	"github.com/viking-dev/viking/internal/provider"
	anthropicprov "github.com/viking-dev/viking/internal/provider/anthropic"
	googleprov "github.com/viking-dev/viking/internal/provider/google"
	openaiprov "github.com/viking-dev/viking/internal/provider/openai"
	openrouterprov "github.com/viking-dev/viking/internal/provider/openrouter"
	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/secrets"
	"github.com/viking-dev/viking/internal/security/scanner"
	"github.com/viking-dev/viking/internal/server"
	"github.com/viking-dev/viking/internal/store"
	_ "github.com/viking-dev/viking/internal/store/memory" // register memory backend
	_ "github.com/viking-dev/viking/internal/store/sqlite" // register sqlite backend
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// keyCheckTimeout bounds provider key validation from the config endpoint.
const keyCheckTimeout = 15 * time.Second

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server    *server.Server
	Scheduler *ingest.Scheduler
	Search    *search.Engine
	Embedder  *embedding.Adapter
	Resources store.ResourceStore
	Vectors   store.VectorIndex
}

// WireApp creates all subsystems and wires them together. dataDir is the
// root directory for persistent state. secretStore backs the provider
// configuration endpoint and may be nil to disable it.
func WireApp(cfg *config.Config, dataDir string, secretStore secrets.Store) (*App, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	// 1. Embedding backend. It decides the vector dimensions of the index.
	backend, err := newEmbeddingBackend(cfg)
	if err != nil {
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating embedding backend %q", cfg.Embedding.Provider)
	}
	embedder, err := embedding.NewAdapter(backend, embedding.Config{
		BatchSize:    cfg.Embedding.BatchSize,
		Concurrency:  cfg.Embedding.Concurrency,
		RateLimitRPS: cfg.Embedding.RateLimitRPS,
		RetryBackoff: cfg.Embedding.RetryBackoff,
		Timeout:      cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating embedding adapter")
	}

	// 2. Stores.
	resources, vectors, err := store.Open(&store.StorageConfig{
		Backend:          cfg.Storage.Backend,
		DataDir:          dataDir,
		VectorDimensions: backend.Dimensions(),
	})
	if err != nil {
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "opening %s storage", cfg.Storage.Backend)
	}
	closeStores := func() {
		_ = vectors.Close()
		_ = resources.Close()
	}

	// 3. Pipeline collaborators.
	chunker, err := parser.NewChunker(parser.Policy{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap})
	if err != nil {
		closeStores()
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating chunker")
	}
	summarizer, err := newSummarizer(cfg)
	if err != nil {
		closeStores()
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating summarizer %q", cfg.Summary.Provider)
	}
	fetcher := fetch.New(fetch.Config{
		Timeout:     cfg.Fetch.Timeout,
		MaxAttempts: cfg.Fetch.MaxAttempts,
		Backoff:     cfg.Fetch.Backoff,
		MaxBytes:    cfg.Fetch.MaxBytes,
		AllowLocal:  cfg.Fetch.AllowLocal,
		UserAgent:   cfg.Fetch.UserAgent,
	})
	filter, err := newCredentialFilter(cfg)
	if err != nil {
		closeStores()
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating secret scanner")
	}

	deps := ingest.Deps{
		Resources: resources,
		Vectors:   vectors,
		Fetcher:   fetcher,
		Chunker:   chunker,
		Embedder:  embedder,
		Filter:    filter,
	}
	// A nil *Summarizer must not become a non-nil interface.
	if summarizer != nil {
		deps.Summarizer = summarizer
	}

	// 4. Scheduler.
	sched, err := ingest.New(deps, ingest.Config{
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		StaleAfter:    cfg.Ingest.StaleAfter,
		SweepInterval: cfg.Ingest.SweepInterval,
		JobTimeout:    cfg.Ingest.JobTimeout,
		Retry:         ingest.RetryPolicy{MaxRetries: cfg.Ingest.MaxRetries},
	})
	if err != nil {
		closeStores()
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating scheduler")
	}

	// 5. Search engine.
	engine := search.New(resources, vectors, embedder, search.Config{
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
		MinScore:    cfg.Search.MinScore,
	})

	// 6. HTTP server.
	if len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("authentication disabled: no API keys configured, all endpoints are unauthenticated")
	}
	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Networking.Listen,
		CORSOrigins:  cfg.Networking.CORSOrigins,
		ReadTimeout:  cfg.Networking.ReadTimeout,
		WriteTimeout: cfg.Networking.WriteTimeout,
		APIKeys:      cfg.Auth.APIKeys,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Networking.RateLimitRPS,
			Burst:             cfg.Networking.RateLimitBurst,
		},
		Version: version,
	})
	if err != nil {
		_ = sched.Close()
		closeStores()
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating server")
	}

	services, err := server.NewServices(sched, resources, engine, embedder)
	if err != nil {
		_ = srv.Close()
		_ = sched.Close()
		closeStores()
		return nil, vikingerr.Wrapf(err, vikingerr.CodeCLISetupFailure, "creating services")
	}
	srv.RegisterServices(services)

	if secretStore != nil {
		srv.RegisterConfigDeps(&server.ConfigDeps{
			Secrets:          secretStore,
			ValidateProvider: server.DefaultProviderKeyValidator(&http.Client{Timeout: keyCheckTimeout}),
		})
	}

	return &App{
		Server:    srv,
		Scheduler: sched,
		Search:    engine,
		Embedder:  embedder,
		Resources: resources,
		Vectors:   vectors,
	}, nil
}

// Start recovers interrupted work, starts the workers and runs the HTTP
// server until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	return a.Server.Start(ctx)
}

// Close stops intake, drains the workers and releases the stores.
func (a *App) Close() error {
	type closer interface{ Close() error }
	// Order matters: no new requests, then no running jobs, then storage.
	closers := []closer{a.Server, a.Scheduler, a.Vectors, a.Resources}

	var errs []error
	for _, c := range closers {
		if c != nil {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// providerConfig builds the connection config of a named provider.
func providerConfig(cfg *config.Config, name, model string) provider.Config {
	pc := cfg.Providers[name]
	return provider.Config{
		APIKey:  pc.APIKey,
		BaseURL: pc.Endpoint,
		Model:   model,
	}
}

// embeddingFactories maps embedding.provider values to constructors.
// Declared as a variable so tests can inject failing factories.
var embeddingFactories = map[string]func(*config.Config) (embedding.Embedder, error){
	"hash": func(cfg *config.Config) (embedding.Embedder, error) {
		return embedding.NewHashEmbedder(cfg.Embedding.Dimensions), nil
	},
	"openai": func(cfg *config.Config) (embedding.Embedder, error) {
		pc := providerConfig(cfg, "openai", cfg.Embedding.Model)
		pc.Dimensions = cfg.Embedding.Dimensions
		return openaiprov.NewEmbedder(pc)
	},
	"google": func(cfg *config.Config) (embedding.Embedder, error) {
		pc := providerConfig(cfg, "google", cfg.Embedding.Model)
		pc.Dimensions = cfg.Embedding.Dimensions
		return googleprov.NewEmbedder(pc)
	},
}

func newEmbeddingBackend(cfg *config.Config) (embedding.Embedder, error) {
	factory, ok := embeddingFactories[cfg.Embedding.Provider]
	if !ok {
		return nil, vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return factory(cfg)
}

// summaryFactories maps summary.provider values to constructors. "none"
// is absent and disables the summarize stage.
var summaryFactories = map[string]func(*config.Config) (summary.Summarizer, error){
	"extractive": func(cfg *config.Config) (summary.Summarizer, error) {
		return summary.NewExtractive(cfg.Summary.MaxSentences), nil
	},
	"openai": func(cfg *config.Config) (summary.Summarizer, error) {
		pc := providerConfig(cfg, "openai", cfg.Summary.Model)
		pc.MaxTokens = cfg.Summary.MaxTokens
		return openaiprov.NewSummarizer(pc)
	},
	"anthropic": func(cfg *config.Config) (summary.Summarizer, error) {
		pc := providerConfig(cfg, "anthropic", cfg.Summary.Model)
		pc.MaxTokens = cfg.Summary.MaxTokens
		return anthropicprov.NewSummarizer(pc)
	},
	"google": func(cfg *config.Config) (summary.Summarizer, error) {
		pc := providerConfig(cfg, "google", cfg.Summary.Model)
		pc.MaxTokens = cfg.Summary.MaxTokens
		return googleprov.NewSummarizer(pc)
	},
	"openrouter": func(cfg *config.Config) (summary.Summarizer, error) {
		pc := providerConfig(cfg, "openrouter", cfg.Summary.Model)
		pc.MaxTokens = cfg.Summary.MaxTokens
		return openrouterprov.NewSummarizer(pc)
	},
}

// newSummarizer returns nil, nil when summaries are disabled.
func newSummarizer(cfg *config.Config) (summary.Summarizer, error) {
	if cfg.Summary.Provider == "none" || cfg.Summary.Provider == "" {
		return nil, nil
	}
	factory, ok := summaryFactories[cfg.Summary.Provider]
	if !ok {
		return nil, vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "unknown summary provider %q", cfg.Summary.Provider)
	}
	return factory(cfg)
}

// newCredentialFilter builds the filter applied to parsed documents. It
// returns nil when scanning is off.
func newCredentialFilter(cfg *config.Config) (*scanner.Filter, error) {
	mode, err := scanner.ParseMode(cfg.Security.SecretScan)
	if err != nil {
		return nil, err
	}
	if mode == scanner.ModeOff {
		return nil, nil
	}

	rules := scanner.DefaultRules()
	if cfg.Security.RulesFile != "" {
		extra, err := scanner.LoadRules(cfg.Security.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, extra...)
	}

	s, err := scanner.NewRegexScanner(rules)
	if err != nil {
		return nil, err
	}
	slog.Debug("secret scanner ready", "mode", mode, "rules", len(s.Rules()))
	return scanner.NewFilter(s, mode), nil
}
