// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package embedding turns text into fixed-size vectors. Backends implement
// Embedder; the Adapter adds batching, bounded concurrency, rate limiting
// and a retry before reporting the backend unavailable.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
	"github.com/viking-dev/viking/pkg/health"
)

// Embedder is an embedding model backend.
type Embedder interface {
	Name() string
	// Dimensions is the fixed length of every returned vector.
	Dimensions() int
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes an Adapter. Zero values fall back to defaults.
type Config struct {
	BatchSize    int
	Concurrency  int
	RateLimitRPS float64
	// Retries is the number of extra attempts per batch after a failure.
	Retries      int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
	defaultBackoff     = time.Second
)

// Adapter wraps an Embedder. Documents and queries go through the same
// Embed path so both land in the same vector space.
type Adapter struct {
	backend Embedder
	cfg     Config
	limiter *rate.Limiter
	health  *health.Tracker
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithHealthTracker replaces the default health tracker (for testing).
func WithHealthTracker(t *health.Tracker) Option {
	return func(a *Adapter) { a.health = t }
}

// NewAdapter wraps backend. A negative Retries disables retrying; zero
// means one retry.
func NewAdapter(backend Embedder, cfg Config, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, vikingerr.New(vikingerr.CodeEmbeddingRequestInvalid, "embedding backend is nil")
	}
	if backend.Dimensions() <= 0 {
		return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingRequestInvalid,
			"embedding backend %s reports %d dimensions", backend.Name(), backend.Dimensions())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	switch {
	case cfg.Retries == 0:
		cfg.Retries = 1
	case cfg.Retries < 0:
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultBackoff
	}

	tracker, err := health.NewTracker(health.DefaultCooldown)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		backend: backend,
		cfg:     cfg,
		health:  tracker,
		logger:  slog.Default(),
	}
	if cfg.RateLimitRPS > 0 {
		burst := max(1, int(cfg.RateLimitRPS))
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Adapter) Name() string { return a.backend.Name() }

func (a *Adapter) Dimensions() int { return a.backend.Dimensions() }

// Health reports the backend health as seen by this adapter.
func (a *Adapter) Health() health.Metrics { return a.health.Metrics() }

// Embed embeds texts in batches and returns the vectors in input order.
// A batch that fails is retried after an exponential backoff; when the
// retries are exhausted the call fails with CodeEmbeddingUnavailable and
// no partial result is returned.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for start := 0; start < len(texts); start += a.cfg.BatchSize {
		end := min(start+a.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := a.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (a *Adapter) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := a.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (a *Adapter) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	attempts := a.cfg.Retries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := a.cfg.RetryBackoff << (attempt - 2)
			a.logger.Warn("embedding batch failed, retrying",
				"provider", a.backend.Name(), "attempt", attempt, "backoff", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}

		vecs, err := a.call(ctx, batch)
		if err == nil {
			a.health.RecordSuccess()
			return vecs, nil
		}
		a.health.RecordFailure(err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, vikingerr.New(vikingerr.CodeEmbeddingUnavailable,
		fmt.Sprintf("embedding backend unavailable: %v", lastErr),
		vikingerr.FieldProvider(a.backend.Name()), vikingerr.Field("batch_size", len(batch)))
}

func (a *Adapter) call(ctx context.Context, batch []string) ([][]float32, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	vecs, err := a.backend.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid,
			"backend returned %d vectors for %d texts", len(vecs), len(batch))
	}
	dims := a.backend.Dimensions()
	for i, v := range vecs {
		if len(v) != dims {
			return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid,
				"vector %d has %d dimensions, want %d", i, len(v), dims)
		}
	}
	return vecs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
