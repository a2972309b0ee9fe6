// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package search answers natural language queries against the vector index.
// Only resources that are processed at query time contribute results, and
// each resource appears at most once, represented by its best chunk.
package search

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/viking-dev/viking/internal/namespace"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	defaultTopK     = 10
	defaultMaxTopK  = 100
	excerptRunes    = 280
	maxFetchFactor  = 16
	minCandidateK   = 8
	excerptEllipsis = "..."
)

// Embedder embeds query text. It must be the same embedder that indexed the
// chunks.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ResourceReader is the slice of the resource store the engine needs.
type ResourceReader interface {
	Get(ctx context.Context, uri string) (*store.Resource, error)
}

// Config holds search defaults.
type Config struct {
	DefaultTopK int
	MaxTopK     int
	// MinScore drops results whose cosine similarity is lower.
	MinScore float64
}

// Query is one search request. A zero TopK takes the default and a nil
// MinScore the configured minimum.
type Query struct {
	Text      string
	TargetURI string
	TopK      int
	MinScore  *float64
}

// Result is one matching resource.
type Result struct {
	URI       string  `json:"uri"`
	Score     float64 `json:"score"`
	Chunk     string  `json:"chunk"`
	Excerpt   string  `json:"excerpt"`
	Abstract  string  `json:"abstract,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
}

// Engine runs queries. It is safe for concurrent use.
type Engine struct {
	resources ResourceReader
	vectors   store.VectorIndex
	embedder  Embedder
	cfg       Config
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(resources ResourceReader, vectors store.VectorIndex, embedder Embedder, cfg Config, opts ...Option) *Engine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = defaultTopK
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = max(defaultMaxTopK, cfg.DefaultTopK)
	}
	e := &Engine{
		resources: resources,
		vectors:   vectors,
		embedder:  embedder,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Find returns up to TopK processed resources ranked by the similarity of
// their best chunk to q.Text, optionally limited to resources under
// q.TargetURI. No match is an empty slice, not an error.
func (e *Engine) Find(ctx context.Context, q Query) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, vikingerr.New(vikingerr.CodeSearchQueryInvalid, "query must not be empty")
	}
	topK, err := e.topK(q.TopK)
	if err != nil {
		return nil, err
	}
	scope, err := scopeOf(q.TargetURI)
	if err != nil {
		return nil, err
	}
	minScore := e.cfg.MinScore
	if q.MinScore != nil {
		minScore = *q.MinScore
	}

	vectors, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid,
			"embedder returned %d vectors for one query", len(vectors))
	}

	g := gate{engine: e, seen: make(map[string]bool), records: make(map[string]*store.Resource)}
	results := make([]Result, 0, topK)
	k := max(topK*2, minCandidateK)
	limit := topK * maxFetchFactor

	for {
		hits, err := e.vectors.Query(ctx, vectors[0], scope, k)
		if err != nil {
			return nil, err
		}

		results = results[:0]
		clear(g.seen)
		belowMin := false
		for _, hit := range hits {
			if hit.Score < minScore {
				belowMin = true
				break
			}
			res, ok := g.admit(ctx, hit)
			if !ok {
				continue
			}
			results = append(results, res)
			if len(results) == topK {
				break
			}
		}

		// Stop once enough results are collected, the index has no more
		// candidates, scores fell below the minimum or the fetch bound is
		// reached.
		if len(results) == topK || len(hits) < k || belowMin || k >= limit {
			break
		}
		k = min(k*2, limit)
	}

	e.logger.Debug("search",
		"scope", scope,
		"top_k", topK,
		"candidates", k,
		"results", len(results),
	)
	return results, nil
}

func (e *Engine) topK(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, vikingerr.Errorf(vikingerr.CodeSearchQueryInvalid, "top_k must not be negative, got %d", requested)
	case requested == 0:
		return e.cfg.DefaultTopK, nil
	}
	return min(requested, e.cfg.MaxTopK), nil
}

// scopeOf maps a target URI to a vector index scope. The namespace root and
// the resources root both mean everything.
func scopeOf(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", nil
	}
	uri, err := namespace.Normalize(target)
	if err != nil {
		return "", err
	}
	if uri == namespace.Root || uri == namespace.ResourcesRoot {
		return "", nil
	}
	return uri, nil
}

// gate filters hits down to the best chunk of each processed resource.
// Records are read once per query.
type gate struct {
	engine  *Engine
	seen    map[string]bool
	records map[string]*store.Resource
}

func (g *gate) admit(ctx context.Context, hit store.Hit) (Result, bool) {
	if g.seen[hit.ResourceURI] {
		return Result{}, false
	}
	rec, ok := g.records[hit.ResourceURI]
	if !ok {
		var err error
		rec, err = g.engine.resources.Get(ctx, hit.ResourceURI)
		if err != nil {
			if !vikingerr.IsNotFound(err) {
				g.engine.logger.Warn("search skipped resource", "uri", hit.ResourceURI, "error", err)
			}
			rec = nil
		}
		g.records[hit.ResourceURI] = rec
	}
	if rec == nil || rec.Status != store.StatusProcessed {
		return Result{}, false
	}
	g.seen[hit.ResourceURI] = true

	return Result{
		URI:       rec.URI,
		Score:     hit.Score,
		Chunk:     store.ChunkID(hit.ResourceURI, hit.Seq),
		Excerpt:   excerpt(hit.Text),
		Abstract:  rec.Abstract,
		MediaType: rec.MediaType,
	}, true
}

func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	runes := []rune(text)[:excerptRunes]
	cut := len(runes)
	for i := len(runes) - 1; i > excerptRunes*4/5; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + excerptEllipsis
}
