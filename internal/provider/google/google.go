// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package google implements the embedding and summary backends on the
// Gemini API.
package google

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	DefaultEmbeddingModel = "gemini-embedding-001"
	DefaultChatModel      = "gemini-2.5-flash"

	defaultDimensions = 768
	defaultMaxTokens  = 256
)

func newClient(cfg provider.Config) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, vikingerr.Wrapf(err, vikingerr.CodeProviderUpstreamFailure, "google: creating client")
	}
	return client, nil
}

// Embedder implements embedding.Embedder with EmbedContent.
type Embedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewEmbedder creates a Gemini embedder. Returns an error if the API key
// is missing.
func NewEmbedder(cfg provider.Config) (*Embedder, error) {
	if err := cfg.Require(provider.Google, DefaultEmbeddingModel); err != nil {
		return nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Embedder{client: client, model: cfg.Model, dims: dims}, nil
}

func (e *Embedder) Name() string { return string(provider.Google) }

func (e *Embedder) Dimensions() int { return e.dims }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents, config := buildEmbedRequest(e.dims, texts)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, provider.Upstream(provider.Google, err, "embedding content")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid,
			"google: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid, "google: missing embedding %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

func buildEmbedRequest(dims int, texts []string) ([]*genai.Content, *genai.EmbedContentConfig) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	return contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(dims)),
	}
}

// Summarizer implements summary.Summarizer with GenerateContent.
type Summarizer struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewSummarizer creates a Gemini summarizer.
func NewSummarizer(cfg provider.Config) (*Summarizer, error) {
	if err := cfg.Require(provider.Google, DefaultChatModel); err != nil {
		return nil, err
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Summarizer{client: client, model: cfg.Model, maxTokens: maxTokens}, nil
}

func (s *Summarizer) Name() string { return string(provider.Google) }

func (s *Summarizer) Summarize(ctx context.Context, title, text string) (string, error) {
	contents, config := buildGenerateRequest(s.maxTokens, title, text)
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return "", provider.Upstream(provider.Google, err, "generating summary")
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		break
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", vikingerr.New(vikingerr.CodeSummaryResponseInvalid, "google: empty summary")
	}
	return out, nil
}

func buildGenerateRequest(maxTokens int, title, text string) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := []*genai.Content{genai.NewContentFromText(summary.Input(title, text), genai.RoleUser)}
	return contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(summary.Prompt, genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
	}
}
