// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package openai implements the embedding and summary backends on the
// OpenAI API and OpenAI-compatible endpoints.
package openai

import (
	"context"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4.1-mini"

	defaultDimensions = 1536
	defaultMaxTokens  = 256
)

func newClient(cfg provider.Config) openaisdk.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// The embedding adapter and the pipeline own retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openaisdk.NewClient(opts...)
}

// Embedder implements embedding.Embedder with the Embeddings API.
type Embedder struct {
	client openaisdk.Client
	model  string
	dims   int
}

// NewEmbedder creates an OpenAI embedder. Returns an error if the API key
// is missing.
func NewEmbedder(cfg provider.Config) (*Embedder, error) {
	if err := cfg.Require(provider.OpenAI, DefaultEmbeddingModel); err != nil {
		return nil, err
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Embedder{client: newClient(cfg), model: cfg.Model, dims: dims}, nil
}

func (e *Embedder) Name() string { return string(provider.OpenAI) }

func (e *Embedder) Dimensions() int { return e.dims }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, buildEmbeddingParams(e.model, e.dims, texts))
	if err != nil {
		return nil, provider.Upstream(provider.OpenAI, err, "creating embeddings")
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid,
				"openai: embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, vikingerr.Errorf(vikingerr.CodeEmbeddingResponseInvalid, "openai: missing embedding %d", i)
		}
	}
	return out, nil
}

func buildEmbeddingParams(model string, dims int, texts []string) openaisdk.EmbeddingNewParams {
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(model, "text-embedding-3") {
		params.Dimensions = param.NewOpt(int64(dims))
	}
	return params
}

// Summarizer implements summary.Summarizer with Chat Completions.
type Summarizer struct {
	client    openaisdk.Client
	name      provider.Name
	model     string
	maxTokens int
}

// NewSummarizer creates an OpenAI summarizer.
func NewSummarizer(cfg provider.Config) (*Summarizer, error) {
	return NewCompatibleSummarizer(provider.OpenAI, DefaultChatModel, cfg)
}

// NewCompatibleSummarizer creates a summarizer for an OpenAI-compatible
// endpoint reported under name.
func NewCompatibleSummarizer(name provider.Name, defaultModel string, cfg provider.Config) (*Summarizer, error) {
	if err := cfg.Require(name, defaultModel); err != nil {
		return nil, err
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Summarizer{client: newClient(cfg), name: name, model: cfg.Model, maxTokens: maxTokens}, nil
}

func (s *Summarizer) Name() string { return string(s.name) }

func (s *Summarizer) Summarize(ctx context.Context, title, text string) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, buildChatParams(s.model, s.maxTokens, title, text))
	if err != nil {
		return "", provider.Upstream(s.name, err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", vikingerr.Errorf(vikingerr.CodeSummaryResponseInvalid, "%s: response has no choices", s.name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildChatParams(model string, maxTokens int, title, text string) openaisdk.ChatCompletionNewParams {
	return openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(summary.Prompt),
			openaisdk.UserMessage(summary.Input(title, text)),
		},
		MaxCompletionTokens: param.NewOpt(int64(maxTokens)),
	}
}
