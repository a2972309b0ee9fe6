// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package anthropic implements the summary backend on the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	DefaultModel = "claude-haiku-4-5"

	defaultMaxTokens = 256
)

// Summarizer implements summary.Summarizer.
type Summarizer struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
}

// NewSummarizer creates an Anthropic summarizer. Returns an error if the
// API key is missing.
func NewSummarizer(cfg provider.Config) (*Summarizer, error) {
	if err := cfg.Require(provider.Anthropic, DefaultModel); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Summarizer{
		client:    anthropicsdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

func (s *Summarizer) Name() string { return string(provider.Anthropic) }

func (s *Summarizer) Summarize(ctx context.Context, title, text string) (string, error) {
	msg, err := s.client.Messages.New(ctx, buildParams(s.model, s.maxTokens, title, text))
	if err != nil {
		return "", provider.Upstream(provider.Anthropic, err, "creating message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", vikingerr.New(vikingerr.CodeSummaryResponseInvalid, "anthropic: response has no text")
	}
	return out, nil
}

// buildParams renders a summary request as MessageNewParams.
func buildParams(model string, maxTokens int, title, text string) anthropicsdk.MessageNewParams {
	return anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(maxTokens),
		System:    []anthropicsdk.TextBlockParam{{Text: summary.Prompt}},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(summary.Input(title, text))),
		},
	}
}
