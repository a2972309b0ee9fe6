// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package openrouter implements the summary backend on OpenRouter's
// OpenAI-compatible API.
package openrouter

import (
	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/provider/openai"
)

const (
	baseURL = "https://openrouter.ai/api/v1"

	DefaultModel = "openai/gpt-4.1-mini"
)

// NewSummarizer creates an OpenRouter summarizer. Returns an error if the
// API key is missing.
func NewSummarizer(cfg provider.Config) (*openai.Summarizer, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewCompatibleSummarizer(provider.OpenRouter, DefaultModel, cfg)
}
