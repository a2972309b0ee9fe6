// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package provider holds what the hosted model backends share: their names,
// connection config and API key checks. The backends themselves live in
// the openai, google, anthropic and openrouter subpackages and implement
// embedding.Embedder and/or summary.Summarizer.
package provider

import (
	"strings"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Name identifies a hosted model provider.
type Name string

const (
	Anthropic  Name = "anthropic"
	OpenAI     Name = "openai"
	Google     Name = "google"
	OpenRouter Name = "openrouter"
)

// Names lists every supported provider.
func Names() []Name {
	return []Name{Anthropic, Google, OpenAI, OpenRouter}
}

// Config connects a backend to its provider.
type Config struct {
	APIKey string
	// BaseURL overrides the provider endpoint (proxies, compatible
	// servers, tests).
	BaseURL string
	Model   string
	// Dimensions requests a vector size from embedding models.
	Dimensions int
	// MaxTokens bounds generated output.
	MaxTokens int
}

// Require checks the fields every backend needs and fills the model
// default.
func (c *Config) Require(name Name, defaultModel string) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return vikingerr.New(vikingerr.CodeProviderRequestInvalid,
			string(name)+": missing api_key in config", vikingerr.FieldProvider(string(name)))
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	return nil
}

// Upstream wraps a failed provider call.
func Upstream(name Name, err error, op string) error {
	return vikingerr.Wrapf(err, vikingerr.CodeProviderUpstreamFailure, "%s: %s", name, op)
}
