// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

var modelsEndpoints = map[Name]string{
	Anthropic:  "https://api.anthropic.com/v1/models",
	OpenAI:     "https://api.openai.com/v1/models",
	Google:     "https://generativelanguage.googleapis.com/v1/models",
	OpenRouter: "https://openrouter.ai/api/v1/models",
}

// ValidateKey makes a lightweight call to the provider's models endpoint
// to confirm the API key is accepted.
func ValidateKey(ctx context.Context, client *http.Client, name Name, key string) error {
	return ValidateKeyWithURL(ctx, client, name, key, "")
}

// ValidateKeyWithURL is ValidateKey against an explicit models URL. An
// empty url uses the provider default.
func ValidateKeyWithURL(ctx context.Context, client *http.Client, name Name, key, url string) error {
	if url == "" {
		url = modelsEndpoints[name]
	}
	if url == "" {
		return vikingerr.Errorf(vikingerr.CodeProviderKeyInvalid, "unknown provider: %s", name)
	}

	headers := map[string]string{}
	switch name {
	case Anthropic:
		headers["x-api-key"] = key
		headers["anthropic-version"] = "2023-06-01"
	case OpenAI, OpenRouter:
		headers["Authorization"] = "Bearer " + key
	case Google:
		// The Generative Language API takes the key as a query parameter.
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "key=" + key
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return vikingerr.Errorf(vikingerr.CodeProviderKeyCheckFailure, "building validation request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return vikingerr.Errorf(vikingerr.CodeProviderKeyCheckFailure, "validating %s key: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return vikingerr.Errorf(vikingerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return vikingerr.Errorf(vikingerr.CodeProviderKeyCheckFailure, "%s validation failed (HTTP %d)", name, resp.StatusCode)
	}
	return nil
}
