// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/secrets"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// ProviderKeyValidator validates an API key for a given provider.
type ProviderKeyValidator func(ctx context.Context, name provider.Name, key string) error

// ConfigDeps holds dependencies for configuration endpoints.
// Separated from Services because config endpoints need secret storage
// and validation functions, not the ingestion services.
type ConfigDeps struct {
	Secrets          secrets.Store
	ValidateProvider ProviderKeyValidator
}

// DefaultProviderKeyValidator returns a ProviderKeyValidator that uses the real provider API.
func DefaultProviderKeyValidator(client *http.Client) ProviderKeyValidator {
	return func(ctx context.Context, name provider.Name, key string) error {
		return provider.ValidateKey(ctx, client, name, key)
	}
}

// RegisterConfigDeps sets the configuration dependencies and registers the
// configuration routes.
func (s *Server) RegisterConfigDeps(deps *ConfigDeps) {
	s.configDeps = deps
	s.registerConfigRoutes()
}

// --- Request/Response types ---

type configureProviderInput struct {
	Body struct {
		Type   string `json:"type" doc:"Provider type" enum:"anthropic,openai,google,openrouter" required:"true"`
		APIKey string `json:"api_key" doc:"Provider API key" minLength:"1" required:"true"`
	}
}

type configureProviderOutput struct {
	Body struct {
		Status   string `json:"status" doc:"Result status" example:"ok"`
		Provider string `json:"provider" doc:"Configured provider type"`
		KeyRef   string `json:"key_ref" doc:"Value to use for providers.<type>.api_key" example:"keyring://viking/openai-api-key"`
	}
}

func (s *Server) registerConfigRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "configure-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/config/providers",
		Summary:     "Validate and store a provider API key",
		Tags:        []string{"config"},
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway, http.StatusServiceUnavailable},
	}, s.handleConfigureProvider)
}

func (s *Server) handleConfigureProvider(ctx context.Context, input *configureProviderInput) (*configureProviderOutput, error) {
	if s.configDeps == nil || s.configDeps.Secrets == nil || s.configDeps.ValidateProvider == nil {
		slog.Error("config endpoints called but ConfigDeps not configured")
		return nil, huma.Error503ServiceUnavailable("configuration service not available")
	}

	name := provider.Name(input.Body.Type)

	if err := s.configDeps.ValidateProvider(ctx, name, input.Body.APIKey); err != nil {
		if vikingerr.HasCode(err, vikingerr.CodeProviderKeyInvalid) {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid %s API key", input.Body.Type))
		}
		slog.Error("provider key validation failed",
			"provider", input.Body.Type,
			"error", err,
		)
		return nil, huma.Error502BadGateway(fmt.Sprintf("could not validate %s API key", input.Body.Type))
	}

	keyName := input.Body.Type + "-api-key"
	if err := s.configDeps.Secrets.Store(secrets.DefaultService, keyName, input.Body.APIKey); err != nil {
		slog.Error("failed to store provider key in keyring",
			"provider", input.Body.Type,
			"error", err,
		)
		return nil, huma.Error500InternalServerError("failed to store API key")
	}

	slog.Info("provider API key configured", "provider", input.Body.Type)

	out := &configureProviderOutput{}
	out.Body.Status = "ok"
	out.Body.Provider = input.Body.Type
	out.Body.KeyRef = "keyring://" + secrets.DefaultService + "/" + keyName
	return out, nil
}
