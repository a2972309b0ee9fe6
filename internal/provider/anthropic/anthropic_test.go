// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package anthropic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/provider/anthropic"
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

var _ summary.Summarizer = (*anthropic.Summarizer)(nil)

func TestNewSummarizer_MissingAPIKey(t *testing.T) {
	_, err := anthropic.NewSummarizer(provider.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.True(t, vikingerr.IsInvalidInput(err))
}

func TestBuildParams(t *testing.T) {
	p := anthropic.BuildParams("claude-haiku-4-5", 200, "Guide", "body")
	assert.Equal(t, "claude-haiku-4-5", string(p.Model))
	assert.Equal(t, int64(200), p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.Equal(t, summary.Prompt, p.System[0].Text)
	require.Len(t, p.Messages, 1)
	require.Len(t, p.Messages[0].Content, 1)
	require.NotNil(t, p.Messages[0].Content[0].OfText)
	assert.Equal(t, "Title: Guide\n\nbody", p.Messages[0].Content[0].OfText.Text)
}

func TestSummarizer_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5",
			"content":[{"type":"text","text":"An abstract."}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}}`))
	}))
	defer srv.Close()

	s, err := anthropic.NewSummarizer(provider.Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", s.Name())

	got, err := s.Summarize(context.Background(), "", "Body.")
	require.NoError(t, err)
	assert.Equal(t, "An abstract.", got)
}

func TestSummarizer_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	s, err := anthropic.NewSummarizer(provider.Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = s.Summarize(context.Background(), "", "Body.")
	require.Error(t, err)
	assert.True(t, vikingerr.IsUpstreamFailure(err))
}
