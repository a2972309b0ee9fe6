// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by client commands.
// Overridden in tests.
var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// apiClient provides HTTP access to a running viking server.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// newAPIClient creates a client targeting addr, which is host:port or a
// full http(s) URL.
func newAPIClient(addr, apiKey string) *apiClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  apiKey,
		http:    defaultHTTPClient,
	}
}

// clientFromConfig builds a client from --address/--api-key, falling back
// to the server's own listen address and first API key.
func clientFromConfig() *apiClient {
	return newAPIClient(clientAddress(), clientAPIKey())
}

func clientAddress() string {
	if addr := viper.GetString("client.address"); addr != "" {
		return addr
	}
	return viper.GetString("networking.listen")
}

func clientAPIKey() string {
	if key := viper.GetString("client.api_key"); key != "" {
		return key
	}
	if keys := viper.GetStringSlice("auth.api_keys"); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, dest any) error {
	return c.do(ctx, http.MethodPost, path, body, dest)
}

func (c *apiClient) deleteJSON(ctx context.Context, path string, query url.Values, dest any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodDelete, path, nil, dest)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return vikingerr.Errorf(vikingerr.CodeCLIInputInvalid, "encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return vikingerr.Errorf(vikingerr.CodeCLIInputInvalid, "building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return vikingerr.Errorf(vikingerr.CodeCLIServerNotRunning,
				"viking server is not running at %s", c.baseURL)
		}
		return vikingerr.Errorf(vikingerr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return vikingerr.Errorf(vikingerr.CodeCLIResponseInvalid, "invalid response: %w", err)
	}
	return nil
}

// responseError turns a non-2xx response into an error carrying the
// problem detail the server reported.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Errors []struct {
			Message  string `json:"message"`
			Location string `json:"location"`
		} `json:"errors"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &problem) == nil {
		switch {
		case problem.Detail != "":
			msg = problem.Detail
		case problem.Title != "":
			msg = problem.Title
		}
		for _, e := range problem.Errors {
			msg += "; " + e.Location + ": " + e.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return vikingerr.New(vikingerr.CodeCLIRequestFailure, msg,
		vikingerr.Field("status", resp.StatusCode))
}

// isDialError reports whether err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
