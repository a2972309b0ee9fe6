// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package fetch retrieves raw resource content from http(s) URLs and the
// local filesystem.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/viking-dev/viking/internal/namespace"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Config bounds a Fetcher.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	MaxBytes    int64
	AllowLocal  bool
	UserAgent   string
}

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = 20 << 20
	defaultUserAgent = "viking/1.0"
)

// Result is the raw content of one fetched resource.
type Result struct {
	Locator string
	Content []byte
	// MediaType is the declared type (Content-Type header without
	// parameters), empty for local files.
	MediaType string
	// Name is the last path element, used for extension based detection.
	Name   string
	Digest string
}

// Fetcher retrieves resource content. It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client (for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher, filling zero config values with defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	f := &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves locator. Transient http failures (transport errors, 5xx,
// 429) are retried up to MaxAttempts with exponential backoff. Every
// failure carries CodeIngestFetchFailure, or CodeIngestFetchLocatorInvalid
// when the locator itself is unusable.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (*Result, error) {
	loc, err := namespace.ParseLocator(locator)
	if err != nil {
		return nil, err
	}

	var res *Result
	if loc.Remote {
		res, err = f.fetchRemote(ctx, loc)
	} else {
		res, err = f.fetchLocal(loc)
	}
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(res.Content)
	res.Digest = hex.EncodeToString(sum[:])
	return res, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, loc namespace.Locator) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := f.cfg.Backoff << (attempt - 2)
			f.logger.Debug("retrying fetch", "locator", loc.Raw, "attempt", attempt, "backoff", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				return nil, vikingerr.Wrap(err, vikingerr.CodeIngestFetchFailure, "fetch cancelled", vikingerr.FieldLocator(loc.Raw))
			}
		}

		res, retry, err := f.get(ctx, loc)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

// get performs one request and reports whether a failure is worth retrying.
func (f *Fetcher) get(ctx context.Context, loc namespace.Locator) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.Raw, nil)
	if err != nil {
		return nil, false, vikingerr.Wrap(err, vikingerr.CodeIngestFetchLocatorInvalid, "building request", vikingerr.FieldLocator(loc.Raw))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, vikingerr.Wrap(err, vikingerr.CodeIngestFetchFailure, "requesting resource", vikingerr.FieldLocator(loc.Raw))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, vikingerr.New(vikingerr.CodeIngestFetchFailure,
			fmt.Sprintf("unexpected status %d", resp.StatusCode),
			vikingerr.FieldLocator(loc.Raw), vikingerr.Field("status", resp.StatusCode))
	}

	body, err := f.readLimited(resp.Body, loc.Raw)
	if err != nil {
		return nil, false, err
	}

	mediaType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}

	return &Result{
		Locator:   loc.Raw,
		Content:   body,
		MediaType: mediaType,
		Name:      path.Base(loc.Path),
	}, false, nil
}

func (f *Fetcher) fetchLocal(loc namespace.Locator) (*Result, error) {
	if !f.cfg.AllowLocal {
		return nil, vikingerr.New(vikingerr.CodeIngestFetchLocatorInvalid, "local paths are disabled", vikingerr.FieldLocator(loc.Raw))
	}

	info, err := os.Stat(loc.Raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, vikingerr.Wrap(err, vikingerr.CodeIngestFetchFailure, "file does not exist", vikingerr.FieldLocator(loc.Raw))
		}
		return nil, vikingerr.Wrap(err, vikingerr.CodeIngestFetchFailure, "stat file", vikingerr.FieldLocator(loc.Raw))
	}
	if info.IsDir() {
		return nil, vikingerr.New(vikingerr.CodeIngestFetchFailure, "locator is a directory", vikingerr.FieldLocator(loc.Raw))
	}

	file, err := os.Open(loc.Raw)
	if err != nil {
		return nil, vikingerr.Wrap(err, vikingerr.CodeIngestFetchFailure, "open file", vikingerr.FieldLocator(loc.Raw))
	}
	defer func() { _ = file.Close() }()

	body, err := f.readLimited(file, loc.Raw)
	if err != nil {
		return nil, err
	}
	return &Result{Locator: loc.Raw, Content: body, Name: path.Base(loc.Path)}, nil
}

func (f *Fetcher) readLimited(r io.Reader, locator string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, vikingerr.Wrap(err, vikingerr.CodeIngestFetchFailure, "reading content", vikingerr.FieldLocator(locator))
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, vikingerr.New(vikingerr.CodeIngestFetchFailure,
			fmt.Sprintf("content exceeds %d bytes", f.cfg.MaxBytes), vikingerr.FieldLocator(locator))
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
