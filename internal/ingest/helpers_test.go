// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest_test

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/embedding"
	"github.com/viking-dev/viking/internal/fetch"
	"github.com/viking-dev/viking/internal/ingest"
	"github.com/viking-dev/viking/internal/namespace"
	"github.com/viking-dev/viking/internal/parser"
	"github.com/viking-dev/viking/internal/security/scanner"
	"github.com/viking-dev/viking/internal/store"
	"github.com/viking-dev/viking/internal/store/memory"
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const testDims = 64

// fakeFetcher serves canned documents keyed by locator and counts calls.
// When gate is set every Fetch blocks until it is closed.
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]fetch.Result
	errs  map[string]error
	calls map[string]int
	gate  chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:  make(map[string]fetch.Result),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) serve(locator, mediaType, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, locator)
	f.docs[locator] = fetch.Result{
		Locator:   locator,
		Content:   []byte(content),
		MediaType: mediaType,
		Name:      path.Base(locator),
		Digest:    "digest-" + path.Base(locator),
	}
}

func (f *fakeFetcher) failWith(locator string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[locator] = err
}

func (f *fakeFetcher) count(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[locator]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[locator]; ok {
		return nil, err
	}
	doc, ok := f.docs[locator]
	if !ok {
		return nil, vikingerr.New(vikingerr.CodeIngestFetchFailure, "no such document")
	}
	doc.Content = append([]byte(nil), doc.Content...)
	return &doc, nil
}

// failingEmbedder always fails, or panics when panicky is set.
type failingEmbedder struct {
	panicky bool
}

func (e failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	if e.panicky {
		panic("embedder exploded")
	}
	return nil, vikingerr.New(vikingerr.CodeEmbeddingUnavailable, "embedding backend unavailable")
}

type failingSummarizer struct{}

func (failingSummarizer) Name() string { return "failing" }

func (failingSummarizer) Summarize(context.Context, string, string) (string, error) {
	return "", vikingerr.New(vikingerr.CodeSummaryUpstreamFailure, "summary backend down")
}

type harness struct {
	sched     *ingest.Scheduler
	resources *memory.ResourceStore
	vectors   *memory.VectorIndex
	fetcher   *fakeFetcher
}

type harnessOption func(*ingest.Deps, *ingest.Config)

func withEmbedder(e ingest.Embedder) harnessOption {
	return func(d *ingest.Deps, _ *ingest.Config) { d.Embedder = e }
}

func withSummarizer(s summary.Summarizer) harnessOption {
	return func(d *ingest.Deps, _ *ingest.Config) { d.Summarizer = s }
}

func withFetcher(f ingest.Fetcher) harnessOption {
	return func(d *ingest.Deps, _ *ingest.Config) { d.Fetcher = f }
}

func withFilter(mode scanner.Mode) harnessOption {
	return func(d *ingest.Deps, _ *ingest.Config) {
		s, err := scanner.NewRegexScanner(scanner.DefaultRules())
		if err != nil {
			panic(err)
		}
		d.Filter = scanner.NewFilter(s, mode)
	}
}

func withConfig(fn func(*ingest.Config)) harnessOption {
	return func(_ *ingest.Deps, c *ingest.Config) { fn(c) }
}

// newHarness builds a scheduler over memory stores. It is not started.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		resources: memory.NewResourceStore(),
		vectors:   memory.NewVectorIndex(testDims),
		fetcher:   newFakeFetcher(),
	}
	chunker, err := parser.NewChunker(parser.Policy{Size: 200, Overlap: 20})
	require.NoError(t, err)

	deps := ingest.Deps{
		Resources:  h.resources,
		Vectors:    h.vectors,
		Fetcher:    h.fetcher,
		Chunker:    chunker,
		Embedder:   embedding.NewHashEmbedder(testDims),
		Summarizer: summary.NewExtractive(2),
	}
	cfg := ingest.Config{
		Workers:       2,
		QueueSize:     16,
		StaleAfter:    10 * time.Minute,
		SweepInterval: time.Hour,
		JobTimeout:    5 * time.Second,
		Retry:         ingest.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	h.sched, err = ingest.New(deps, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.sched.Close() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sched.Start(context.Background()))
}

// waitTerminal waits for uri and fails the test when it is still running.
func (h *harness) waitTerminal(t *testing.T, uri string) store.State {
	t.Helper()
	state, err := h.sched.Wait(context.Background(), uri, 5*time.Second)
	require.NoError(t, err)
	require.True(t, state.Status.Terminal(), "resource %s still %s", uri, state.Status)
	return state
}

func uriOf(t *testing.T, locator string) string {
	t.Helper()
	uri, err := namespace.CanonicalURI(locator)
	require.NoError(t, err)
	return uri
}

const guideMarkdown = `# Deployment guide

Rolling deployments replace instances gradually so the service stays available.
Each batch of instances is drained before the new version starts.

## Rollback

A rollback restores the previous release when health checks fail after a deployment.
`
