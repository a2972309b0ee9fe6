// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/ingest"
	"github.com/viking-dev/viking/internal/namespace"
	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/server"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
	"github.com/viking-dev/viking/pkg/health"
)

// fakeResources is an in-memory ResourceService.
type fakeResources struct {
	mu   sync.Mutex
	recs map[string]*store.Resource
}

func newFakeResources(recs ...*store.Resource) *fakeResources {
	f := &fakeResources{recs: make(map[string]*store.Resource)}
	for _, r := range recs {
		f.recs[r.URI] = r
	}
	return f
}

func (f *fakeResources) put(r *store.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[r.URI] = r
}

func (f *fakeResources) Get(_ context.Context, uri string) (*store.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[uri]
	if !ok {
		return nil, store.NotFound(uri)
	}
	return r.Clone(), nil
}

func (f *fakeResources) List(_ context.Context, prefix string) ([]*store.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Resource
	for uri, r := range f.recs {
		if strings.HasPrefix(uri, prefix) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// fakeIngest records calls and answers from a ResourceService.
type fakeIngest struct {
	mu        sync.Mutex
	submitted []string
	submitErr error
	deleteErr error
	states    map[string]store.State
	waitErr   error
	stats     ingest.Stats
}

func newFakeIngest() *fakeIngest {
	return &fakeIngest{states: make(map[string]store.State)}
}

func (f *fakeIngest) Submit(_ context.Context, locator string) (ingest.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return ingest.SubmitResult{}, f.submitErr
	}
	uri, err := namespace.CanonicalURI(locator)
	if err != nil {
		return ingest.SubmitResult{}, err
	}
	f.submitted = append(f.submitted, locator)
	return ingest.SubmitResult{URI: uri, Status: store.StatusQueued, Accepted: len(f.submitted) == 1}, nil
}

func (f *fakeIngest) Wait(ctx context.Context, uri string, _ time.Duration) (store.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return store.State{}, f.waitErr
	}
	st, ok := f.states[uri]
	if !ok {
		return store.State{}, store.NotFound(uri)
	}
	return st, ctx.Err()
}

func (f *fakeIngest) Reprocess(_ context.Context, uri string) (ingest.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[uri]; !ok {
		return ingest.SubmitResult{}, store.NotFound(uri)
	}
	return ingest.SubmitResult{URI: uri, Status: store.StatusQueued, Accepted: true}, nil
}

func (f *fakeIngest) Delete(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.states[uri]; !ok {
		return store.NotFound(uri)
	}
	return nil
}

func (f *fakeIngest) setState(uri string, st store.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[uri] = st
}

func (f *fakeIngest) Stats() ingest.Stats { return f.stats }

// fakeSearch returns canned results and records the last query.
type fakeSearch struct {
	results []search.Result
	err     error
	last    search.Query
}

func (f *fakeSearch) Find(_ context.Context, q search.Query) ([]search.Result, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeHealth struct{ metrics health.Metrics }

func (f fakeHealth) Name() string           { return "hash" }
func (f fakeHealth) Health() health.Metrics { return f.metrics }

func newFakeServices(t *testing.T, ing server.IngestService, res server.ResourceService, s server.SearchService, embedder ...server.HealthReporter) *server.Services {
	t.Helper()
	svc, err := server.NewServices(ing, res, s, embedder...)
	require.NoError(t, err)
	return svc
}

func newServerWith(t *testing.T, svc *server.Services) *server.Server {
	t.Helper()
	srv := newTestServer(t)
	srv.RegisterServices(svc)
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

// stripSchema removes the $schema link huma adds to response bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func processedRecord(uri string) *store.Resource {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &store.Resource{
		URI:       uri,
		Locator:   "https://example.com/guide.md",
		MediaType: "text/markdown",
		Status:    store.StatusProcessed,
		Attempts:  1,
		ChunkIDs:  []string{store.ChunkID(uri, 0), store.ChunkID(uri, 1)},
		Abstract:  "Deploy guide.",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var errUnavailable = vikingerr.New(vikingerr.CodeIngestSchedulerClosed, "scheduler is closed")
