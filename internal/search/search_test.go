// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package search_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/embedding"
	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/store"
	"github.com/viking-dev/viking/internal/store/memory"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const dims = 128

type fixture struct {
	resources *memory.ResourceStore
	vectors   *memory.VectorIndex
	embedder  *embedding.HashEmbedder
	engine    *search.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resources: memory.NewResourceStore(),
		vectors:   memory.NewVectorIndex(dims),
		embedder:  embedding.NewHashEmbedder(dims),
	}
	f.engine = search.New(f.resources, f.vectors, f.embedder, search.Config{DefaultTopK: 5, MaxTopK: 20, MinScore: -1})
	return f
}

// index stores uri with one chunk per text and leaves it in status.
func (f *fixture) index(t *testing.T, uri string, status store.Status, texts ...string) {
	t.Helper()
	ctx := context.Background()

	created, _, err := f.resources.PutQueued(ctx, &store.Resource{URI: uri, Locator: "https://example.com/" + uri})
	require.NoError(t, err)
	require.True(t, created)

	vecs, err := f.embedder.Embed(ctx, texts)
	require.NoError(t, err)
	chunks := make([]store.Chunk, len(texts))
	ids := make([]string, len(texts))
	offset := 0
	for i, text := range texts {
		chunks[i] = store.Chunk{ResourceURI: uri, Seq: i, Text: text, Start: offset, End: offset + len(text), Vector: vecs[i]}
		ids[i] = chunks[i].ID()
		offset += len(text)
	}
	require.NoError(t, f.vectors.Upsert(ctx, uri, chunks))

	attempts := 1
	_, err = f.resources.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing,
		store.Payload{Stage: store.StageIndex, Attempts: &attempts})
	require.NoError(t, err)

	switch status {
	case store.StatusProcessed:
		abstract := "abstract of " + uri
		mt := "text/plain"
		_, err = f.resources.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessed,
			store.Payload{ChunkIDs: ids, Abstract: &abstract, MediaType: &mt})
	case store.StatusFailed:
		_, err = f.resources.Transition(ctx, uri, store.StatusProcessing, store.StatusFailed,
			store.Payload{Failure: &store.Failure{Kind: store.FailureIndex}})
	}
	require.NoError(t, err)
}

const (
	deployURI  = "viking://resources/docs.example.com/ops/deploy_aaaaaaaaaaaa"
	rollURI    = "viking://resources/docs.example.com/ops/rollback_bbbbbbbbbbbb"
	recipesURI = "viking://resources/cooking.example.com/recipes_cccccccccccc"
)

func seed(t *testing.T, f *fixture) {
	t.Helper()
	f.index(t, deployURI, store.StatusProcessed,
		"rolling deployment replaces instances in batches",
		"blue green deployment switches traffic between two environments")
	f.index(t, rollURI, store.StatusProcessed,
		"rollback restores the previous release after failed health checks")
	f.index(t, recipesURI, store.StatusProcessed,
		"slow roasted tomatoes with garlic and olive oil")
}

func TestFind_RanksMostSimilarFirst(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	results, err := f.engine.Find(context.Background(), search.Query{Text: "rollback to the previous release"})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, rollURI, results[0].URI)
	assert.Equal(t, store.ChunkID(rollURI, 0), results[0].Chunk)
	assert.Equal(t, "abstract of "+rollURI, results[0].Abstract)
	assert.Contains(t, results[0].Excerpt, "rollback")
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestFind_OneResultPerResource(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	results, err := f.engine.Find(context.Background(), search.Query{Text: "deployment", TopK: 10})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.URI], "duplicate %s", r.URI)
		seen[r.URI] = true
	}
	assert.Len(t, results, 3)
}

func TestFind_IsDeterministic(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	q := search.Query{Text: "release health checks deployment", TopK: 3}
	first, err := f.engine.Find(context.Background(), q)
	require.NoError(t, err)
	for range 5 {
		again, err := f.engine.Find(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFind_TiesBrokenByURI(t *testing.T) {
	f := newFixture(t)
	const text = "identical content in two places"
	f.index(t, "viking://resources/b.example.com/doc_222222222222", store.StatusProcessed, text)
	f.index(t, "viking://resources/a.example.com/doc_111111111111", store.StatusProcessed, text)

	results, err := f.engine.Find(context.Background(), search.Query{Text: text})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-9)
	assert.Equal(t, "viking://resources/a.example.com/doc_111111111111", results[0].URI)
}

func TestFind_ScopedToTargetURI(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	results, err := f.engine.Find(context.Background(), search.Query{
		Text:      "tomatoes",
		TargetURI: "viking://resources/docs.example.com/",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.True(t, strings.HasPrefix(r.URI, "viking://resources/docs.example.com/"), r.URI)
	}

	all, err := f.engine.Find(context.Background(), search.Query{Text: "tomatoes", TargetURI: "viking://resources"})
	require.NoError(t, err)
	assert.Equal(t, recipesURI, all[0].URI)
}

func TestFind_ScopeIsSegmentAware(t *testing.T) {
	f := newFixture(t)
	f.index(t, "viking://resources/docs.example.com/a_111111111111", store.StatusProcessed, "shared words")
	f.index(t, "viking://resources/docs.example.com.evil/a_222222222222", store.StatusProcessed, "shared words")

	results, err := f.engine.Find(context.Background(), search.Query{
		Text:      "shared words",
		TargetURI: "viking://resources/docs.example.com",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "viking://resources/docs.example.com/a_111111111111", results[0].URI)
}

func TestFind_OnlyProcessedResources(t *testing.T) {
	f := newFixture(t)
	f.index(t, "viking://resources/x.example.com/ok_111111111111", store.StatusProcessed, "kubernetes operators")
	f.index(t, "viking://resources/x.example.com/failed_222222222222", store.StatusFailed, "kubernetes operators")
	f.index(t, "viking://resources/x.example.com/running_333333333333", store.StatusProcessing, "kubernetes operators")

	results, err := f.engine.Find(context.Background(), search.Query{Text: "kubernetes operators"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "viking://resources/x.example.com/ok_111111111111", results[0].URI)
}

func TestFind_OverFetchesPastGatedCandidates(t *testing.T) {
	f := newFixture(t)
	for i := range 12 {
		uri := "viking://resources/x.example.com/pending_" + strings.Repeat(string(rune('a'+i)), 12)
		f.index(t, uri, store.StatusProcessing, "exactly the query text")
	}
	f.index(t, "viking://resources/x.example.com/zz_111111111111", store.StatusProcessed, "the query text roughly")

	results, err := f.engine.Find(context.Background(), search.Query{Text: "exactly the query text", TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "viking://resources/x.example.com/zz_111111111111", results[0].URI)
}

func TestFind_MinScore(t *testing.T) {
	f := newFixture(t)
	seed(t, f)

	strict := 0.99
	results, err := f.engine.Find(context.Background(), search.Query{Text: "completely unrelated astronomy", MinScore: &strict})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFind_EmptyIndexReturnsEmptySlice(t *testing.T) {
	f := newFixture(t)

	results, err := f.engine.Find(context.Background(), search.Query{Text: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestFind_InvalidQueries(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		q    search.Query
	}{
		{"empty text", search.Query{Text: "  "}},
		{"negative top k", search.Query{Text: "x", TopK: -1}},
		{"target outside namespace", search.Query{Text: "x", TargetURI: "https://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Find(context.Background(), tt.q)
			require.Error(t, err)
			assert.True(t, vikingerr.IsInvalidInput(err), "code %s", vikingerr.CodeOf(err))
		})
	}
}

func TestFind_TopKCappedAtMax(t *testing.T) {
	f := newFixture(t)
	for i := range 25 {
		uri := "viking://resources/x.example.com/doc_" + strings.Repeat(string(rune('a'+i)), 12)
		f.index(t, uri, store.StatusProcessed, "common text")
	}

	results, err := f.engine.Find(context.Background(), search.Query{Text: "common text", TopK: 1000})
	require.NoError(t, err)
	assert.Len(t, results, 20)
}
