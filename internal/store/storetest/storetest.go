// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package storetest holds the behaviour every storage backend must share.
// Backend packages run it from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const base = "viking://resources/example.com"

func queued(uri string) *store.Resource {
	return &store.Resource{URI: uri, Locator: "https://" + uri[len("viking://resources/"):]}
}

func intPtr(n int) *int { return &n }

// RunResourceStore exercises a ResourceStore implementation.
func RunResourceStore(t *testing.T, newStore func(t *testing.T) store.ResourceStore) {
	t.Run("PutQueuedIsInsertIfAbsent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/docs/a_1"

		created, rec, err := s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, store.StatusQueued, rec.Status)
		assert.False(t, rec.CreatedAt.IsZero())

		_, err = s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing, store.Payload{Stage: store.StageFetch})
		require.NoError(t, err)

		created, rec, err = s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, store.StatusProcessing, rec.Status, "existing record must be returned untouched")
	})

	t.Run("ConcurrentPutQueuedCreatesOnce", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/race_1"

		var created atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, _, err := s.PutQueued(ctx, queued(uri))
				assert.NoError(t, err)
				if ok {
					created.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
	})

	t.Run("ConcurrentClaimHasOneWinner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/claim_1"
		_, _, err := s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing,
					store.Payload{Stage: store.StageFetch, Attempts: intPtr(1)})
				switch {
				case err == nil:
					wins.Add(1)
				case vikingerr.IsConflict(err):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(7), conflicts.Load())
	})

	t.Run("TransitionLifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/life_1"
		_, _, err := s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)

		rec, err := s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing,
			store.Payload{Stage: store.StageFetch, Attempts: intPtr(1)})
		require.NoError(t, err)
		assert.Equal(t, store.StageFetch, rec.Stage)
		assert.Equal(t, 1, rec.Attempts)

		mt := "text/markdown"
		rec, err = s.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessing,
			store.Payload{Stage: store.StageEmbed, MediaType: &mt})
		require.NoError(t, err)
		assert.Equal(t, store.StageEmbed, rec.Stage)
		assert.Equal(t, mt, rec.MediaType)
		assert.Equal(t, 1, rec.Attempts, "nil attempts leaves the counter alone")

		abstract := "short summary"
		ids := []string{store.ChunkID(uri, 0), store.ChunkID(uri, 1)}
		rec, err = s.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessed,
			store.Payload{ChunkIDs: ids, Abstract: &abstract})
		require.NoError(t, err)
		assert.Equal(t, store.StatusProcessed, rec.Status)
		assert.Equal(t, store.StageNone, rec.Stage)
		assert.Nil(t, rec.Failure)

		got, err := s.Get(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, ids, got.ChunkIDs)
		assert.Equal(t, abstract, got.Abstract)
		assert.Equal(t, mt, got.MediaType)
	})

	t.Run("FailureIsCapturedAndClearedOnRequeue", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/fail_1"
		_, _, err := s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)
		_, err = s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing, store.Payload{Stage: store.StageFetch})
		require.NoError(t, err)

		rec, err := s.Transition(ctx, uri, store.StatusProcessing, store.StatusFailed, store.Payload{
			Failure: &store.Failure{Kind: store.FailureFetch, Detail: "connection refused"},
		})
		require.NoError(t, err)
		require.NotNil(t, rec.Failure)

		got, err := s.Get(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, got.Status)
		require.NotNil(t, got.Failure)
		assert.Equal(t, store.FailureFetch, got.Failure.Kind)
		assert.Equal(t, "connection refused", got.Failure.Detail)

		rec, err = s.Transition(ctx, uri, store.StatusFailed, store.StatusQueued, store.Payload{Attempts: intPtr(0)})
		require.NoError(t, err)
		assert.Nil(t, rec.Failure)
		assert.Equal(t, 0, rec.Attempts)
	})

	t.Run("FailureDropsChunksOfEarlierRun", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/refail_1"
		_, _, err := s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)
		_, err = s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing, store.Payload{Stage: store.StageFetch})
		require.NoError(t, err)
		_, err = s.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessed,
			store.Payload{ChunkIDs: []string{store.ChunkID(uri, 0)}})
		require.NoError(t, err)

		_, err = s.Transition(ctx, uri, store.StatusProcessed, store.StatusQueued, store.Payload{})
		require.NoError(t, err)
		_, err = s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing, store.Payload{Stage: store.StageFetch})
		require.NoError(t, err)
		_, err = s.Transition(ctx, uri, store.StatusProcessing, store.StatusFailed,
			store.Payload{Failure: &store.Failure{Kind: store.FailureFetch}})
		require.NoError(t, err)

		got, err := s.Get(ctx, uri)
		require.NoError(t, err)
		assert.Empty(t, got.ChunkIDs)
	})

	t.Run("TransitionErrors", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/err_1"

		_, err := s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessing, store.Payload{})
		require.Error(t, err)
		assert.True(t, vikingerr.IsNotFound(err))
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, _, err = s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)

		_, err = s.Transition(ctx, uri, store.StatusProcessing, store.StatusProcessed, store.Payload{})
		require.Error(t, err)
		assert.True(t, vikingerr.IsConflict(err), "stale from must be a conflict, got %v", err)
		assert.ErrorIs(t, err, store.ErrConflict)

		_, err = s.Transition(ctx, uri, store.StatusQueued, store.StatusProcessed, store.Payload{})
		require.Error(t, err)
		assert.True(t, vikingerr.IsInvalidInput(err), "queued -> processed is illegal, got %v", err)

		got, err := s.Get(ctx, uri)
		require.NoError(t, err)
		assert.Equal(t, store.StatusQueued, got.Status, "failed transitions must not change the record")
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, u := range []string{
			base + "/docs/b_2",
			base + "/docs/a_1",
			base + "/docs_extra/c_3",
			"viking://resources/other.org/x_4",
		} {
			_, _, err := s.PutQueued(ctx, queued(u))
			require.NoError(t, err)
		}

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		docs, err := s.List(ctx, base+"/docs")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, base+"/docs/a_1", docs[0].URI)
		assert.Equal(t, base+"/docs/b_2", docs[1].URI)

		trailing, err := s.List(ctx, base+"/docs/")
		require.NoError(t, err)
		assert.Len(t, trailing, 2)

		exact, err := s.List(ctx, base+"/docs/a_1")
		require.NoError(t, err)
		assert.Len(t, exact, 1)

		none, err := s.List(ctx, base+"/nothing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ListStale", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for i := range 3 {
			_, _, err := s.PutQueued(ctx, queued(fmt.Sprintf("%s/stale_%d", base, i)))
			require.NoError(t, err)
		}
		_, err := s.Transition(ctx, base+"/stale_1", store.StatusQueued, store.StatusProcessing, store.Payload{Stage: store.StageFetch})
		require.NoError(t, err)

		future := time.Now().Add(time.Hour)
		got, err := s.ListStale(ctx, []store.Status{store.StatusProcessing}, future)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, base+"/stale_1", got[0].URI)

		got, err = s.ListStale(ctx, []store.Status{store.StatusQueued, store.StatusProcessing}, future)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = s.ListStale(ctx, []store.Status{store.StatusQueued}, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DeleteIsConditional", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		uri := base + "/del_1"
		_, _, err := s.PutQueued(ctx, queued(uri))
		require.NoError(t, err)

		err = s.Delete(ctx, uri, store.StatusProcessed)
		require.Error(t, err)
		assert.True(t, vikingerr.IsConflict(err))

		require.NoError(t, s.Delete(ctx, uri, store.StatusQueued))
		_, err = s.Get(ctx, uri)
		assert.True(t, vikingerr.IsNotFound(err))

		err = s.Delete(ctx, uri, store.StatusQueued)
		assert.True(t, vikingerr.IsNotFound(err))
	})
}

func chunk(uri string, seq int, vec ...float32) store.Chunk {
	return store.Chunk{ResourceURI: uri, Seq: seq, Text: fmt.Sprintf("chunk %d", seq), Start: seq * 10, End: seq*10 + 10, Vector: vec}
}

// RunVectorIndex exercises a VectorIndex implementation with 3 dimensions.
func RunVectorIndex(t *testing.T, newIndex func(t *testing.T, dims int) store.VectorIndex) {
	t.Run("QueryRanksByCosine", func(t *testing.T) {
		ctx := context.Background()
		vi := newIndex(t, 3)
		a, b := base+"/a_1", base+"/b_2"

		require.NoError(t, vi.Upsert(ctx, a, []store.Chunk{chunk(a, 0, 1, 0, 0), chunk(a, 1, 0, 1, 0)}))
		require.NoError(t, vi.Upsert(ctx, b, []store.Chunk{chunk(b, 0, 0.9, 0.1, 0)}))

		hits, err := vi.Query(ctx, []float32{1, 0, 0}, "", 10)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, a, hits[0].ResourceURI)
		assert.Equal(t, 0, hits[0].Seq)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		assert.Equal(t, b, hits[1].ResourceURI)
		assert.Equal(t, a, hits[2].ResourceURI)
		assert.InDelta(t, 0.0, hits[2].Score, 1e-5)
		assert.Equal(t, "chunk 0", hits[0].Text)
		assert.Equal(t, 0, hits[0].Start)
		assert.Equal(t, 10, hits[0].End)

		top, err := vi.Query(ctx, []float32{1, 0, 0}, "", 1)
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("EqualScoresBreakTiesByURIThenSeq", func(t *testing.T) {
		ctx := context.Background()
		vi := newIndex(t, 3)
		z, a := base+"/z_1", base+"/a_1"

		require.NoError(t, vi.Upsert(ctx, z, []store.Chunk{chunk(z, 0, 0, 0, 1)}))
		require.NoError(t, vi.Upsert(ctx, a, []store.Chunk{chunk(a, 1, 0, 0, 1), chunk(a, 0, 0, 0, 1)}))

		for range 3 {
			hits, err := vi.Query(ctx, []float32{0, 0, 1}, "", 10)
			require.NoError(t, err)
			require.Len(t, hits, 3)
			assert.Equal(t, []string{a, a, z}, []string{hits[0].ResourceURI, hits[1].ResourceURI, hits[2].ResourceURI})
			assert.Equal(t, 0, hits[0].Seq)
			assert.Equal(t, 1, hits[1].Seq)
		}
	})

	t.Run("ScopeRestrictsToPrefix", func(t *testing.T) {
		ctx := context.Background()
		vi := newIndex(t, 3)
		in, sibling, out := base+"/docs/a_1", base+"/docs_x/b_2", "viking://resources/other.org/c_3"
		for _, u := range []string{in, sibling, out} {
			require.NoError(t, vi.Upsert(ctx, u, []store.Chunk{chunk(u, 0, 1, 1, 0)}))
		}

		hits, err := vi.Query(ctx, []float32{1, 1, 0}, base+"/docs", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, in, hits[0].ResourceURI)

		hits, err = vi.Query(ctx, []float32{1, 1, 0}, base, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 2)

		hits, err = vi.Query(ctx, []float32{1, 1, 0}, "viking://resources/nowhere", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("UpsertReplacesWholeResource", func(t *testing.T) {
		ctx := context.Background()
		vi := newIndex(t, 3)
		u := base + "/r_1"

		require.NoError(t, vi.Upsert(ctx, u, []store.Chunk{chunk(u, 0, 1, 0, 0), chunk(u, 1, 1, 0, 0), chunk(u, 2, 1, 0, 0)}))
		require.NoError(t, vi.Upsert(ctx, u, []store.Chunk{chunk(u, 0, 0, 1, 0)}))

		hits, err := vi.Query(ctx, []float32{0, 1, 0}, "", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	})

	t.Run("RejectsWrongDimensions", func(t *testing.T) {
		ctx := context.Background()
		vi := newIndex(t, 3)
		u := base + "/dim_1"

		err := vi.Upsert(ctx, u, []store.Chunk{chunk(u, 0, 1, 0)})
		require.Error(t, err)
		assert.True(t, vikingerr.IsInvalidInput(err))

		_, err = vi.Query(ctx, []float32{1, 0, 0, 0}, "", 5)
		require.Error(t, err)
		assert.Equal(t, 3, vi.Dimensions())
	})

	t.Run("DeleteResource", func(t *testing.T) {
		ctx := context.Background()
		vi := newIndex(t, 3)
		a, b := base+"/a_1", base+"/b_2"
		require.NoError(t, vi.Upsert(ctx, a, []store.Chunk{chunk(a, 0, 1, 0, 0)}))
		require.NoError(t, vi.Upsert(ctx, b, []store.Chunk{chunk(b, 0, 1, 0, 0)}))

		require.NoError(t, vi.DeleteResource(ctx, a))

		hits, err := vi.Query(ctx, []float32{1, 0, 0}, "", 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, b, hits[0].ResourceURI)
	})

	t.Run("EmptyIndexReturnsNoHits", func(t *testing.T) {
		hits, err := newIndex(t, 3).Query(context.Background(), []float32{1, 0, 0}, "", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}
