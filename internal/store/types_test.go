// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/store"
)

func TestCanTransition(t *testing.T) {
	legal := map[store.Status][]store.Status{
		store.StatusQueued:     {store.StatusQueued, store.StatusProcessing, store.StatusFailed},
		store.StatusProcessing: {store.StatusProcessing, store.StatusProcessed, store.StatusFailed, store.StatusQueued},
		store.StatusProcessed:  {store.StatusQueued},
		store.StatusFailed:     {store.StatusQueued},
	}
	all := []store.Status{store.StatusQueued, store.StatusProcessing, store.StatusProcessed, store.StatusFailed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, store.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, store.CanTransition("bogus", store.StatusQueued))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, store.StatusProcessed.Terminal())
	assert.True(t, store.StatusFailed.Terminal())
	assert.False(t, store.StatusQueued.Terminal())
	assert.False(t, store.StatusProcessing.Terminal())
	assert.True(t, store.StatusQueued.Valid())
	assert.False(t, store.Status("done").Valid())
}

func TestPayloadApply_DerivesStageAndFailureFromStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &store.Resource{URI: "viking://resources/local/a_1", Status: store.StatusProcessing, Stage: store.StageEmbed,
		ChunkIDs: []string{"viking://resources/local/a_1#0"}}

	store.Payload{Stage: store.StageIndex, Failure: &store.Failure{Kind: store.FailureFetch}}.Apply(r, store.StatusProcessing, now)
	assert.Equal(t, store.StageIndex, r.Stage)
	assert.Nil(t, r.Failure, "a processing record never carries a failure")

	store.Payload{}.Apply(r, store.StatusFailed, now)
	require.NotNil(t, r.Failure)
	assert.Empty(t, r.ChunkIDs, "a failed record owns no chunks")
	assert.Equal(t, store.FailureInternal, r.Failure.Kind, "failed without detail defaults to internal")
	assert.Equal(t, store.StageNone, r.Stage)

	store.Payload{Stage: store.StageFetch}.Apply(r, store.StatusQueued, now)
	assert.Nil(t, r.Failure)
	assert.Equal(t, store.StageNone, r.Stage)
	assert.Equal(t, now, r.UpdatedAt)
}

func TestResourceClone_IsDeep(t *testing.T) {
	r := &store.Resource{ChunkIDs: []string{"a"}, Failure: &store.Failure{Kind: store.FailureFetch}}
	c := r.Clone()
	c.ChunkIDs[0] = "b"
	c.Failure.Kind = store.FailureIndex
	assert.Equal(t, "a", r.ChunkIDs[0])
	assert.Equal(t, store.FailureFetch, r.Failure.Kind)
	assert.Nil(t, (*store.Resource)(nil).Clone())
}

func TestInScope(t *testing.T) {
	tests := []struct {
		uri, scope string
		want       bool
	}{
		{"viking://resources/a/b_1", "", true},
		{"viking://resources/a/b_1", "viking://resources", true},
		{"viking://resources/a/b_1", "viking://resources/", true},
		{"viking://resources/a/b_1", "viking://resources/a", true},
		{"viking://resources/a/b_1", "viking://resources/a/b_1", true},
		{"viking://resources/ab/c_1", "viking://resources/a", false},
		{"viking://resources/a/b_1", "viking://resources/a/b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, store.InScope(tt.uri, tt.scope), "%s in %s", tt.uri, tt.scope)
	}
}

func TestSortHits(t *testing.T) {
	hits := []store.Hit{
		{ResourceURI: "b", Seq: 0, Score: 0.5},
		{ResourceURI: "a", Seq: 2, Score: 0.5},
		{ResourceURI: "c", Seq: 0, Score: 0.9},
		{ResourceURI: "a", Seq: 1, Score: 0.5},
	}
	store.SortHits(hits)

	var got []string
	for _, h := range hits {
		got = append(got, store.ChunkID(h.ResourceURI, h.Seq))
	}
	assert.Equal(t, []string{"c#0", "a#1", "a#2", "b#0"}, got)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, store.Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, store.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, store.Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, store.Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, store.Cosine([]float32{1}, []float32{1, 0}))
}
