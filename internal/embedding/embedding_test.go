// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package embedding_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/embedding"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// fakeEmbedder encodes each text's integer value in the first dimension
// and can be told to fail its first N calls.
type fakeEmbedder struct {
	dims     int
	failN    int32
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	wrongLen bool

	mu      sync.Mutex
	batches []int
}

func (f *fakeEmbedder) Name() string    { return "fake" }
func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.calls.Add(1)
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	f.batches = append(f.batches, len(texts))
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failN {
		return nil, errors.New("upstream down")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.dims)
		x, _ := strconv.Atoi(text)
		v[0] = float32(x)
		if f.wrongLen {
			v = v[:1]
		}
		out[i] = v
	}
	return out, nil
}

func numbers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func newAdapter(t *testing.T, backend embedding.Embedder, cfg embedding.Config) *embedding.Adapter {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	a, err := embedding.NewAdapter(backend, cfg)
	require.NoError(t, err)
	return a
}

func TestAdapter_BatchesAndPreservesOrder(t *testing.T) {
	fake := &fakeEmbedder{dims: 4}
	a := newAdapter(t, fake, embedding.Config{BatchSize: 3, Concurrency: 4})

	vecs, err := a.Embed(context.Background(), numbers(10))
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0], "vector %d out of order", i)
	}

	assert.Equal(t, int32(4), fake.calls.Load())
	assert.ElementsMatch(t, []int{3, 3, 3, 1}, fake.batches)
}

func TestAdapter_BoundedConcurrency(t *testing.T) {
	fake := &fakeEmbedder{dims: 2, delay: 20 * time.Millisecond}
	a := newAdapter(t, fake, embedding.Config{BatchSize: 1, Concurrency: 2})

	_, err := a.Embed(context.Background(), numbers(8))
	require.NoError(t, err)
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
}

func TestAdapter_RetriesOnceThenSucceeds(t *testing.T) {
	fake := &fakeEmbedder{dims: 2, failN: 1}
	a := newAdapter(t, fake, embedding.Config{BatchSize: 10})

	vecs, err := a.Embed(context.Background(), numbers(3))
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Equal(t, int32(2), fake.calls.Load())

	m := a.Health()
	assert.Equal(t, int64(1), m.FailureCount)
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.True(t, m.Available)
}

func TestAdapter_UnavailableAfterRetry(t *testing.T) {
	fake := &fakeEmbedder{dims: 2, failN: 100}
	a := newAdapter(t, fake, embedding.Config{BatchSize: 10})

	vecs, err := a.Embed(context.Background(), numbers(3))
	require.Error(t, err)
	assert.Nil(t, vecs)
	assert.True(t, vikingerr.HasCode(err, vikingerr.CodeEmbeddingUnavailable))
	assert.True(t, vikingerr.IsUnavailable(err))
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, int32(2), fake.calls.Load(), "exactly one retry")
	assert.False(t, a.Health().Available)
}

func TestAdapter_RetryBackoffIsApplied(t *testing.T) {
	fake := &fakeEmbedder{dims: 2, failN: 100}
	a := newAdapter(t, fake, embedding.Config{Retries: 2, RetryBackoff: 10 * time.Millisecond})

	start := time.Now()
	_, err := a.Embed(context.Background(), numbers(1))
	require.Error(t, err)
	assert.Equal(t, int32(3), fake.calls.Load())
	// 10ms then 20ms
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAdapter_RejectsWrongDimensions(t *testing.T) {
	fake := &fakeEmbedder{dims: 3, wrongLen: true}
	a := newAdapter(t, fake, embedding.Config{})

	_, err := a.Embed(context.Background(), numbers(2))
	require.Error(t, err)
	assert.True(t, vikingerr.HasCode(err, vikingerr.CodeEmbeddingUnavailable))
	assert.Contains(t, err.Error(), "dimensions")
}

func TestAdapter_EmptyInput(t *testing.T) {
	fake := &fakeEmbedder{dims: 2}
	a := newAdapter(t, fake, embedding.Config{})

	vecs, err := a.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, fake.calls.Load())
}

func TestAdapter_RateLimit(t *testing.T) {
	fake := &fakeEmbedder{dims: 2}
	a := newAdapter(t, fake, embedding.Config{BatchSize: 1, Concurrency: 4, RateLimitRPS: 20})

	start := time.Now()
	_, err := a.Embed(context.Background(), numbers(5))
	require.NoError(t, err)
	// burst of 20 covers all five calls; the limiter must not block them.
	assert.Less(t, time.Since(start), time.Second)

	slow := newAdapter(t, &fakeEmbedder{dims: 2}, embedding.Config{BatchSize: 1, Concurrency: 4, RateLimitRPS: 10})
	start = time.Now()
	_, err = slow.Embed(context.Background(), numbers(15))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestAdapter_QueryUsesSamePath(t *testing.T) {
	h := embedding.NewHashEmbedder(64)
	a := newAdapter(t, h, embedding.Config{})

	docs, err := a.Embed(context.Background(), []string{"the quick brown fox"})
	require.NoError(t, err)
	q, err := a.EmbedQuery(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, docs[0], q)
}

func TestNewAdapter_Invalid(t *testing.T) {
	_, err := embedding.NewAdapter(nil, embedding.Config{})
	require.Error(t, err)

	_, err = embedding.NewAdapter(&fakeEmbedder{dims: 0}, embedding.Config{})
	require.Error(t, err)
	assert.True(t, vikingerr.IsInvalidInput(err))
}
