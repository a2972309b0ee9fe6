// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/store"
)

// clock is a settable time source shared by the store and the scheduler.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedHarness(t *testing.T) (*harness, *clock) {
	t.Helper()
	h := newHarness(t)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h.resources.SetNowFunc(c.Now)
	h.sched.SetNowFunc(c.Now)
	return h, c
}

// claim simulates a worker that took uri and then died.
func claim(t *testing.T, h *harness, uri string, attempts int) {
	t.Helper()
	_, err := h.resources.Transition(context.Background(), uri, store.StatusQueued, store.StatusProcessing,
		store.Payload{Stage: store.StageEmbed, Attempts: &attempts})
	require.NoError(t, err)
}

func putQueued(t *testing.T, h *harness, uri string) {
	t.Helper()
	created, _, err := h.resources.PutQueued(context.Background(), &store.Resource{
		URI:     uri,
		Locator: "https://docs.example.com/" + uri[len(uri)-4:],
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestRecover_StaleProcessingRetriedOnceThenAbandoned(t *testing.T) {
	h, c := newClockedHarness(t)
	ctx := context.Background()
	const uri = "viking://resources/docs.example.com/a_0000"

	putQueued(t, h, uri)
	claim(t, h, uri, 1)

	c.Advance(5 * time.Minute)
	report, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total(), "not stale yet")

	c.Advance(6 * time.Minute)
	report, err = h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)

	rec, err := h.resources.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// The retry is interrupted as well.
	claim(t, h, uri, 2)
	c.Advance(11 * time.Minute)
	report, err = h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)

	rec, err = h.resources.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, rec.Status)
	require.NotNil(t, rec.Failure)
	assert.Equal(t, store.FailureAbandoned, rec.Failure.Kind)
	assert.Contains(t, rec.Failure.Detail, "embed")
}

func TestRecover_StaleQueuedReenqueuedWithoutConsumingRetry(t *testing.T) {
	h, c := newClockedHarness(t)
	ctx := context.Background()
	const uri = "viking://resources/docs.example.com/b_0000"

	putQueued(t, h, uri)
	c.Advance(11 * time.Minute)

	report, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reenqueued)

	rec, err := h.resources.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, rec.Status)
	assert.Zero(t, rec.Attempts)

	// Refreshed, so an immediate second pass leaves it alone.
	report, err = h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}

func TestRecover_IgnoresTerminalResources(t *testing.T) {
	h, c := newClockedHarness(t)
	ctx := context.Background()
	const uri = "viking://resources/docs.example.com/c_0000"

	putQueued(t, h, uri)
	claim(t, h, uri, 1)
	_, err := h.resources.Transition(ctx, uri, store.StatusProcessing, store.StatusFailed,
		store.Payload{Failure: &store.Failure{Kind: store.FailureFetch}})
	require.NoError(t, err)

	c.Advance(time.Hour)
	report, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total())
}

func TestStart_ResumesWorkLeftByPreviousProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const locator = "https://docs.example.com/guide.md"
	h.fetcher.serve(locator, "text/markdown", guideMarkdown)
	uri := uriOf(t, locator)

	created, _, err := h.resources.PutQueued(ctx, &store.Resource{URI: uri, Locator: locator})
	require.NoError(t, err)
	require.True(t, created)
	claim(t, h, uri, 1)
	time.Sleep(5 * time.Millisecond)

	h.start(t)

	state := h.waitTerminal(t, uri)
	assert.Equal(t, store.StatusProcessed, state.Status)

	rec, err := h.resources.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
}

func TestStart_AbandonsExhaustedWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const locator = "https://docs.example.com/guide.md"
	h.fetcher.serve(locator, "text/markdown", guideMarkdown)
	uri := uriOf(t, locator)

	_, _, err := h.resources.PutQueued(ctx, &store.Resource{URI: uri, Locator: locator})
	require.NoError(t, err)
	claim(t, h, uri, 2)
	time.Sleep(5 * time.Millisecond)

	h.start(t)

	state, err := h.sched.Status(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, state.Status)
	require.NotNil(t, state.Failure)
	assert.Equal(t, store.FailureAbandoned, state.Failure.Kind)
	assert.Zero(t, h.fetcher.count(locator))
}
