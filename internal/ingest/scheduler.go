// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package ingest turns submitted locators into indexed resources. Submission
// records the resource as queued and returns at once; a pool of workers runs
// each resource through fetch, parse, chunk, embed, summarize and index.
// Every status change goes through the resource store, so a restarted
// process resumes where the previous one stopped.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/viking-dev/viking/internal/fetch"
	"github.com/viking-dev/viking/internal/namespace"
	"github.com/viking-dev/viking/internal/parser"
	"github.com/viking-dev/viking/internal/security/scanner"
	"github.com/viking-dev/viking/internal/store"
	"github.com/viking-dev/viking/internal/summary"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	defaultWorkers       = 3
	defaultQueueSize     = 256
	defaultStaleAfter    = 10 * time.Minute
	defaultSweepInterval = time.Minute
	defaultJobTimeout    = 5 * time.Minute
	waitPollInterval     = 500 * time.Millisecond
)

// Fetcher retrieves the raw bytes behind a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*fetch.Result, error)
}

// Embedder turns chunk texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RetryPolicy bounds how often an interrupted job is picked up again.
// Stage failures are never retried automatically.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy allows one retry after the first interrupted attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1}
}

// ShouldRetry reports whether a resource that was claimed attempts times
// may be claimed again.
func (p RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts-1 < p.MaxRetries
}

// Config tunes the scheduler. Zero values take the defaults.
type Config struct {
	Workers       int
	QueueSize     int
	StaleAfter    time.Duration
	SweepInterval time.Duration
	JobTimeout    time.Duration
	Retry         RetryPolicy
}

// Deps are the collaborators a scheduler drives. Summarizer is optional.
type Deps struct {
	Resources  store.ResourceStore
	Vectors    store.VectorIndex
	Fetcher    Fetcher
	Chunker    *parser.Chunker
	Embedder   Embedder
	Summarizer summary.Summarizer
	// Filter scans parsed text for credentials before it is chunked.
	// Nil disables scanning.
	Filter *scanner.Filter
	Logger *slog.Logger
}

// SubmitResult reports the outcome of Submit.
type SubmitResult struct {
	URI      string
	Status   store.Status
	Accepted bool
}

// Scheduler owns the job queue and the worker pool.
type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	pool    *pool
	waiters *waiters

	mu      sync.RWMutex
	closed  bool
	started bool

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New validates deps, applies defaults to cfg and returns a scheduler whose
// workers are not yet running. Call Start to begin processing.
func New(deps Deps, cfg Config) (*Scheduler, error) {
	switch {
	case deps.Resources == nil:
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "ingest: resource store is required")
	case deps.Vectors == nil:
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "ingest: vector index is required")
	case deps.Fetcher == nil:
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "ingest: fetcher is required")
	case deps.Chunker == nil:
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "ingest: chunker is required")
	case deps.Embedder == nil:
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "ingest: embedder is required")
	}

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = min(defaultJobTimeout, cfg.StaleAfter/2)
	}
	if cfg.JobTimeout >= cfg.StaleAfter {
		return nil, vikingerr.Errorf(vikingerr.CodeServerConfigInvalid,
			"ingest: job timeout %s must be shorter than stale after %s", cfg.JobTimeout, cfg.StaleAfter)
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With("component", "ingest"),
		now:     time.Now,
		waiters: newWaiters(),
	}
	s.pool = newPool(cfg.Workers, cfg.QueueSize, s.process, s.logger)
	s.pool.recovered = s.abort
	return s, nil
}

// SetNowFunc replaces the clock used for staleness checks. Tests only.
func (s *Scheduler) SetNowFunc(fn func() time.Time) {
	s.now = fn
}

// Start launches the workers, re-enqueues every queued or processing
// record left by a previous process and starts the periodic recovery sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return vikingerr.New(vikingerr.CodeIngestSchedulerClosed, "ingest scheduler is closed")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	startedAt := s.now()
	s.pool.start()

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})
	s.mu.Unlock()

	// Nothing touched before this process started can be owned by one of
	// its workers.
	report, err := s.recoverBefore(ctx, startedAt)
	if err != nil {
		cancel()
		close(s.sweepDone)
		return err
	}
	if report.Total() > 0 {
		s.logger.Info("recovered interrupted resources",
			"requeued", report.Requeued,
			"abandoned", report.Abandoned,
			"reenqueued", report.Reenqueued,
		)
	}

	go s.sweep(sweepCtx)
	return nil
}

// Submit records locator as a queued resource and schedules it. A locator
// whose URI is already queued, processing or processed is not scheduled
// again; a failed one is requeued with a fresh retry budget.
func (s *Scheduler) Submit(ctx context.Context, locator string) (SubmitResult, error) {
	loc, err := namespace.ParseLocator(locator)
	if err != nil {
		return SubmitResult{}, err
	}
	if s.isClosed() {
		return SubmitResult{}, vikingerr.New(vikingerr.CodeIngestSchedulerClosed,
			"ingest scheduler is closed", vikingerr.FieldLocator(locator))
	}

	uri := loc.URI()
	created, current, err := s.deps.Resources.PutQueued(ctx, &store.Resource{
		URI:     uri,
		Locator: loc.Raw,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if created {
		s.enqueue(uri)
		s.logger.Info("resource submitted", "uri", uri, "locator", loc.Raw)
		return SubmitResult{URI: uri, Status: store.StatusQueued, Accepted: true}, nil
	}

	if current.Status != store.StatusFailed {
		return SubmitResult{URI: uri, Status: current.Status}, nil
	}
	return s.requeue(ctx, uri, store.StatusFailed)
}

// Reprocess schedules a processed or failed resource again.
func (s *Scheduler) Reprocess(ctx context.Context, uri string) (SubmitResult, error) {
	if s.isClosed() {
		return SubmitResult{}, vikingerr.New(vikingerr.CodeIngestSchedulerClosed,
			"ingest scheduler is closed", vikingerr.FieldURI(uri))
	}
	r, err := s.deps.Resources.Get(ctx, uri)
	if err != nil {
		return SubmitResult{}, err
	}
	if !r.Status.Terminal() {
		return SubmitResult{URI: uri, Status: r.Status}, nil
	}
	return s.requeue(ctx, uri, r.Status)
}

func (s *Scheduler) requeue(ctx context.Context, uri string, from store.Status) (SubmitResult, error) {
	zero := 0
	r, err := s.deps.Resources.Transition(ctx, uri, from, store.StatusQueued, store.Payload{Attempts: &zero})
	if vikingerr.IsConflict(err) {
		// Someone else moved it first.
		current, getErr := s.deps.Resources.Get(ctx, uri)
		if getErr != nil {
			return SubmitResult{}, getErr
		}
		return SubmitResult{URI: uri, Status: current.Status}, nil
	}
	if err != nil {
		return SubmitResult{}, err
	}
	s.enqueue(uri)
	s.logger.Info("resource requeued", "uri", uri, "from", string(from))
	return SubmitResult{URI: uri, Status: r.Status, Accepted: true}, nil
}

// Status returns the current state of uri.
func (s *Scheduler) Status(ctx context.Context, uri string) (store.State, error) {
	r, err := s.deps.Resources.Get(ctx, uri)
	if err != nil {
		return store.State{}, err
	}
	return r.State(), nil
}

// Wait blocks until uri reaches processed or failed, timeout elapses or ctx
// ends. An elapsed timeout is not an error: the caller receives the current
// non-terminal state.
func (s *Scheduler) Wait(ctx context.Context, uri string, timeout time.Duration) (store.State, error) {
	r, err := s.deps.Resources.Get(ctx, uri)
	if err != nil {
		return store.State{}, err
	}
	if r.Status.Terminal() {
		return r.State(), nil
	}

	ch, release := s.waiters.subscribe(uri)
	defer release()

	// A transition may have landed between the first read and subscribe.
	if r, err = s.deps.Resources.Get(ctx, uri); err != nil {
		return store.State{}, err
	}
	if r.Status.Terminal() {
		return r.State(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ch:
			return s.Status(ctx, uri)
		case <-ticker.C:
			// Transitions made by another process sharing the store do
			// not signal ch.
			if r, err = s.deps.Resources.Get(ctx, uri); err != nil {
				return store.State{}, err
			}
			if r.Status.Terminal() {
				return r.State(), nil
			}
		case <-timer.C:
			return s.Status(ctx, uri)
		case <-ctx.Done():
			return r.State(), ctx.Err()
		}
	}
}

// Delete removes uri and its vectors. A resource that is being processed
// cannot be deleted.
func (s *Scheduler) Delete(ctx context.Context, uri string) error {
	r, err := s.deps.Resources.Get(ctx, uri)
	if err != nil {
		return err
	}
	if r.Status == store.StatusProcessing {
		return vikingerr.New(vikingerr.CodeStoreResourceDeleteConflict,
			"resource is being processed", vikingerr.FieldURI(uri))
	}
	if err := s.deps.Vectors.DeleteResource(ctx, uri); err != nil {
		return err
	}
	if err := s.deps.Resources.Delete(ctx, uri, r.Status); err != nil {
		return err
	}
	s.waiters.notify(uri)
	s.logger.Info("resource deleted", "uri", uri)
	return nil
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Workers       int   `json:"workers"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	InFlight      int64 `json:"in_flight"`
	Processed     int64 `json:"processed"`
	Failed        int64 `json:"failed"`
	Dropped       int64 `json:"dropped"`
	Closed        bool  `json:"closed"`
}

func (s *Scheduler) Stats() Stats {
	st := s.pool.stats()
	st.Closed = s.isClosed()
	return st
}

// Close stops accepting submissions, stops the sweep and waits for the
// workers to drain the queue.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	cancel := s.sweepCancel
	done := s.sweepDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if started {
		s.pool.close()
	}
	s.logger.Info("ingest scheduler stopped")
	return nil
}

func (s *Scheduler) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// enqueue hands uri to the workers. The record stays queued in the store
// when the queue is full or the scheduler is closing, so the next recovery
// sweep picks it up.
func (s *Scheduler) enqueue(uri string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.started {
		return
	}
	s.pool.enqueue(uri)
}
