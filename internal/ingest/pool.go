// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Job is one scheduled run of the pipeline for a resource.
type Job struct {
	ID          string
	URI         string
	ScheduledAt time.Time
}

// outcome is what a job run reports back to the pool's counters.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeProcessed
	outcomeFailed
)

// pool runs jobs from a bounded queue on a fixed set of workers.
type pool struct {
	workers int
	queue   chan Job
	run     func(Job) outcome
	logger  *slog.Logger
	wg      sync.WaitGroup

	// recovered is called after run panicked.
	recovered func(Job, error)

	inFlight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func newPool(workers, queueSize int, run func(Job) outcome, logger *slog.Logger) *pool {
	return &pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
		run:     run,
		logger:  logger,
	}
}

func (p *pool) start() {
	p.wg.Add(p.workers)
	for i := range p.workers {
		go p.worker(i)
	}
}

// enqueue never blocks. It returns false when the queue is full and the job
// was dropped.
func (p *pool) enqueue(uri string) bool {
	job := Job{ID: uuid.NewString(), URI: uri, ScheduledAt: time.Now()}
	select {
	case p.queue <- job:
		p.logger.Debug("job queued", "job_id", job.ID, "uri", uri)
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("job not queued, queue full", "uri", uri)
		return false
	}
}

// close stops intake and waits for the workers to drain the queue. Callers
// must guarantee no enqueue runs concurrently.
func (p *pool) close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.inFlight.Add(1)
		switch p.execute(job) {
		case outcomeProcessed:
			p.processed.Add(1)
		case outcomeFailed:
			p.failed.Add(1)
		}
		p.inFlight.Add(-1)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// execute runs one job. A panic is logged with its stack and reported
// through the recovered hook instead of killing the worker.
func (p *pool) execute(job Job) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.logger.Error("ingest worker panic recovered",
				"job_id", job.ID,
				"uri", job.URI,
				"panic", r,
				"stack", string(stack))
			out = outcomeFailed
			if p.recovered != nil {
				p.recovered(job, fmt.Errorf("worker panic: %v", r))
			}
		}
	}()
	return p.run(job)
}

func (p *pool) stats() Stats {
	return Stats{
		Workers:       p.workers,
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		InFlight:      p.inFlight.Load(),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		Dropped:       p.dropped.Load(),
	}
}
