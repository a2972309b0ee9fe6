// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// RecoveryReport counts what one recovery pass did.
type RecoveryReport struct {
	// Requeued processing resources that still had retries left.
	Requeued int
	// Abandoned processing resources that ran out of retries.
	Abandoned int
	// Reenqueued queued resources whose job was lost or dropped.
	Reenqueued int
}

func (r RecoveryReport) Total() int {
	return r.Requeued + r.Abandoned + r.Reenqueued
}

// Recover handles every queued or processing resource that has not been
// updated for the configured stale duration.
func (s *Scheduler) Recover(ctx context.Context) (RecoveryReport, error) {
	return s.recoverBefore(ctx, s.now().Add(-s.cfg.StaleAfter))
}

func (s *Scheduler) recoverBefore(ctx context.Context, before time.Time) (RecoveryReport, error) {
	var report RecoveryReport

	stale, err := s.deps.Resources.ListStale(ctx,
		[]store.Status{store.StatusProcessing, store.StatusQueued}, before)
	if err != nil {
		return report, err
	}

	for _, r := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch r.Status {
		case store.StatusProcessing:
			s.recoverProcessing(ctx, r, &report)
		case store.StatusQueued:
			// Same-status transition refreshes the update time so the next
			// sweep does not enqueue it again.
			if _, err := s.deps.Resources.Transition(ctx, r.URI, store.StatusQueued, store.StatusQueued,
				store.Payload{}); err != nil {
				s.logRecoveryError(r.URI, err)
				continue
			}
			s.enqueue(r.URI)
			report.Reenqueued++
		}
	}
	return report, nil
}

func (s *Scheduler) recoverProcessing(ctx context.Context, r *store.Resource, report *RecoveryReport) {
	if s.cfg.Retry.ShouldRetry(r.Attempts) {
		if _, err := s.deps.Resources.Transition(ctx, r.URI, store.StatusProcessing, store.StatusQueued,
			store.Payload{}); err != nil {
			s.logRecoveryError(r.URI, err)
			return
		}
		s.enqueue(r.URI)
		report.Requeued++
		s.logger.Warn("requeued interrupted resource",
			"uri", r.URI,
			"attempts", r.Attempts,
			"stage", string(r.Stage),
		)
		return
	}

	failure := &store.Failure{
		Kind:   store.FailureAbandoned,
		Detail: fmt.Sprintf("interrupted during %s after %d attempts", stageName(r.Stage), r.Attempts),
	}
	if _, err := s.deps.Resources.Transition(ctx, r.URI, store.StatusProcessing, store.StatusFailed,
		store.Payload{Failure: failure}); err != nil {
		s.logRecoveryError(r.URI, err)
		return
	}
	s.waiters.notify(r.URI)
	report.Abandoned++
	s.logger.Warn("abandoned interrupted resource", "uri", r.URI, "attempts", r.Attempts)
}

func (s *Scheduler) logRecoveryError(uri string, err error) {
	if vikingerr.IsConflict(err) || vikingerr.IsNotFound(err) {
		// Moved on since it was listed.
		return
	}
	s.logger.Error("recovering resource", "uri", uri, "error", err)
}

// sweep runs Recover every SweepInterval until ctx ends.
func (s *Scheduler) sweep(ctx context.Context) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Recover(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("recovery sweep failed", "error", err)
				}
				continue
			}
			if report.Total() > 0 {
				s.logger.Info("recovery sweep",
					"requeued", report.Requeued,
					"abandoned", report.Abandoned,
					"reenqueued", report.Reenqueued,
				)
			}
		}
	}
}

func stageName(st store.Stage) string {
	if st == store.StageNone {
		return "claim"
	}
	return string(st)
}
