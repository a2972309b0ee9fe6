// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package health

import (
	"sync"
	"time"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Metrics exposes the current health state of a backend for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	SuccessCount  int64      `json:"success_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// DefaultCooldown is the duration after which an unhealthy backend
// is reported available again.
const DefaultCooldown = 30 * time.Second

// Tracker records success and failure of calls to an external backend.
// A backend is healthy until RecordFailure is called. After a failure it
// is reported unavailable for a cooldown period, then becomes available
// again so callers can probe for recovery.
type Tracker struct {
	mu           sync.RWMutex
	healthy      bool
	failedAt     time.Time
	lastErr      string
	cooldown     time.Duration
	failureCount int64
	successCount int64
	nowFunc      func() time.Time
}

// NewTracker creates a Tracker that starts healthy.
func NewTracker(cooldown time.Duration) (*Tracker, error) {
	if cooldown <= 0 {
		return nil, vikingerr.Errorf(vikingerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &Tracker{
		healthy:  true,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}, nil
}

// isHealthyLocked reports whether the backend is healthy or the cooldown
// has elapsed. The caller MUST hold at least t.mu.RLock.
func (t *Tracker) isHealthyLocked() bool {
	if t.healthy {
		return true
	}
	return t.nowFunc().Sub(t.failedAt) >= t.cooldown
}

// IsHealthy returns true if the backend is healthy or the cooldown has elapsed.
func (t *Tracker) IsHealthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isHealthyLocked()
}

func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	t.healthy = true
	t.successCount++
	t.mu.Unlock()
}

// RecordFailure marks the backend unhealthy and remembers the error text.
func (t *Tracker) RecordFailure(err error) {
	t.mu.Lock()
	t.healthy = false
	t.failedAt = t.nowFunc()
	t.failureCount++
	if err != nil {
		t.lastErr = err.Error()
	}
	t.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (t *Tracker) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	t.nowFunc = fn
	t.mu.Unlock()
}

// Metrics returns a point-in-time snapshot of the tracker's state.
func (t *Tracker) Metrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{
		FailureCount: t.failureCount,
		SuccessCount: t.successCount,
		LastError:    t.lastErr,
	}

	if t.failureCount > 0 {
		at := t.failedAt
		m.LastFailureAt = &at
	}

	m.Available = t.isHealthyLocked()
	if !t.healthy {
		cooldownEnd := t.failedAt.Add(t.cooldown)
		m.CooldownUntil = &cooldownEnd
	}
	return m
}
