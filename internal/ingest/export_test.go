// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest

// WaiterCount reports how many URIs currently have subscribed waiters.
func (s *Scheduler) WaiterCount() int { return s.waiters.len() }
