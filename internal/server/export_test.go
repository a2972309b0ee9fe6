// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import "time"

// WaitTimeout exposes waitTimeout for direct unit testing.
func (s *Server) WaitTimeout(seconds float64) time.Duration {
	return s.waitTimeout(seconds)
}
