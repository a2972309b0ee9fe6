// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package anthropic

// BuildParams exposes buildParams for white-box testing.
var BuildParams = buildParams
