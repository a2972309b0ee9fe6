// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package google

// BuildEmbedRequest exposes buildEmbedRequest for white-box testing.
var BuildEmbedRequest = buildEmbedRequest

// BuildGenerateRequest exposes buildGenerateRequest for white-box testing.
var BuildGenerateRequest = buildGenerateRequest
