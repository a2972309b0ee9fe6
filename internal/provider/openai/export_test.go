// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package openai

// BuildEmbeddingParams exposes buildEmbeddingParams for white-box testing.
var BuildEmbeddingParams = buildEmbeddingParams

// BuildChatParams exposes buildChatParams for white-box testing.
var BuildChatParams = buildChatParams
