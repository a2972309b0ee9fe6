// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend          string // "sqlite" or "memory"; empty means sqlite.
	DataDir          string // Directory for on-disk backends.
	VectorDimensions int    // Embedding dimensions; 0 uses the default.
}
