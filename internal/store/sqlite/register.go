// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/viking-dev/viking/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", openStores)
}

// openStores opens resources.db and vectors.db under dataDir.
func openStores(dataDir string, vectorDims int) (store.ResourceStore, store.VectorIndex, error) {
	if dataDir == "" {
		return nil, nil, fmt.Errorf("sqlite backend requires a data directory")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	rs, err := NewResourceStore(filepath.Join(dataDir, "resources.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource store: %w", err)
	}

	vi, err := NewVectorIndex(filepath.Join(dataDir, "vectors.db"), vectorDims)
	if err != nil {
		_ = rs.Close()
		return nil, nil, fmt.Errorf("creating vector index: %w", err)
	}

	return rs, vi, nil
}
