// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store

import (
	"sort"
	"sync"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// defaultVectorDimensions matches the local hash embedder default.
const defaultVectorDimensions = 256

// BackendFactory opens the resource store and vector index of a backend.
type BackendFactory func(dataDir string, vectorDims int) (ResourceStore, VectorIndex, error)

var (
	factories   = map[string]BackendFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). It is goroutine-safe.
func RegisterBackend(name string, f BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the stores of the configured backend.
func Open(cfg *StorageConfig) (ResourceStore, VectorIndex, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, nil, vikingerr.Errorf(vikingerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}

	dims := defaultVectorDimensions
	if cfg.VectorDimensions > 0 {
		dims = cfg.VectorDimensions
	}

	return factory(cfg.DataDir, dims)
}
