// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapAt_WritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "viking.yaml")

	assert.Equal(t, path, bootstrapAt(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigYAML, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Empty(t, bootstrapAt(path), "existing file must not be overwritten")
}
