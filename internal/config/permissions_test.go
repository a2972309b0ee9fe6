// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

//go:build !windows

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return &buf
}

func TestWarnInsecurePermissions(t *testing.T) {
	tests := []struct {
		name       string
		perm       os.FileMode
		expectWarn bool
	}{
		{name: "owner only 0600", perm: 0o600},
		{name: "owner read only 0400", perm: 0o400},
		{name: "group readable 0640", perm: 0o640, expectWarn: true},
		{name: "other readable 0604", perm: 0o604, expectWarn: true},
		{name: "world readable 0644", perm: 0o644, expectWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "viking.yaml")
			require.NoError(t, os.WriteFile(path, []byte("auth:\n  api_keys: [k]\n"), tt.perm))
			require.NoError(t, os.Chmod(path, tt.perm))

			buf := captureLogs(t)
			WarnInsecurePermissions(path)

			if tt.expectWarn {
				assert.Contains(t, buf.String(), "insecure permissions")
				assert.Contains(t, buf.String(), path)
				assert.Contains(t, buf.String(), "0600")
			} else {
				assert.NotContains(t, buf.String(), "insecure permissions")
			}
		})
	}
}

func TestWarnInsecurePermissions_EmptyPath(t *testing.T) {
	buf := captureLogs(t)
	WarnInsecurePermissions("")
	assert.Empty(t, buf.String())
}

func TestWarnInsecurePermissions_MissingFile(t *testing.T) {
	buf := captureLogs(t)
	WarnInsecurePermissions("/nonexistent/path/viking.yaml")
	assert.NotContains(t, buf.String(), "insecure permissions")
}
