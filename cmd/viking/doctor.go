// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/viking-dev/viking/internal/provider"
	"github.com/viking-dev/viking/internal/secrets"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// validateProviderKey is swapped in tests.
var validateProviderKey = func(ctx context.Context, name provider.Name, key string) error {
	return provider.ValidateKey(ctx, &http.Client{Timeout: 10 * time.Second}, name, key)
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check binary health, server reachability, configuration, storage, disk space and provider API keys.",
		RunE:  runDoctor,
	}

	cmd.Flags().Bool("check-keys", false, "validate configured provider API keys against the provider APIs")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr := clientAddress()
	dataDir := resolveDataDir()
	checkKeys, _ := cmd.Flags().GetBool("check-keys")

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Server", func() string { return checkServer(cmd.Context(), addr) }},
		{"Config", checkConfig},
		{"Storage", func() string { return checkStorage(dataDir) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	for _, name := range provider.Names() {
		line := checkProvider(cmd.Context(), name, checkKeys)
		if _, err := fmt.Fprintf(w, "%-20s %s\n", "Provider "+string(name)+":", line); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("viking %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkServer(ctx context.Context, addr string) string {
	var body struct {
		Status string `json:"status"`
	}
	if err := newAPIClient(addr, "").getJSON(ctx, "/health", nil, &body); err != nil {
		if vikingerr.HasCode(err, vikingerr.CodeCLIServerNotRunning) {
			return fmt.Sprintf("not running at %s (run 'viking serve')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkConfig() string {
	cfgFile := viper.ConfigFileUsed()
	if cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkStorage(dataDir string) string {
	backend := viper.GetString("storage.backend")
	if backend == "" {
		backend = "sqlite"
	}
	known := store.Backends()
	supported := false
	for _, b := range known {
		supported = supported || b == backend
	}
	if !supported {
		return fmt.Sprintf("unsupported backend %q (available: %s)", backend, strings.Join(known, ", "))
	}

	info, err := os.Stat(dataDir)
	switch {
	case os.IsNotExist(err):
		return fmt.Sprintf("%s, %s does not exist yet", backend, dataDir)
	case err != nil:
		return fmt.Sprintf("%s, error reading %s: %s", backend, dataDir, err)
	case !info.IsDir():
		return fmt.Sprintf("%s, %s is not a directory", backend, dataDir)
	}
	return fmt.Sprintf("%s in %s", backend, dataDir)
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

func checkProvider(ctx context.Context, name provider.Name, validate bool) string {
	raw := viper.GetString("providers." + string(name) + ".api_key")
	if raw == "" {
		return "not configured"
	}
	key, err := secrets.Resolve(secretStoreFactory(), raw)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if !validate {
		return "configured (use --check-keys to validate)"
	}
	if err := validateProviderKey(ctx, name, key); err != nil {
		if vikingerr.HasCode(err, vikingerr.CodeProviderKeyInvalid) {
			return "key rejected"
		}
		return fmt.Sprintf("check failed: %s", err)
	}
	return "key valid"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
