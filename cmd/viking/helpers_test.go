// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/config"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// runCLI executes the root command with args against a fresh global viper
// and a temporary home directory. It returns stdout and the command error.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIInput(t, "", args...)
}

// runCLIInput is runCLI with stdin.
func runCLIInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

// mapSecrets is an in-memory secrets.Store.
type mapSecrets map[string]string

func (m mapSecrets) Store(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}

func (m mapSecrets) Retrieve(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", vikingerr.New(vikingerr.CodeSecretNotFound, "secret not found")
	}
	return v, nil
}

func (m mapSecrets) Delete(service, key string) error {
	if _, ok := m[service+"/"+key]; !ok {
		return vikingerr.New(vikingerr.CodeSecretNotFound, "secret not found")
	}
	delete(m, service+"/"+key)
	return nil
}

func (m mapSecrets) List(service string) ([]string, error) {
	var keys []string
	for k := range m {
		if name, ok := strings.CutPrefix(k, service+"/"); ok {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// testConfig returns the default configuration with an ephemeral listen
// address and the memory backend.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Networking.Listen = "127.0.0.1:0"
	cfg.Storage.Backend = "memory"
	cfg.Embedding.Dimensions = 128
	cfg.Search.MinScore = 0
	return cfg
}
