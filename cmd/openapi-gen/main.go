// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/viking-dev/viking/internal/ingest"
	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/server"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with every route registered and returns the
// OpenAPI document huma derives from the handler types.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	// Handlers are never invoked during spec generation.
	svc, err := server.NewServices(stubIngest{}, stubResources{}, stubSearch{})
	if err != nil {
		return nil, vikingerr.Errorf(vikingerr.CodeCLISetupFailure, "creating services: %w", err)
	}
	srv.RegisterServices(svc)
	srv.RegisterConfigDeps(&server.ConfigDeps{})

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// No-op service stubs for spec generation.

type stubIngest struct{}

func (stubIngest) Submit(context.Context, string) (ingest.SubmitResult, error) {
	return ingest.SubmitResult{}, nil
}

func (stubIngest) Wait(context.Context, string, time.Duration) (store.State, error) {
	return store.State{}, nil
}

func (stubIngest) Reprocess(context.Context, string) (ingest.SubmitResult, error) {
	return ingest.SubmitResult{}, nil
}
func (stubIngest) Delete(context.Context, string) error { return nil }
func (stubIngest) Stats() ingest.Stats                  { return ingest.Stats{} }

type stubResources struct{}

func (stubResources) Get(context.Context, string) (*store.Resource, error)    { return nil, nil }
func (stubResources) List(context.Context, string) ([]*store.Resource, error) { return nil, nil }

type stubSearch struct{}

func (stubSearch) Find(context.Context, search.Query) ([]search.Result, error) { return nil, nil }
