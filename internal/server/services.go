// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"context"
	"time"

	"github.com/viking-dev/viking/internal/ingest"
	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
	"github.com/viking-dev/viking/pkg/health"
)

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Use NewServices constructor to ensure all required services are provided.
type Services struct {
	ingest    IngestService
	resources ResourceService
	search    SearchService
	embedder  HealthReporter // optional; nil = no embedder health in queue stats
}

// IngestService submits and tracks resources.
type IngestService interface {
	Submit(ctx context.Context, locator string) (ingest.SubmitResult, error)
	Wait(ctx context.Context, uri string, timeout time.Duration) (store.State, error)
	Reprocess(ctx context.Context, uri string) (ingest.SubmitResult, error)
	Delete(ctx context.Context, uri string) error
	Stats() ingest.Stats
}

// ResourceService reads resource records. It also backs namespace listings.
type ResourceService interface {
	Get(ctx context.Context, uri string) (*store.Resource, error)
	List(ctx context.Context, prefix string) ([]*store.Resource, error)
}

// SearchService answers search queries.
type SearchService interface {
	Find(ctx context.Context, q search.Query) ([]search.Result, error)
}

// HealthReporter exposes the health of an upstream dependency.
type HealthReporter interface {
	Name() string
	Health() health.Metrics
}

// NewServices creates a Services instance with validation.
// Returns an error if any required service is nil.
func NewServices(ing IngestService, resources ResourceService, searcher SearchService, embedder ...HealthReporter) (*Services, error) {
	if ing == nil {
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "ingest service is required")
	}
	if resources == nil {
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "resource service is required")
	}
	if searcher == nil {
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "search service is required")
	}
	if len(embedder) > 1 {
		return nil, vikingerr.New(vikingerr.CodeServerConfigInvalid, "at most one embedder health reporter may be supplied")
	}
	s := &Services{ingest: ing, resources: resources, search: searcher}
	if len(embedder) > 0 && embedder[0] != nil {
		s.embedder = embedder[0]
	}
	return s, nil
}

// ResourceRecord is the REST representation of a resource.
type ResourceRecord struct {
	URI       string         `json:"uri" doc:"Canonical resource URI"`
	Locator   string         `json:"locator" doc:"Normalized source locator"`
	MediaType string         `json:"media_type,omitempty" doc:"Detected media type"`
	Status    store.Status   `json:"status" doc:"queued, processing, processed or failed" enum:"queued,processing,processed,failed"`
	Stage     store.Stage    `json:"stage,omitempty" doc:"Pipeline stage while processing"`
	Error     *store.Failure `json:"error,omitempty" doc:"Failure kind and detail when failed"`
	Attempts  int            `json:"attempts" doc:"Number of times a worker claimed the resource"`
	Chunks    int            `json:"chunks" doc:"Number of indexed chunks"`
	Abstract  string         `json:"abstract,omitempty" doc:"Generated summary"`
	Digest    string         `json:"digest,omitempty" doc:"SHA-256 of the fetched content"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func recordOf(r *store.Resource) ResourceRecord {
	return ResourceRecord{
		URI:       r.URI,
		Locator:   r.Locator,
		MediaType: r.MediaType,
		Status:    r.Status,
		Stage:     r.Stage,
		Error:     r.Failure,
		Attempts:  r.Attempts,
		Chunks:    len(r.ChunkIDs),
		Abstract:  r.Abstract,
		Digest:    r.Digest,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Entry is one namespace listing entry.
type Entry struct {
	Name      string       `json:"name"`
	URI       string       `json:"uri"`
	Type      string       `json:"type" enum:"directory,resource"`
	Status    store.Status `json:"status,omitempty"`
	Children  int          `json:"children,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitzero"`
}

// QueueStats is the REST representation of the ingestion queue.
type QueueStats struct {
	ingest.Stats
	Embedder *EmbedderHealth `json:"embedder,omitempty"`
}

// EmbedderHealth reports the embedding backend's recent call outcomes.
type EmbedderHealth struct {
	Name string `json:"name"`
	health.Metrics
}
