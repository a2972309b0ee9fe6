// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/viking-dev/viking/internal/namespace"
	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/store"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 10 * time.Minute
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
	s.registerEventsRoute()
}

func (s *Server) registerRoutes() {
	// Resource endpoints
	huma.Register(s.api, huma.Operation{
		OperationID:   "add-resource",
		Method:        http.MethodPost,
		Path:          "/api/v1/resources",
		Summary:       "Submit a resource for ingestion",
		Tags:          []string{"resources"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, s.handleAddResource)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-resource",
		Method:      http.MethodGet,
		Path:        "/api/v1/resources",
		Summary:     "Get a resource record",
		Tags:        []string{"resources"},
		Errors:      []int{http.StatusNotFound},
	}, s.handleGetResource)

	huma.Register(s.api, huma.Operation{
		OperationID: "wait-resource",
		Method:      http.MethodGet,
		Path:        "/api/v1/resources/wait",
		Summary:     "Wait until a resource is processed or failed",
		Description: "Returns the record once processing ends or when the timeout elapses, whichever comes first. A timeout is not an error.",
		Tags:        []string{"resources"},
		Errors:      []int{http.StatusNotFound},
	}, s.handleWaitResource)

	huma.Register(s.api, huma.Operation{
		OperationID:   "reprocess-resource",
		Method:        http.MethodPost,
		Path:          "/api/v1/resources/reprocess",
		Summary:       "Process a resource again",
		Tags:          []string{"resources"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, s.handleReprocessResource)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-resource",
		Method:      http.MethodDelete,
		Path:        "/api/v1/resources",
		Summary:     "Delete a resource and its index entries",
		Tags:        []string{"resources"},
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, s.handleDeleteResource)

	// Namespace endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-namespace",
		Method:      http.MethodGet,
		Path:        "/api/v1/fs/ls",
		Summary:     "List a namespace directory",
		Tags:        []string{"fs"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, s.handleList)

	// Search endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "find",
		Method:      http.MethodPost,
		Path:        "/api/v1/search/find",
		Summary:     "Semantic search over processed resources",
		Tags:        []string{"search"},
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, s.handleFind)

	// System endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "queue-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/system/queue",
		Summary:     "Ingestion queue statistics",
		Tags:        []string{"system"},
	}, s.handleQueueStats)
}

// --- Request/Response types for huma ---

type addResourceInput struct {
	Body struct {
		Path    string  `json:"path" minLength:"1" doc:"URL or local path of the resource"`
		Wait    bool    `json:"wait,omitempty" doc:"Block until processing ends or timeout elapses"`
		Timeout float64 `json:"timeout,omitempty" minimum:"0" doc:"Wait timeout in seconds"`
	}
}
// addResourceOutput is 202 when the call scheduled processing and 200 when
// the resource was already known.
type addResourceOutput struct {
	Status int
	Body   struct {
		RootURI  string         `json:"root_uri" doc:"Canonical resource URI"`
		Status   store.Status   `json:"status" doc:"Resource status"`
		Accepted bool           `json:"accepted" doc:"Whether this call scheduled processing"`
		Error    *store.Failure `json:"error,omitempty" doc:"Failure when waited and failed"`
	}
}

type uriInput struct {
	URI string `query:"uri" required:"true" doc:"Resource URI"`
}
type resourceOutput struct {
	Body ResourceRecord
}

type waitInput struct {
	URI     string  `query:"uri" required:"true" doc:"Resource URI"`
	Timeout float64 `query:"timeout" minimum:"0" doc:"Timeout in seconds (default 30)"`
}

type reprocessInput struct {
	Body struct {
		URI string `json:"uri" minLength:"1" doc:"Resource URI"`
	}
}
type reprocessOutput struct {
	Status int
	Body   struct {
		URI      string       `json:"uri"`
		Status   store.Status `json:"status"`
		Accepted bool         `json:"accepted"`
	}
}

type deleteOutput struct {
	Body struct {
		URI    string `json:"uri"`
		Status string `json:"status" example:"deleted"`
	}
}

type listInput struct {
	URI string `query:"uri" doc:"Namespace URI (default viking://resources)"`
}
type listOutput struct {
	Body struct {
		URI     string  `json:"uri"`
		Entries []Entry `json:"entries"`
	}
}

type findInput struct {
	Body struct {
		Query     string   `json:"query" minLength:"1" doc:"Natural language query"`
		TargetURI string   `json:"target_uri,omitempty" doc:"Restrict results to resources under this URI"`
		TopK      int      `json:"top_k,omitempty" minimum:"0" doc:"Maximum number of results"`
		MinScore  *float64 `json:"min_score,omitempty" minimum:"-1" maximum:"1" doc:"Minimum cosine similarity"`
	}
}
type findOutput struct {
	Body struct {
		Resources []search.Result `json:"resources"`
	}
}

type queueStatsOutput struct {
	Body QueueStats
}

// --- Handlers ---

func (s *Server) handleAddResource(ctx context.Context, input *addResourceInput) (*addResourceOutput, error) {
	res, err := s.services.ingest.Submit(ctx, input.Body.Path)
	if err != nil {
		return nil, apiError(err, "submitting resource")
	}

	out := &addResourceOutput{Status: submitStatus(res.Accepted)}
	out.Body.RootURI = res.URI
	out.Body.Status = res.Status
	out.Body.Accepted = res.Accepted

	if input.Body.Wait {
		state, err := s.services.ingest.Wait(ctx, res.URI, s.waitTimeout(input.Body.Timeout))
		if err != nil {
			return nil, apiError(err, "waiting for resource")
		}
		out.Body.Status = state.Status
		out.Body.Error = state.Failure
	}
	return out, nil
}

func (s *Server) handleGetResource(ctx context.Context, input *uriInput) (*resourceOutput, error) {
	r, err := s.services.resources.Get(ctx, input.URI)
	if err != nil {
		return nil, apiError(err, "loading resource")
	}
	return &resourceOutput{Body: recordOf(r)}, nil
}

func (s *Server) handleWaitResource(ctx context.Context, input *waitInput) (*resourceOutput, error) {
	if _, err := s.services.ingest.Wait(ctx, input.URI, s.waitTimeout(input.Timeout)); err != nil {
		return nil, apiError(err, "waiting for resource")
	}
	r, err := s.services.resources.Get(ctx, input.URI)
	if err != nil {
		return nil, apiError(err, "loading resource")
	}
	return &resourceOutput{Body: recordOf(r)}, nil
}

func (s *Server) handleReprocessResource(ctx context.Context, input *reprocessInput) (*reprocessOutput, error) {
	res, err := s.services.ingest.Reprocess(ctx, input.Body.URI)
	if err != nil {
		return nil, apiError(err, "reprocessing resource")
	}
	out := &reprocessOutput{Status: submitStatus(res.Accepted)}
	out.Body.URI = res.URI
	out.Body.Status = res.Status
	out.Body.Accepted = res.Accepted
	return out, nil
}

func (s *Server) handleDeleteResource(ctx context.Context, input *uriInput) (*deleteOutput, error) {
	if err := s.services.ingest.Delete(ctx, input.URI); err != nil {
		return nil, apiError(err, "deleting resource")
	}
	out := &deleteOutput{}
	out.Body.URI = input.URI
	out.Body.Status = "deleted"
	return out, nil
}

func (s *Server) handleList(ctx context.Context, input *listInput) (*listOutput, error) {
	uri, err := namespace.Normalize(input.URI)
	if err != nil {
		return nil, apiError(err, "listing namespace")
	}
	nodes, err := namespace.List(ctx, s.services.resources, uri)
	if err != nil {
		return nil, apiError(err, "listing namespace")
	}

	out := &listOutput{}
	out.Body.URI = uri
	out.Body.Entries = make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		out.Body.Entries = append(out.Body.Entries, Entry{
			Name:      n.Name,
			URI:       n.URI,
			Type:      string(n.Type),
			Status:    n.Status,
			Children:  n.Children,
			UpdatedAt: n.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Server) handleFind(ctx context.Context, input *findInput) (*findOutput, error) {
	results, err := s.services.search.Find(ctx, search.Query{
		Text:      input.Body.Query,
		TargetURI: input.Body.TargetURI,
		TopK:      input.Body.TopK,
		MinScore:  input.Body.MinScore,
	})
	if err != nil {
		return nil, apiError(err, "searching")
	}
	out := &findOutput{}
	out.Body.Resources = results
	if out.Body.Resources == nil {
		out.Body.Resources = []search.Result{}
	}
	return out, nil
}

func (s *Server) handleQueueStats(_ context.Context, _ *struct{}) (*queueStatsOutput, error) {
	out := &queueStatsOutput{}
	out.Body.Stats = s.services.ingest.Stats()
	if s.services.embedder != nil {
		out.Body.Embedder = &EmbedderHealth{
			Name:    s.services.embedder.Name(),
			Metrics: s.services.embedder.Health(),
		}
	}
	return out, nil
}

func submitStatus(accepted bool) int {
	if accepted {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// waitTimeout turns a seconds value into a wait duration, bounded by the
// server's write timeout so the response can still be written.
func (s *Server) waitTimeout(seconds float64) time.Duration {
	d := defaultWaitTimeout
	if seconds > 0 {
		d = time.Duration(seconds * float64(time.Second))
	}
	limit := maxWaitTimeout
	if s.cfg.WriteTimeout > 0 {
		limit = min(limit, s.cfg.WriteTimeout*9/10)
	}
	return min(d, limit)
}
