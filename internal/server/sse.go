// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// eventPollInterval is how long each wait in the event stream blocks
// before the current state is re-read and, when changed, sent. Stage
// changes are sampled at this interval; terminal transitions wake the
// wait immediately.
const eventPollInterval = 2 * time.Second

// SSEEvent represents a single server-sent event.
type SSEEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

func (s *Server) registerEventsRoute() {
	s.router.Get("/api/v1/resources/events", s.handleResourceEvents)

	// The streaming handler needs the raw http.ResponseWriter, so the route
	// lives on chi and only the OpenAPI operation is added to the API.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "resource-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/resources/events",
		Summary:     "Stream status changes of a resource via SSE",
		Description: "Emits a state event when the sampled status or stage differs from the last one sent and a done event once the resource is processed or failed. Stages shorter than the sampling interval may not appear.",
		Tags:        []string{"resources"},
		Parameters: []*huma.Param{{
			Name:        "uri",
			In:          "query",
			Required:    true,
			Description: "Resource URI",
			Schema:      &huma.Schema{Type: "string"},
		}},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"},
					},
				},
			},
			"400": {Description: "Missing uri"},
			"404": {Description: "Unknown resource"},
		},
	})
}

func (s *Server) handleResourceEvents(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, `{"error":"uri is required"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	rec, err := s.services.resources.Get(ctx, uri)
	if err != nil {
		status := vikingerr.HTTPStatus(err)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, http.StatusText(status)), status)
		return
	}

	// The stream lives until the resource is terminal, which can outlast
	// the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("clearing event stream write deadline", "uri", uri, "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	send := func(ev SSEEvent) bool {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, ev.Data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	last := rec.State()
	if !send(stateEvent("state", last)) {
		return
	}
	for !last.Status.Terminal() {
		state, err := s.services.ingest.Wait(ctx, uri, eventPollInterval)
		if err != nil {
			if ctx.Err() == nil {
				send(SSEEvent{Event: "error", Data: fmt.Sprintf(`{"error":%q}`, err.Error())})
			}
			return
		}
		if stateChanged(last, state) {
			if !send(stateEvent("state", state)) {
				return
			}
		}
		last = state
	}
	send(stateEvent("done", last))
}

func stateEvent(name string, st store.State) SSEEvent {
	data, err := json.Marshal(st)
	if err != nil {
		data = []byte(`{}`)
	}
	return SSEEvent{Event: name, Data: string(data)}
}

func stateChanged(a, b store.State) bool {
	return a.Status != b.Status || a.Stage != b.Stage
}
