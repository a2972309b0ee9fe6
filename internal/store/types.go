// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// --- Status and stage ---

// Status is the lifecycle state of a resource.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition will happen.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Stage is the pipeline step a processing resource is in.
type Stage string

const (
	StageNone      Stage = ""
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageEmbed     Stage = "embed"
	StageSummarize Stage = "summarize"
	StageIndex     Stage = "index"
)

// FailureKind classifies why a resource ended up failed.
type FailureKind string

const (
	FailureFetch                FailureKind = "fetch_failure"
	FailureUnsupportedMediaType FailureKind = "unsupported_media_type"
	FailureEmptyContent         FailureKind = "empty_content"
	FailureEmbeddingUnavailable FailureKind = "embedding_unavailable"
	FailureIndex                FailureKind = "index_failure"
	FailureAbandoned            FailureKind = "abandoned"
	FailureInternal             FailureKind = "internal"
)

// Failure is the captured error of a failed resource.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// State is the status of a resource together with the data that only
// exists in some statuses: the stage while processing and the failure
// once failed.
type State struct {
	Status  Status   `json:"status"`
	Stage   Stage    `json:"stage,omitempty"`
	Failure *Failure `json:"error,omitempty"`
}

// --- Transitions ---

// transitions is the complete set of legal status changes. A same-status
// entry refreshes the record (stage progress, stale re-enqueue).
var transitions = map[Status][]Status{
	StatusQueued:     {StatusQueued, StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusProcessed, StatusFailed, StatusQueued},
	StatusProcessed:  {StatusQueued},
	StatusFailed:     {StatusQueued},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Payload carries the fields written together with a status change. Nil
// pointers leave the stored value untouched.
type Payload struct {
	Stage     Stage
	Failure   *Failure
	ChunkIDs  []string
	Attempts  *int
	Abstract  *string
	MediaType *string
	Digest    *string
}

// Apply writes the transition to r in place. Stage and failure are derived
// from the target status so a record never carries data that contradicts it.
// A failed record owns no chunks.
func (p Payload) Apply(r *Resource, to Status, now time.Time) {
	r.Status = to
	r.Stage = StageNone
	r.Failure = nil
	switch to {
	case StatusProcessing:
		r.Stage = p.Stage
	case StatusFailed:
		f := Failure{Kind: FailureInternal}
		if p.Failure != nil {
			f = *p.Failure
		}
		r.Failure = &f
		r.ChunkIDs = nil
	case StatusProcessed:
		r.ChunkIDs = slices.Clone(p.ChunkIDs)
	}
	if p.Attempts != nil {
		r.Attempts = *p.Attempts
	}
	if p.Abstract != nil {
		r.Abstract = *p.Abstract
	}
	if p.MediaType != nil {
		r.MediaType = *p.MediaType
	}
	if p.Digest != nil {
		r.Digest = *p.Digest
	}
	r.UpdatedAt = now
}

// --- Resource ---

// Resource is the durable record of one ingested document.
type Resource struct {
	URI       string
	Locator   string
	MediaType string
	Status    Status
	Stage     Stage
	Failure   *Failure
	Attempts  int
	ChunkIDs  []string
	Abstract  string
	Digest    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Resource) State() State {
	return State{Status: r.Status, Stage: r.Stage, Failure: r.Failure}
}

// Clone returns a deep copy so callers never share slices with a store.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.ChunkIDs = slices.Clone(r.ChunkIDs)
	if r.Failure != nil {
		f := *r.Failure
		c.Failure = &f
	}
	return &c
}

// --- Chunks and vectors ---

// Chunk is a contiguous span of a resource's parsed text and its embedding.
type Chunk struct {
	ResourceURI string
	Seq         int
	Text        string
	Start       int
	End         int
	Vector      []float32
}

func (c Chunk) ID() string {
	return ChunkID(c.ResourceURI, c.Seq)
}

// ChunkID renders the identifier of chunk seq of resourceURI.
func ChunkID(resourceURI string, seq int) string {
	return resourceURI + "#" + strconv.Itoa(seq)
}

// Hit is one vector index match. Score is cosine similarity, higher is
// more similar.
type Hit struct {
	ResourceURI string
	Seq         int
	Text        string
	Start       int
	End         int
	Score       float64
}

// InScope reports whether uri equals scope or lies beneath it. An empty
// scope matches everything.
func InScope(uri, scope string) bool {
	scope = strings.TrimRight(scope, "/")
	if scope == "" {
		return true
	}
	return uri == scope || strings.HasPrefix(uri, scope+"/")
}

// SortHits orders hits by descending score, then resource URI, then chunk
// sequence, which makes equal-score results deterministic.
func SortHits(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if c := strings.Compare(a.ResourceURI, b.ResourceURI); c != 0 {
			return c
		}
		return a.Seq - b.Seq
	})
}
