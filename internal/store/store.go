// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store

import (
	"context"
	"time"
)

// ResourceStore is the durable record of every resource and its processing
// state. All status changes go through Transition, which is atomic and
// conditional on the caller's view of the current status.
type ResourceStore interface {
	// PutQueued inserts r with status queued unless a record with the same
	// URI exists. It returns whether a record was created and the record
	// now stored under the URI.
	PutQueued(ctx context.Context, r *Resource) (created bool, current *Resource, err error)

	// Transition moves uri from status from to status to and applies p.
	// A stale from yields a conflict error, an illegal pair an invalid
	// input error and an unknown uri a not found error.
	Transition(ctx context.Context, uri string, from, to Status, p Payload) (*Resource, error)

	Get(ctx context.Context, uri string) (*Resource, error)

	// List returns the resources whose URI is prefix or lies under it,
	// ordered by URI. An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]*Resource, error)

	// ListStale returns resources in one of statuses whose last update is
	// older than before, oldest first.
	ListStale(ctx context.Context, statuses []Status, before time.Time) ([]*Resource, error)

	// Delete removes uri if its status still equals from.
	Delete(ctx context.Context, uri string, from Status) error

	Close() error
}

// VectorIndex holds chunk embeddings and answers similarity queries.
type VectorIndex interface {
	// Upsert replaces every chunk of resourceURI with chunks in one atomic
	// step. Readers see either the old set or the new one.
	Upsert(ctx context.Context, resourceURI string, chunks []Chunk) error

	// Query returns up to topK hits ordered by descending cosine similarity,
	// ties broken by resource URI then chunk sequence. scope limits hits to
	// resources under that URI prefix.
	Query(ctx context.Context, vector []float32, scope string, topK int) ([]Hit, error)

	DeleteResource(ctx context.Context, resourceURI string) error

	Dimensions() int

	Close() error
}
