// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package memory is an in-process storage backend. Nothing survives a
// restart; it backs tests and the "memory" storage backend.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/viking-dev/viking/internal/store"
)

func init() {
	store.RegisterBackend("memory", func(_ string, dims int) (store.ResourceStore, store.VectorIndex, error) {
		return NewResourceStore(), NewVectorIndex(dims), nil
	})
}

var (
	_ store.ResourceStore = (*ResourceStore)(nil)
	_ store.VectorIndex   = (*VectorIndex)(nil)
)

// ResourceStore keeps resources in a map guarded by one mutex, which makes
// every conditional transition atomic.
type ResourceStore struct {
	mu        sync.RWMutex
	resources map[string]*store.Resource
	nowFunc   func() time.Time
}

func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		resources: make(map[string]*store.Resource),
		nowFunc:   time.Now,
	}
}

// SetNowFunc overrides the clock (for testing).
func (s *ResourceStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	s.mu.Unlock()
}

func (s *ResourceStore) PutQueued(_ context.Context, r *store.Resource) (bool, *store.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.resources[r.URI]; ok {
		return false, existing.Clone(), nil
	}

	now := s.nowFunc().UTC()
	rec := r.Clone()
	rec.Status = store.StatusQueued
	rec.Stage = store.StageNone
	rec.Failure = nil
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.resources[r.URI] = rec
	return true, rec.Clone(), nil
}

func (s *ResourceStore) Transition(_ context.Context, uri string, from, to store.Status, p store.Payload) (*store.Resource, error) {
	if !store.CanTransition(from, to) {
		return nil, store.InvalidTransition(uri, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resources[uri]
	if !ok {
		return nil, store.NotFound(uri)
	}
	if rec.Status != from {
		return nil, store.Conflict(uri, from, rec.Status)
	}

	p.Apply(rec, to, s.nowFunc().UTC())
	return rec.Clone(), nil
}

func (s *ResourceStore) Get(_ context.Context, uri string) (*store.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.resources[uri]
	if !ok {
		return nil, store.NotFound(uri)
	}
	return rec.Clone(), nil
}

func (s *ResourceStore) List(_ context.Context, prefix string) ([]*store.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Resource
	for uri, rec := range s.resources {
		if store.InScope(uri, prefix) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *store.Resource) int { return strings.Compare(a.URI, b.URI) })
	return out, nil
}

func (s *ResourceStore) ListStale(_ context.Context, statuses []store.Status, before time.Time) ([]*store.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Resource
	for _, rec := range s.resources {
		if slices.Contains(statuses, rec.Status) && rec.UpdatedAt.Before(before) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *store.Resource) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.URI, b.URI)
	})
	return out, nil
}

func (s *ResourceStore) Delete(_ context.Context, uri string, from store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resources[uri]
	if !ok {
		return store.NotFound(uri)
	}
	if rec.Status != from {
		return store.DeleteConflict(uri, from, rec.Status)
	}
	delete(s.resources, uri)
	return nil
}

func (s *ResourceStore) Close() error { return nil }

// VectorIndex is a brute-force cosine index keyed by resource.
type VectorIndex struct {
	mu     sync.RWMutex
	dims   int
	chunks map[string][]store.Chunk
}

func NewVectorIndex(dims int) *VectorIndex {
	return &VectorIndex{dims: dims, chunks: make(map[string][]store.Chunk)}
}

func (v *VectorIndex) Dimensions() int { return v.dims }

func (v *VectorIndex) Upsert(_ context.Context, resourceURI string, chunks []store.Chunk) error {
	copied := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		if err := store.CheckDimensions(c.Vector, v.dims); err != nil {
			return err
		}
		c.ResourceURI = resourceURI
		c.Vector = slices.Clone(c.Vector)
		copied[i] = c
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(copied) == 0 {
		delete(v.chunks, resourceURI)
		return nil
	}
	v.chunks[resourceURI] = copied
	return nil
}

func (v *VectorIndex) Query(_ context.Context, vector []float32, scope string, topK int) ([]store.Hit, error) {
	if err := store.CheckDimensions(vector, v.dims); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	v.mu.RLock()
	var hits []store.Hit
	for uri, chunks := range v.chunks {
		if !store.InScope(uri, scope) {
			continue
		}
		for _, c := range chunks {
			hits = append(hits, store.Hit{
				ResourceURI: uri,
				Seq:         c.Seq,
				Text:        c.Text,
				Start:       c.Start,
				End:         c.End,
				Score:       store.Cosine(vector, c.Vector),
			})
		}
	}
	v.mu.RUnlock()

	store.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (v *VectorIndex) DeleteResource(_ context.Context, resourceURI string) error {
	v.mu.Lock()
	delete(v.chunks, resourceURI)
	v.mu.Unlock()
	return nil
}

func (v *VectorIndex) Close() error { return nil }
