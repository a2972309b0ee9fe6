// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package ingest

import "sync"

// waiters broadcasts terminal transitions per URI. Each URI has at most one
// channel, closed on notify and shared by every waiter subscribed at that
// moment.
type waiters struct {
	mu   sync.Mutex
	sets map[string]*waitSet
}

type waitSet struct {
	ch   chan struct{}
	refs int
}

func newWaiters() *waiters {
	return &waiters{sets: make(map[string]*waitSet)}
}

// subscribe returns a channel closed at the next notify for uri and a
// release func the caller must invoke when done waiting.
func (w *waiters) subscribe(uri string) (<-chan struct{}, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	set, ok := w.sets[uri]
	if !ok {
		set = &waitSet{ch: make(chan struct{})}
		w.sets[uri] = set
	}
	set.refs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			set.refs--
			if set.refs == 0 && w.sets[uri] == set {
				delete(w.sets, uri)
			}
		})
	}
	return set.ch, release
}

func (w *waiters) notify(uri string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if set, ok := w.sets[uri]; ok {
		close(set.ch)
		delete(w.sets, uri)
	}
}

func (w *waiters) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sets)
}
