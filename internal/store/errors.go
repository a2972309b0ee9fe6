// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store

import (
	"errors"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Sentinel errors for store operations, checked with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("state conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
)

// NotFound returns the coded not found error for uri.
func NotFound(uri string) error {
	return vikingerr.Wrap(ErrNotFound, vikingerr.CodeStoreResourceGetNotFound,
		"resource not found", vikingerr.FieldURI(uri))
}

// Conflict returns the coded state conflict for a transition that expected
// from but found current.
func Conflict(uri string, from, current Status) error {
	return vikingerr.Wrap(ErrConflict, vikingerr.CodeStoreResourceTransitionConflict,
		"resource status changed concurrently",
		vikingerr.FieldURI(uri),
		vikingerr.Field("expected", string(from)),
		vikingerr.Field("current", string(current)),
	)
}

// InvalidTransition returns the coded error for an illegal status pair.
func InvalidTransition(uri string, from, to Status) error {
	return vikingerr.Wrap(ErrInvalidInput, vikingerr.CodeStoreResourceTransitionInvalid,
		"illegal status transition "+string(from)+" -> "+string(to),
		vikingerr.FieldURI(uri),
	)
}

// Database wraps a backend failure.
func Database(err error, msg string) error {
	return vikingerr.Wrap(errors.Join(ErrDatabase, err), vikingerr.CodeStoreDatabaseFailure, msg)
}

// DeleteConflict is returned when a delete finds a status other than from.
func DeleteConflict(uri string, from, current Status) error {
	return vikingerr.Wrap(ErrConflict, vikingerr.CodeStoreResourceDeleteConflict,
		"resource status changed before delete",
		vikingerr.FieldURI(uri),
		vikingerr.Field("expected", string(from)),
		vikingerr.Field("current", string(current)),
	)
}
