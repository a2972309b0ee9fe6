// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// apiError converts a coded error into a huma status error. Internal
// errors are logged and reported as op only; every other status carries
// the error text.
func apiError(err error, op string) error {
	status := vikingerr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error(op, "error", err, "code", string(vikingerr.CodeOf(err)))
		return huma.NewError(status, op)
	}
	return huma.NewError(status, err.Error())
}
