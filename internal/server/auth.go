// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const apiKeyHeader = "X-API-Key"

// apiKeyMiddleware requires one of keys on every /api/ request, taken from
// the X-API-Key header or an Authorization bearer token. Health and the
// OpenAPI documents stay public. An empty key list disables the check.
func apiKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}
	if len(digests) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			presented := requestKey(r)
			if presented == "" || !matchKey(digests, presented) {
				slog.Warn("rejected unauthenticated request",
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="viking"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"title":"Unauthorized","status":401,"detail":"missing or invalid api key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(apiKeyHeader)); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// matchKey compares digests so the comparison time does not depend on the
// length of the presented key.
func matchKey(digests [][sha256.Size]byte, presented string) bool {
	sum := sha256.Sum256([]byte(presented))
	match := 0
	for _, d := range digests {
		match |= subtle.ConstantTimeCompare(d[:], sum[:])
	}
	return match == 1
}
