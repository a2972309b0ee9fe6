// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	visitorStaleAfter   = 10 * time.Minute
	visitorSweepEvery   = 5 * time.Minute
	defaultMaxVisitors  = 10000
	rateLimitRetryAfter = 1
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxVisitors caps the number of IPs tracked at once. The least recently
	// seen are evicted first. Default: 10000.
	MaxVisitors int
}

// Validate checks that the RateLimitConfig is valid and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return vikingerr.Errorf(vikingerr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return vikingerr.Errorf(vikingerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return vikingerr.Errorf(vikingerr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = defaultMaxVisitors
	}
	return nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors tracks one token bucket per client IP.
type visitors struct {
	cfg RateLimitConfig
	mu  sync.Mutex
	m   map[string]*visitor
}

func (v *visitors) allow(ip string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	vis, ok := v.m[ip]
	if !ok {
		vis = &visitor{limiter: rate.NewLimiter(rate.Limit(v.cfg.RequestsPerSecond), v.cfg.Burst)}
		v.m[ip] = vis
	}
	vis.lastSeen = now
	return vis.limiter.AllowN(now, 1)
}

// sweep drops idle visitors and enforces MaxVisitors.
func (v *visitors) sweep(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	type entry struct {
		ip       string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(v.m))
	for ip, vis := range v.m {
		if now.Sub(vis.lastSeen) > visitorStaleAfter {
			delete(v.m, ip)
			continue
		}
		entries = append(entries, entry{ip: ip, lastSeen: vis.lastSeen})
	}

	if v.cfg.MaxVisitors > 0 && len(entries) > v.cfg.MaxVisitors {
		slices.SortFunc(entries, func(a, b entry) int { return a.lastSeen.Compare(b.lastSeen) })
		toEvict := len(entries) - v.cfg.MaxVisitors
		for _, e := range entries[:toEvict] {
			delete(v.m, e.ip)
		}
		slog.Warn("rate limiter visitor map cap enforced",
			"evicted", toEvict, "max_visitors", v.cfg.MaxVisitors, "remaining", len(v.m))
	}
}

func (v *visitors) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.m)
}

// rateLimitMiddleware returns middleware that enforces per-IP rate limits.
// Returns a pass-through middleware when cfg.RequestsPerSecond is zero.
// The done channel signals the cleanup goroutine to exit on shutdown.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	v := &visitors{cfg: cfg, m: make(map[string]*visitor)}
	go func() {
		ticker := time.NewTicker(visitorSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				v.sweep(now)
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Limit by IP, not by connection.
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !v.allow(ip, time.Now()) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(rateLimitRetryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				if _, err := w.Write([]byte(`{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`)); err != nil {
					slog.Warn("failed to write rate limit response", "error", err)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
