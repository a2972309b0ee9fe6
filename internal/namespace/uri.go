// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package namespace maps resource locators onto the viking:// virtual
// filesystem and derives directory listings from the resource store.
package namespace

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	// Root is the namespace root; it only contains ResourcesRoot.
	Root = "viking://"
	// ResourcesRoot is the directory every resource URI lives under.
	ResourcesRoot = "viking://resources"

	localOrigin = "local"
	hashLen     = 12
)

// Locator is a normalized resource source.
type Locator struct {
	// Raw is the normalized form used for hashing and fetching.
	Raw string
	// Remote is true for http(s) locators.
	Remote bool
	// Origin is the host (with non-default port) or "local".
	Origin string
	// Path is the slash separated path of the source.
	Path string
}

// ParseLocator normalizes a URL or filesystem path. http(s) URLs get a
// lowercase scheme and host, no default port, no fragment and sorted query
// parameters. Local paths become absolute and clean. Any other scheme is
// rejected.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, vikingerr.New(vikingerr.CodeIngestFetchLocatorInvalid, "locator must not be empty")
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return parseURL(u, raw)
		case "file":
			return parsePath(u.Path, raw)
		default:
			return Locator{}, vikingerr.New(vikingerr.CodeIngestFetchLocatorInvalid,
				"unsupported locator scheme "+u.Scheme, vikingerr.FieldLocator(raw))
		}
	}
	return parsePath(raw, raw)
}

func parseURL(u *url.URL, raw string) (Locator, error) {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Locator{}, vikingerr.New(vikingerr.CodeIngestFetchLocatorInvalid,
			"url locator has no host", vikingerr.FieldLocator(raw))
	}
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}

	norm := url.URL{Scheme: scheme, Host: host, RawQuery: u.Query().Encode()}
	norm.Path, _ = url.PathUnescape(cleaned)
	norm.RawPath = cleaned

	return Locator{Raw: norm.String(), Remote: true, Origin: host, Path: norm.Path}, nil
}

func parsePath(p, raw string) (Locator, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Locator{}, vikingerr.Wrap(err, vikingerr.CodeIngestFetchLocatorInvalid,
			"resolving local path", vikingerr.FieldLocator(raw))
	}
	slashed := filepath.ToSlash(filepath.Clean(abs))
	return Locator{Raw: abs, Origin: localOrigin, Path: slashed}, nil
}

// URI derives the canonical resource URI of l:
// viking://resources/<origin>/<dirs...>/<name>_<hash>, where hash is a
// prefix of the SHA-256 of the normalized locator. Equal locators always
// map to the same URI and distinct locators to distinct URIs.
func (l Locator) URI() string {
	sum := sha256.Sum256([]byte(l.Raw))
	hash := hex.EncodeToString(sum[:])[:hashLen]

	var segs []string
	for _, s := range strings.Split(l.Path, "/") {
		if s == "" || s == "." || s == ".." {
			continue
		}
		segs = append(segs, sanitize(s))
	}

	name := "index"
	if len(segs) > 0 && !strings.HasSuffix(l.Path, "/") {
		name = segs[len(segs)-1]
		segs = segs[:len(segs)-1]
	}

	parts := append([]string{ResourcesRoot, sanitize(l.Origin)}, segs...)
	parts = append(parts, name+"_"+hash)
	return strings.Join(parts, "/")
}

// CanonicalURI normalizes locator and returns its resource URI.
func CanonicalURI(locator string) (string, error) {
	l, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	return l.URI(), nil
}

// sanitize keeps URI segments to a conservative character set.
func sanitize(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
