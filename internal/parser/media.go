// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package parser

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// Kind is the closed set of document variants the parser understands.
type Kind string

const (
	KindPlaintext  Kind = "plaintext"
	KindMarkdown   Kind = "markdown"
	KindHTML       Kind = "html"
	KindStructured Kind = "structured"
)

// Media types produced by Detect.
const (
	MediaPlain    = "text/plain"
	MediaMarkdown = "text/markdown"
	MediaHTML     = "text/html"
	MediaJSON     = "application/json"
	MediaYAML     = "application/yaml"
	MediaCSV      = "text/csv"
	MediaUnknown  = "application/octet-stream"
)

var kinds = map[string]Kind{
	MediaPlain:              KindPlaintext,
	MediaCSV:                KindPlaintext,
	MediaMarkdown:           KindMarkdown,
	"text/x-markdown":       KindMarkdown,
	MediaHTML:               KindHTML,
	"application/xhtml+xml": KindHTML,
	MediaJSON:               KindStructured,
	MediaYAML:               KindStructured,
	"application/x-yaml":    KindStructured,
	"text/yaml":             KindStructured,
	"text/x-yaml":           KindStructured,
}

var extensions = map[string]string{
	".txt":      MediaPlain,
	".text":     MediaPlain,
	".log":      MediaPlain,
	".csv":      MediaCSV,
	".md":       MediaMarkdown,
	".markdown": MediaMarkdown,
	".html":     MediaHTML,
	".htm":      MediaHTML,
	".xhtml":    "application/xhtml+xml",
	".json":     MediaJSON,
	".yaml":     MediaYAML,
	".yml":      MediaYAML,
}

// KindOf maps a media type to its variant.
func KindOf(mediaType string) (Kind, bool) {
	k, ok := kinds[normalizeMediaType(mediaType)]
	return k, ok
}

// Detect picks a media type from the declared Content-Type, then the file
// extension of name, then content sniffing. A generic declared type
// (octet-stream, or text/plain for a file with a more specific
// extension) defers to the later signals.
func Detect(declared, name string, content []byte) string {
	declared = normalizeMediaType(declared)
	byExt := extensions[strings.ToLower(path.Ext(name))]

	switch {
	case declared != "" && declared != MediaUnknown && !(declared == MediaPlain && byExt != ""):
		return declared
	case byExt != "":
		return byExt
	}
	return normalizeMediaType(http.DetectContentType(content))
}

func normalizeMediaType(mt string) string {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return strings.ToLower(mt)
}
