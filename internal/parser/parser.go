// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package parser turns raw fetched bytes into plain searchable text and
// splits that text into overlapping chunks.
package parser

import (
	"strings"
	"unicode/utf8"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Document is the parsed, plain-text form of a resource.
type Document struct {
	MediaType string
	Kind      Kind
	Title     string
	Text      string
}

// Parse extracts text from raw according to mediaType. Unknown media types
// fail with CodeIngestParseUnsupportedMediaType and documents without any
// text with CodeIngestParseEmptyContent.
func Parse(raw []byte, mediaType string) (*Document, error) {
	kind, ok := KindOf(mediaType)
	if !ok {
		return nil, vikingerr.New(vikingerr.CodeIngestParseUnsupportedMediaType,
			"unsupported media type", vikingerr.Field("media_type", mediaType))
	}

	if !utf8.Valid(raw) {
		raw = []byte(strings.ToValidUTF8(string(raw), ""))
	}

	var (
		title, text string
		err         error
	)
	switch kind {
	case KindMarkdown:
		title, text = parseMarkdown(raw)
	case KindHTML:
		title, text, err = parseHTML(raw)
	case KindStructured:
		text, err = parseStructured(raw)
		if err != nil {
			// Malformed JSON/YAML is still searchable as text.
			text, err = parsePlaintext(raw), nil
		}
	default:
		text = parsePlaintext(raw)
	}
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, vikingerr.New(vikingerr.CodeIngestParseEmptyContent,
			"document has no text content", vikingerr.Field("media_type", mediaType))
	}

	return &Document{
		MediaType: normalizeMediaType(mediaType),
		Kind:      kind,
		Title:     strings.TrimSpace(title),
		Text:      text,
	}, nil
}

func parsePlaintext(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// joinBlocks trims every block and joins the non-empty ones with a blank
// line.
func joinBlocks(blocks []string) string {
	out := blocks[:0]
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return strings.Join(out, "\n\n")
}
