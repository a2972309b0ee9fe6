// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

// Package summary derives the short abstract stored with every processed
// resource.
package summary

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Summarizer returns a short, coherent summary of a document.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, title, text string) (string, error)
}

// Prompt is the instruction given to hosted model summarizers.
const Prompt = "You write abstracts for a document search index. " +
	"Summarize the document in at most three plain sentences. " +
	"Describe what it covers, not how it is formatted. Reply with the summary only."

// MaxInputRunes bounds the text sent to hosted models.
const MaxInputRunes = 12000

// Input renders the title and text as one model input, truncated to
// MaxInputRunes.
func Input(title, text string) string {
	if utf8.RuneCountInString(text) > MaxInputRunes {
		text = string([]rune(text)[:MaxInputRunes])
	}
	if title = strings.TrimSpace(title); title != "" {
		return "Title: " + title + "\n\n" + text
	}
	return text
}
