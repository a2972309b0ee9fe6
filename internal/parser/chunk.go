// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package parser

import (
	"iter"
	"strings"
	"unicode"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Policy sizes chunks in characters (runes).
type Policy struct {
	Size    int
	Overlap int
}

// DefaultPolicy returns a 1000 character window with 200 characters of
// overlap.
func DefaultPolicy() Policy {
	return Policy{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Validate requires a positive size and an overlap in [0, size).
func (p Policy) Validate() error {
	if p.Size <= 0 {
		return vikingerr.Errorf(vikingerr.CodeIngestParsePolicyInvalid, "chunk size must be positive, got %d", p.Size)
	}
	if p.Overlap < 0 || p.Overlap >= p.Size {
		return vikingerr.Errorf(vikingerr.CodeIngestParsePolicyInvalid,
			"chunk overlap must be in [0, %d), got %d", p.Size, p.Overlap)
	}
	return nil
}

// ChunkText is one window of a document. Start and End are rune offsets
// into Document.Text and Text is exactly that span.
type ChunkText struct {
	Seq   int
	Text  string
	Start int
	End   int
}

// Chunker splits documents according to a fixed policy.
type Chunker struct {
	policy Policy
}

// NewChunker validates p and returns a Chunker.
func NewChunker(p Policy) (*Chunker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{policy: p}, nil
}

func (c *Chunker) Policy() Policy {
	return c.policy
}

// Chunks lazily yields the windows of doc. The sequence is finite and can
// be ranged over any number of times; the same text and policy always
// produce the same boundaries. A window that would end mid-word is cut at
// the last whitespace in its final fifth when there is one. Whitespace-only
// windows are skipped.
func (c *Chunker) Chunks(doc *Document) iter.Seq[ChunkText] {
	size, overlap := c.policy.Size, c.policy.Overlap

	return func(yield func(ChunkText) bool) {
		if doc == nil {
			return
		}
		runes := []rune(doc.Text)
		n := len(runes)

		seq := 0
		for start := 0; start < n; {
			end := min(start+size, n)
			if end < n {
				end = softEnd(runes, start+size-size/5, end)
			}

			chunk := string(runes[start:end])
			if strings.TrimSpace(chunk) != "" {
				if !yield(ChunkText{Seq: seq, Text: chunk, Start: start, End: end}) {
					return
				}
				seq++
			}
			if end == n {
				return
			}

			start = nextStart(runes, start, end, overlap)
		}
	}
}

// All collects every chunk of doc.
func (c *Chunker) All(doc *Document) []ChunkText {
	var out []ChunkText
	for ch := range c.Chunks(doc) {
		out = append(out, ch)
	}
	return out
}

// softEnd moves end back to just after the last whitespace in [lo, end].
func softEnd(runes []rune, lo, end int) int {
	for i := end; i > lo && i > 0; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// nextStart backs up overlap runes from end, then moves forward to a word
// start if one is inside the overlap. It always makes progress.
func nextStart(runes []rune, start, end, overlap int) int {
	next := max(end-overlap, start+1)
	for s := next; s < end; s++ {
		if unicode.IsSpace(runes[s-1]) {
			return s
		}
	}
	return next
}
