// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package summary

import (
	"context"
	"math"
	"regexp"
	"slices"
	"strings"
)

var (
	sentencePattern = regexp.MustCompile(`(?s)[^.!?\n]+(?:[.!?]+|\n|$)`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

const defaultMaxSentences = 3

// Extractive ranks sentences by normalized word frequency (stopwords
// excluded) and returns the best ones in document order. It needs no
// network access.
type Extractive struct {
	maxSentences int
}

// NewExtractive returns an Extractive summarizer keeping at most
// maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = defaultMaxSentences
	}
	return &Extractive{maxSentences: maxSentences}
}

func (e *Extractive) Name() string { return "extractive" }

func (e *Extractive) Summarize(_ context.Context, _ string, text string) (string, error) {
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.Join(strings.Fields(s), " "); s != "" && len(tokens(s)) > 0 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return strings.Join(strings.Fields(text), " "), nil
	}

	freq := map[string]float64{}
	var peak float64
	for _, s := range sentences {
		for _, tok := range tokens(s) {
			if _, stop := stopwords[tok]; stop {
				continue
			}
			freq[tok]++
			peak = max(peak, freq[tok])
		}
	}

	if peak == 0 {
		peak = 1
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, s := range sentences {
		toks := tokens(s)
		var sum float64
		for _, tok := range toks {
			sum += freq[tok] / peak
		}
		scores[i] = scored{idx: i, score: sum / math.Sqrt(float64(len(toks)))}
	}
	slices.SortStableFunc(scores, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return a.idx - b.idx
	})

	n := min(e.maxSentences, len(scores))
	picked := make([]int, n)
	for i := range picked {
		picked[i] = scores[i].idx
	}
	slices.Sort(picked)

	out := make([]string, n)
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

func tokens(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on",
		"at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its",
		"this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "than",
		"so", "such", "into", "about", "between", "through", "during", "before", "after", "out",
		"can", "will", "just", "should", "now", "not", "no", "do", "does", "you", "we", "they",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
