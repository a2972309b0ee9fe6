// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package summary_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viking-dev/viking/internal/summary"
)

func TestExtractive_PicksFrequentSentencesInOrder(t *testing.T) {
	text := "Vector search finds similar documents. " +
		"The weather was nice yesterday. " +
		"Vector indexes store document embeddings for search. " +
		"Lunch was late."

	got, err := summary.NewExtractive(2).Summarize(context.Background(), "", text)
	require.NoError(t, err)
	assert.Equal(t, "Vector search finds similar documents. Vector indexes store document embeddings for search.", got)
}

func TestExtractive_ShortTextReturnedWhole(t *testing.T) {
	got, err := summary.NewExtractive(3).Summarize(context.Background(), "", "One sentence only.")
	require.NoError(t, err)
	assert.Equal(t, "One sentence only.", got)
}

func TestExtractive_LinesWithoutPunctuation(t *testing.T) {
	text := "name: viking\nstorage: sqlite\nembedding: hash\nsearch: cosine"
	got, err := summary.NewExtractive(2).Summarize(context.Background(), "", text)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, strings.Count(got, ":"), 2)
}

func TestExtractive_Deterministic(t *testing.T) {
	text := strings.Repeat("Alpha beta gamma. Beta gamma delta. Gamma delta alpha. ", 5)
	s := summary.NewExtractive(3)
	a, err := s.Summarize(context.Background(), "", text)
	require.NoError(t, err)
	b, err := s.Summarize(context.Background(), "", text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractive_DefaultsAndName(t *testing.T) {
	s := summary.NewExtractive(0)
	assert.Equal(t, "extractive", s.Name())

	got, err := s.Summarize(context.Background(), "", "A. B. C. D. E.")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestInput(t *testing.T) {
	assert.Equal(t, "Title: Guide\n\nbody", summary.Input(" Guide ", "body"))
	assert.Equal(t, "body", summary.Input("", "body"))

	long := strings.Repeat("é", summary.MaxInputRunes+10)
	assert.Equal(t, summary.MaxInputRunes, len([]rune(summary.Input("", long))))
}
