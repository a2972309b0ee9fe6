// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package store

import (
	"math"

	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// Cosine returns the cosine similarity of a and b. A zero vector has
// similarity 0 with everything.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CheckDimensions fails when vec does not have exactly dims components.
func CheckDimensions(vec []float32, dims int) error {
	if len(vec) != dims {
		return vikingerr.Errorf(vikingerr.CodeStoreVectorDimensionInvalid,
			"vector has %d dimensions, index expects %d", len(vec), dims)
	}
	return nil
}
