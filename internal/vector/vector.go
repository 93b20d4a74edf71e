// Package vector provides the similarity metric shared by every search path.
// All confidence scores in the system derive from the cosine similarity
// computed here, so the approximate index and the exact scanner cannot drift
// apart on scoring semantics.
package vector

import (
	"fmt"
	"math"
)

// epsilon guards the denominator against all-zero vectors.
const epsilon = 1e-10

// Similarity computes the cosine similarity between two embeddings:
// dot(a,b) / (|a|*|b| + eps). The result is in [-1, 1].
//
// Both vectors must have the same length. A length mismatch is a programmer
// error in the trusted path (callers validate dimensions at the boundary)
// and panics rather than silently padding or truncating.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("vector: dimension mismatch: %d vs %d", len(a), len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	sim := dot / (math.Sqrt(normA)*math.Sqrt(normB) + epsilon)

	// Clamp to [-1, 1] to handle floating point errors.
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// Distance computes the cosine distance 1 - Similarity(a, b).
// Returns a value between 0 (identical) and 2 (opposite).
func Distance(a, b []float32) float64 {
	return 1 - Similarity(a, b)
}

// Clamp01 floors a similarity score at zero for reporting as a confidence.
// Negative cosine similarity carries no more meaning than "no match" for
// callers turning scores into accept/reject decisions.
func Clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
