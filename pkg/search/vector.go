// Package search provides cosine-similarity scoring for the query pipeline's
// vector_nearest stage. Scoring is brute force over the candidate set the
// filter stage already narrowed; the candidate sets here are small enough
// that an approximate index would not pay for itself.
package search

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// The second return is false when the vectors differ in dimension or either
// has zero magnitude; such pairs have no defined similarity.
func CosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), true
}

// Scored pairs a candidate's position in its source slice with its
// similarity score.
type Scored struct {
	Index int
	Score float64
}

// TopK sorts scored candidates by descending score and truncates to k.
// Ties keep their original order so results stay deterministic. k <= 0
// means no truncation.
func TopK(scored []Scored, k int) []Scored {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
