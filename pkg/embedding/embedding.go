// Package embedding provides the query-fingerprint collaborator used by the
// semantic cache, plus vector similarity helpers.
package embedding

import (
	"context"
	"errors"
	"math"
)

// Embedder turns a text query into a dense vector fingerprint.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// ErrUnavailable is returned when no embedding backend is configured. The
// cache degrades to exact-match mode in that case.
var ErrUnavailable = errors.New("embedding backend not configured")

// Cosine returns the cosine similarity of two vectors. Mismatched lengths
// and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
