// Package vector defines the Vector data model, distance kernels, and
// normalization used across vectra's collections.
package vector

import (
	"errors"
	"math"
)

// ErrZeroVector is returned by Normalize when a vector has zero magnitude
// and therefore cannot be scaled to unit length.
var ErrZeroVector = errors.New("vector: cannot normalize a zero-magnitude vector")

// Sparse holds the nonzero components of a sparse vector, indices and
// values kept parallel and sorted ascending by index.
type Sparse struct {
	Indices []uint32
	Values  []float32
}

// Vector is a single dense (and optionally sparse) embedding plus an
// arbitrary JSON-compatible payload.
type Vector struct {
	ID      string
	Data    []float32
	Sparse  *Sparse
	Payload any
}

// Metric identifies the distance function a collection was configured with.
type Metric string

const (
	Cosine     Metric = "cosine"
	Euclidean  Metric = "euclidean"
	DotProduct Metric = "dot"
)

// Distance returns the kernel for m, or nil if m is not recognized.
func (m Metric) Distance() func(a, b []float32) float32 {
	switch m {
	case Cosine:
		return CosineDistance
	case Euclidean:
		return EuclideanDistance
	case DotProduct:
		return DotProductDistance
	default:
		return nil
	}
}

// Score converts a raw distance for metric m into the "higher is better"
// convention SearchResult.Score uses.
func (m Metric) Score(dist float32) float32 {
	switch m {
	case Cosine:
		return 1 - dist
	case Euclidean:
		return float32(math.Exp(-float64(dist)))
	case DotProduct:
		// Dot-product distance is stored negated (-dot); sigmoid of the
		// raw inner product would need the sign flipped back. This is
		// preserved from the source for API compatibility
		// and documented here as a departure from raw inner-product
		// semantics: it is a monotonic, but not linear, rescaling.
		return float32(1 / (1 + math.Exp(float64(dist))))
	default:
		return 0
	}
}

// Normalize scales v to unit length in place. Mandatory for cosine
// collections: applied once at ingestion and again to every query vector
// before distance evaluation.
func Normalize(v []float32) error {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return ErrZeroVector
	}
	inv := float32(1 / math.Sqrt(sumSq))
	for i := range v {
		v[i] *= inv
	}
	return nil
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

// CosineDistance assumes pre-normalized inputs: 1 - dot(a, b).
func CosineDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

// EuclideanDistance computes the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// DotProductDistance returns the negated dot product, so that lower is
// better, consistent with the other two kernels.
func DotProductDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}
