package quantize

import (
	"errors"
	"fmt"
	"math"
)

const kmeansIterations = 5 // "5 is sufficient for the corpus sizes targeted"

// Product implements m-subquantizer, k-centroid Product Quantization.
// D must be divisible by m; subvector dimension is D/m.
type Product struct {
	dim       int
	m         int
	k         int
	subDim    int
	codebooks [][][]float32 // [subspace][centroid][subDim]
	trained   bool
}

// NewProduct creates an untrained PQ quantizer. Requires dim % m == 0 and
// k <= 256 (codes are single bytes).
func NewProduct(dim, m, k int) (*Product, error) {
	if m <= 0 || dim%m != 0 {
		return nil, &invalidConfigErr{field: "n_subquantizers", reason: fmt.Sprintf("dimension %d not divisible by %d", dim, m)}
	}
	if k <= 0 || k > 256 {
		return nil, &invalidConfigErr{field: "n_centroids", reason: "must be in (0, 256]"}
	}
	return &Product{dim: dim, m: m, k: k, subDim: dim / m}, nil
}

type invalidConfigErr struct{ field, reason string }

func (e *invalidConfigErr) Error() string {
	return fmt.Sprintf("invalid config: field %q: %s", e.field, e.reason)
}

func (q *Product) Dimension() int  { return q.dim }
func (q *Product) EncodedLen() int { return q.m }

// Train runs independent k-means (round-robin-seeded, bounded iterations)
// per subspace. Centroids are reseeded round-robin across the corpus
// instead of a random permutation so training is deterministic given a
// fixed corpus ordering.
func (q *Product) Train(vectors [][]float32) error {
	if len(vectors) < q.k {
		return fmt.Errorf("quantize: need at least %d training vectors, got %d", q.k, len(vectors))
	}
	q.codebooks = make([][][]float32, q.m)
	for m := 0; m < q.m; m++ {
		start := m * q.subDim
		sub := make([][]float32, len(vectors))
		for i, v := range vectors {
			if len(v) != q.dim {
				return dimensionMismatch(q.dim, len(v))
			}
			sub[i] = v[start : start+q.subDim]
		}
		q.codebooks[m] = kMeansRoundRobin(sub, q.k, kmeansIterations)
	}
	q.trained = true
	return nil
}

// kMeansRoundRobin seeds centroids by taking every len(vectors)/k-th
// vector (round robin), then runs Lloyd's algorithm for maxIters passes.
func kMeansRoundRobin(vectors [][]float32, k, maxIters int) [][]float32 {
	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		src := vectors[(i*len(vectors))/k]
		centroids[i] = append([]float32(nil), src...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, float32(math.MaxFloat32)
			for c, centroid := range centroids {
				d := sqDist(v, centroid)
				if d < bestDist {
					bestDist, best = d, c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += v[d]
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}
	}
	return centroids
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func (q *Product) Encode(vec []float32) ([]byte, error) {
	if !q.trained {
		return nil, errors.New("quantize: product quantizer not trained")
	}
	if len(vec) != q.dim {
		return nil, dimensionMismatch(q.dim, len(vec))
	}
	codes := make([]byte, q.m)
	for m := 0; m < q.m; m++ {
		start := m * q.subDim
		sub := vec[start : start+q.subDim]
		best, bestDist := 0, float32(math.MaxFloat32)
		for c, centroid := range q.codebooks[m] {
			d := sqDist(sub, centroid)
			if d < bestDist {
				bestDist, best = d, c
			}
		}
		codes[m] = byte(best)
	}
	return codes, nil
}

func (q *Product) Decode(code []byte) ([]float32, error) {
	if !q.trained {
		return nil, errors.New("quantize: product quantizer not trained")
	}
	if len(code) != q.m {
		return nil, corruptCodes(q.m, len(code))
	}
	out := make([]float32, q.dim)
	for m := 0; m < q.m; m++ {
		idx := int(code[m])
		if idx >= q.k {
			return nil, corruptCodes(q.m, len(code))
		}
		copy(out[m*q.subDim:(m+1)*q.subDim], q.codebooks[m][idx])
	}
	return out, nil
}

// Codebooks exposes the trained centroid tables for snapshot serialization.
func (q *Product) Codebooks() [][][]float32 { return q.codebooks }

// Restore reinstates codebooks read back from a snapshot.
func (q *Product) Restore(codebooks [][][]float32) { q.codebooks, q.trained = codebooks, true }
