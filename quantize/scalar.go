package quantize

import "errors"

// Scalar implements corpus-global scalar quantization at b bits per
// component: train records one min/max pair across the whole training
// corpus, not per-dimension.
type Scalar struct {
	dim     int
	bits    int
	min     float32
	max     float32
	trained bool
}

// NewScalar creates an untrained scalar quantizer for vectors of the
// given dimension, encoding each component in bits bits (1-8).
func NewScalar(dim, bits int) (*Scalar, error) {
	if bits < 1 || bits > 8 {
		return nil, errors.New("quantize: scalar bits must be in [1,8]")
	}
	if dim <= 0 {
		return nil, errors.New("quantize: dimension must be positive")
	}
	return &Scalar{dim: dim, bits: bits}, nil
}

func (q *Scalar) Dimension() int { return q.dim }

func (q *Scalar) EncodedLen() int {
	return (q.dim*q.bits + 7) / 8
}

func (q *Scalar) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("quantize: no training vectors")
	}
	min, max := vectors[0][0], vectors[0][0]
	for _, v := range vectors {
		if len(v) != q.dim {
			return dimensionMismatch(q.dim, len(v))
		}
		for _, x := range v {
			if x < min {
				min = x
			}
			if x > max {
				max = x
			}
		}
	}
	if max == min {
		max += 1e-6
	}
	q.min, q.max = min, max
	q.trained = true
	return nil
}

func (q *Scalar) levels() uint32 {
	return (uint32(1) << uint(q.bits)) - 1
}

func (q *Scalar) Encode(vec []float32) ([]byte, error) {
	if !q.trained {
		return nil, errors.New("quantize: scalar quantizer not trained")
	}
	if len(vec) != q.dim {
		return nil, dimensionMismatch(q.dim, len(vec))
	}
	out := make([]byte, q.EncodedLen())
	maxLevel := float32(q.levels())
	span := q.max - q.min
	bitOff := 0
	for _, x := range vec {
		norm := (x - q.min) / span
		if norm < 0 {
			norm = 0
		} else if norm > 1 {
			norm = 1
		}
		code := uint32(norm*maxLevel + 0.5)
		for b := 0; b < q.bits; b++ {
			if code&(1<<uint(b)) != 0 {
				out[bitOff/8] |= 1 << uint(bitOff%8)
			}
			bitOff++
		}
	}
	return out, nil
}

func (q *Scalar) Decode(code []byte) ([]float32, error) {
	if !q.trained {
		return nil, errors.New("quantize: scalar quantizer not trained")
	}
	if len(code) != q.EncodedLen() {
		return nil, corruptCodes(q.EncodedLen(), len(code))
	}
	out := make([]float32, q.dim)
	maxLevel := float32(q.levels())
	span := q.max - q.min
	bitOff := 0
	for d := 0; d < q.dim; d++ {
		var raw uint32
		for b := 0; b < q.bits; b++ {
			if code[bitOff/8]&(1<<uint(bitOff%8)) != 0 {
				raw |= 1 << uint(b)
			}
			bitOff++
		}
		out[d] = float32(raw)/maxLevel*span + q.min
	}
	return out, nil
}

// State exposes the trained range for snapshot serialization.
func (q *Scalar) State() (min, max float32, bits int, dim int, trained bool) {
	return q.min, q.max, q.bits, q.dim, q.trained
}

// Restore reinstates trained state read back from a snapshot.
func (q *Scalar) Restore(min, max float32) { q.min, q.max, q.trained = min, max, true }
