// Package quantize implements the Scalar, Product, and Binary vector
// quantizers. All three share one surface: train on a corpus, then
// encode/decode individual vectors in O(D) time.
package quantize

import "github.com/liliang-cn/vectra/errs"

// Quantizer is the narrow interface every quantization scheme implements.
type Quantizer interface {
	// Train learns quantizer state (ranges, codebooks, thresholds) from a
	// representative corpus. Must be called before Encode/Decode.
	Train(vectors [][]float32) error
	// Encode compresses a vector into its code bytes.
	Encode(vec []float32) ([]byte, error)
	// Decode reconstructs an approximate vector from code bytes.
	Decode(code []byte) ([]float32, error)
	// Dimension returns the input dimension the quantizer was constructed for.
	Dimension() int
	// EncodedLen returns the byte length of one encoded vector.
	EncodedLen() int
}

// Kind tags which quantizer variant a collection is configured with.
type Kind int

const (
	None Kind = iota
	SQ
	PQ
	Binary
)

func dimensionMismatch(expected, got int) error {
	return &errs.DimensionMismatch{Expected: expected, Got: got}
}

func corruptCodes(expected, got int) error {
	return &errs.CorruptCodes{Expected: expected, Got: got}
}
