package quantize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCorpus(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func cosine(a, b []float32) float64 {
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

func TestScalarRoundTripTolerance(t *testing.T) {
	corpus := randomCorpus(10000, 128, 1)
	q, err := NewScalar(128, 8)
	require.NoError(t, err)
	require.NoError(t, q.Train(corpus))

	var total float64
	for _, v := range corpus {
		code, err := q.Encode(v)
		require.NoError(t, err)
		decoded, err := q.Decode(code)
		require.NoError(t, err)
		total += cosine(v, decoded)
	}
	avg := total / float64(len(corpus))
	assert.GreaterOrEqual(t, avg, 0.99, "SQ-8 average cosine retention should be >= 0.99")
}

func TestScalarDimensionMismatch(t *testing.T) {
	q, err := NewScalar(4, 8)
	require.NoError(t, err)
	require.NoError(t, q.Train([][]float32{{1, 2, 3, 4}}))

	_, err = q.Encode([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestScalarCorruptCodes(t *testing.T) {
	q, err := NewScalar(4, 8)
	require.NoError(t, err)
	require.NoError(t, q.Train([][]float32{{1, 2, 3, 4}}))

	code, err := q.Encode([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = q.Decode(code[:len(code)-1])
	assert.Error(t, err)
}

func TestBinaryEncodeDecodeBits(t *testing.T) {
	q, err := NewBinary(8)
	require.NoError(t, err)
	require.NoError(t, q.Train([][]float32{{0, 0, 0, 0, 0, 0, 0, 0}, {1, 1, 1, 1, 1, 1, 1, 1}}))

	code, err := q.Encode([]float32{1, 1, 1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, len(code))

	decoded, err := q.Decode(code)
	require.NoError(t, err)
	for _, v := range decoded {
		assert.Equal(t, float32(1), v)
	}
}

func TestProductRequiresDivisibleDimension(t *testing.T) {
	_, err := NewProduct(10, 3, 16)
	assert.Error(t, err)
}

func TestProductEncodeDecode(t *testing.T) {
	corpus := randomCorpus(512, 16, 2)
	q, err := NewProduct(16, 4, 16)
	require.NoError(t, err)
	require.NoError(t, q.Train(corpus))

	code, err := q.Encode(corpus[0])
	require.NoError(t, err)
	assert.Equal(t, 4, len(code))

	decoded, err := q.Decode(code)
	require.NoError(t, err)
	assert.Equal(t, 16, len(decoded))

	// decode fails loudly on a truncated code
	_, err = q.Decode(code[:2])
	assert.Error(t, err)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance([]byte{0xFF}, []byte{0xFF}))
	assert.Equal(t, 8, HammingDistance([]byte{0xFF}, []byte{0x00}))
}
