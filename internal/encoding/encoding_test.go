package encoding

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := []float32{1.5, -2.25, 0, 3e7}
	require.NoError(t, WriteVector(&buf, in))

	out, err := ReadVector(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "héllo wörld"))
	out, err := ReadString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", out)
}

func TestPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := map[string]any{"a": float64(1), "b": "two"}
	require.NoError(t, WritePayload(&buf, in))
	out, err := ReadPayload(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNilPayloadRoundTripsToNil(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePayload(&buf, nil))
	out, err := ReadPayload(&buf)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestReadVectorTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVector(&buf, []float32{1, 2, 3}))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadVector(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestValidateVectorRejectsNonFinite(t *testing.T) {
	assert.Error(t, ValidateVector(nil))
	assert.Error(t, ValidateVector([]float32{}))
	assert.Error(t, ValidateVector([]float32{1, float32(math.NaN())}))
	assert.Error(t, ValidateVector([]float32{float32(math.Inf(1))}))
	assert.NoError(t, ValidateVector([]float32{1, 2, 3}))
}
