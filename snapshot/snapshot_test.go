package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vectra/collection"
	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/quantize"
	"github.com/liliang-cn/vectra/vector"
)

func testConfig(dim int) collection.Config {
	return collection.Config{
		Dim:            dim,
		Metric:         vector.Euclidean,
		StorageBackend: "memory",
		M:              8,
		EfConstruction: 64,
		EfSearch:       32,
	}
}

func newCollection(t *testing.T, cfg collection.Config) *collection.Collection {
	t.Helper()
	c, err := collection.New("snaptest", cfg, nil, nil)
	require.NoError(t, err)
	return c
}

func TestRoundTripPreservesVectorsAndPayloads(t *testing.T) {
	c := newCollection(t, testConfig(3))
	require.NoError(t, c.Insert("a", vector.Vector{
		Data:    []float32{1, 2, 3},
		Payload: map[string]any{"tag": "x"},
	}))
	require.NoError(t, c.Insert("b", vector.Vector{
		Data:   []float32{4, 5, 6},
		Sparse: &vector.Sparse{Indices: []uint32{0, 7}, Values: []float32{0.5, 0.25}},
	}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "snaptest", c))

	restored, err := Restore(&buf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "snaptest", restored.Metadata().Name)
	assert.Equal(t, 2, restored.Count())

	a, err := restored.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, a.Data)
	assert.Equal(t, map[string]any{"tag": "x"}, a.Payload)

	b, err := restored.Get("b")
	require.NoError(t, err)
	require.NotNil(t, b.Sparse)
	assert.Equal(t, []uint32{0, 7}, b.Sparse.Indices)
	assert.Equal(t, []float32{0.5, 0.25}, b.Sparse.Values)
}

func TestRoundTripSearchableAfterRestore(t *testing.T) {
	c := newCollection(t, testConfig(2))
	require.NoError(t, c.Insert("near", vector.Vector{Data: []float32{0, 0}}))
	require.NoError(t, c.Insert("far", vector.Vector{Data: []float32{9, 9}}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "snaptest", c))
	restored, err := Restore(&buf, nil, nil)
	require.NoError(t, err)

	hits, err := restored.Search(collection.SearchRequest{Query: []float32{0, 0}, K: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ID)
}

func TestRoundTripRestoresQuantizerState(t *testing.T) {
	cfg := testConfig(4)
	cfg.Quantizer = quantize.Binary
	c := newCollection(t, cfg)
	require.NoError(t, c.TrainQuantizer([][]float32{
		{1, -1, 1, -1},
		{-1, 1, -1, 1},
	}))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, -1, 1, -1}}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "snaptest", c))
	restored, err := Restore(&buf, nil, nil)
	require.NoError(t, err)

	// The restored quantizer must be able to encode without retraining.
	code, err := restored.Quantizer().Encode([]float32{1, -1, 1, -1})
	require.NoError(t, err)
	assert.Equal(t, restored.Quantizer().EncodedLen(), len(code))

	got, err := restored.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -1, 1, -1}, got.Data)
}

func TestRestoreRejectsBadMagic(t *testing.T) {
	_, err := Restore(bytes.NewReader([]byte("XXXX\x01rest")), nil, nil)
	var corrupt *errs.SnapshotCorrupt
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, int64(0), corrupt.Offset)
}

func TestRestoreRejectsTruncatedStream(t *testing.T) {
	c := newCollection(t, testConfig(2))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 2}}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "snaptest", c))
	truncated := buf.Bytes()[:buf.Len()-6]

	_, err := Restore(bytes.NewReader(truncated), nil, nil)
	var corrupt *errs.SnapshotCorrupt
	assert.ErrorAs(t, err, &corrupt)
}

func TestRestoreDetectsFlippedBodyByte(t *testing.T) {
	c := newCollection(t, testConfig(2))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 2}}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "snaptest", c))

	// Flip one bit inside a vector value: the record still parses, so only
	// the trailing CRC-32 can catch it.
	raw := buf.Bytes()
	raw[len(raw)-12] ^= 0x01

	_, err := Restore(bytes.NewReader(raw), nil, nil)
	var corrupt *errs.SnapshotCorrupt
	assert.ErrorAs(t, err, &corrupt)
}

func TestRestoreRejectsUnsupportedVersion(t *testing.T) {
	c := newCollection(t, testConfig(2))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "snaptest", c))

	raw := buf.Bytes()
	raw[4] = 0x7f // version byte follows the 4-byte magic

	_, err := Restore(bytes.NewReader(raw), nil, nil)
	var corrupt *errs.SnapshotCorrupt
	assert.ErrorAs(t, err, &corrupt)
}
