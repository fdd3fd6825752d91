package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/payload"
	"github.com/liliang-cn/vectra/quantize"
	"github.com/liliang-cn/vectra/vector"
)

func testConfig(dim int) Config {
	return Config{
		Dim:            dim,
		Metric:         vector.Euclidean,
		StorageBackend: "memory",
		M:              8,
		EfConstruction: 64,
		EfSearch:       32,
	}
}

func newTestCollection(t *testing.T, cfg Config) *Collection {
	t.Helper()
	c, err := New("test", cfg, nil, nil)
	require.NoError(t, err)
	return c
}

func TestInsertGetSearch(t *testing.T) {
	c := newTestCollection(t, testConfig(4))

	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 0, 0, 0}}))
	require.NoError(t, c.Insert("b", vector.Vector{Data: []float32{0, 1, 0, 0}}))
	require.NoError(t, c.Insert("c", vector.Vector{Data: []float32{10, 10, 10, 10}}))

	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, got.Data)

	hits, err := c.Search(SearchRequest{Query: []float32{1, 0, 0, 0}, K: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
}

func TestGetMissingReturnsVectorNotFound(t *testing.T) {
	c := newTestCollection(t, testConfig(4))
	_, err := c.Get("nope")
	var notFound *errs.VectorNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestInsertDimensionMismatch(t *testing.T) {
	c := newTestCollection(t, testConfig(4))
	err := c.Insert("a", vector.Vector{Data: []float32{1, 2}})
	var mismatch *errs.DimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestSearchZeroKReturnsEmpty(t *testing.T) {
	c := newTestCollection(t, testConfig(4))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 0, 0, 0}}))

	hits, err := c.Search(SearchRequest{Query: []float32{1, 0, 0, 0}, K: 0})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEmptyCollectionReturnsEmpty(t *testing.T) {
	c := newTestCollection(t, testConfig(4))
	hits, err := c.Search(SearchRequest{Query: []float32{1, 0, 0, 0}, K: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInsertDuplicateIDRejected(t *testing.T) {
	c := newTestCollection(t, testConfig(4))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 0, 0, 0}}))

	err := c.Insert("a", vector.Vector{Data: []float32{0, 1, 0, 0}})
	var invalid *errs.InvalidConfig
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "id", invalid.Field)

	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, got.Data)
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	c := newTestCollection(t, testConfig(3))
	require.NoError(t, c.Upsert("a", vector.Vector{Data: []float32{1, 1, 1}, Payload: map[string]any{"v": 1}}))
	require.NoError(t, c.Upsert("a", vector.Vector{Data: []float32{2, 2, 2}, Payload: map[string]any{"v": 2}}))

	assert.Equal(t, 1, c.Count())
	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 2}, got.Data)
}

func TestDeleteRemovesFromEverySubIndex(t *testing.T) {
	c := newTestCollection(t, testConfig(3))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 1, 1}}))
	require.NoError(t, c.Delete("a"))

	_, err := c.Get("a")
	assert.Error(t, err)
	hits, err := c.Search(SearchRequest{Query: []float32{1, 1, 1}, K: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, c.Count())
}

func TestDeleteBatchPartialFailure(t *testing.T) {
	c := newTestCollection(t, testConfig(3))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 1, 1}}))

	err := c.DeleteBatch([]string{"a", "missing"})
	require.Error(t, err)
	var pf *errs.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.Errors, "missing")
	assert.NotContains(t, pf.Errors, "a")
}

func TestInsertBatchInsertsEveryItem(t *testing.T) {
	c := newTestCollection(t, testConfig(3))

	err := c.InsertBatch([]InsertItem{
		{ID: "a", Vector: vector.Vector{Data: []float32{1, 0, 0}}},
		{ID: "b", Vector: vector.Vector{Data: []float32{0, 1, 0}}},
		{ID: "c", Vector: vector.Vector{Data: []float32{0, 0, 1}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Count())

	got, err := c.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, got.Data)
}

func TestInsertBatchPartialFailureKeepsSuccesses(t *testing.T) {
	c := newTestCollection(t, testConfig(3))

	err := c.InsertBatch([]InsertItem{
		{ID: "a", Vector: vector.Vector{Data: []float32{1, 0, 0}}},
		{ID: "bad", Vector: vector.Vector{Data: []float32{1, 0}}}, // wrong dimension
	})
	require.Error(t, err)
	var pf *errs.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.Errors, "bad")
	assert.NotContains(t, pf.Errors, "a")

	_, err = c.Get("a")
	assert.NoError(t, err)
	_, err = c.Get("bad")
	var notFound *errs.VectorNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSearchWithKeywordFilter(t *testing.T) {
	c := newTestCollection(t, testConfig(2))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{0, 0}, Payload: map[string]any{"color": "red"}}))
	require.NoError(t, c.Insert("b", vector.Vector{Data: []float32{0.1, 0}, Payload: map[string]any{"color": "blue"}}))

	filter := &payload.Filter{Leaf: &payload.Leaf{Kind: payload.KeywordEq, Field: "color", KeywordValue: "blue"}}
	hits, err := c.Search(SearchRequest{Query: []float32{0, 0}, K: 5, Filter: filter})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestFacetCount(t *testing.T) {
	c := newTestCollection(t, testConfig(2))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{0, 0}, Payload: map[string]any{"color": "red"}}))
	require.NoError(t, c.Insert("b", vector.Vector{Data: []float32{1, 1}, Payload: map[string]any{"color": "red"}}))
	require.NoError(t, c.Insert("c", vector.Vector{Data: []float32{2, 2}, Payload: map[string]any{"color": "blue"}}))

	counts, err := c.FacetCount("color", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["red"])
	assert.Equal(t, 1, counts["blue"])
}

func TestClearEmptiesCollectionButKeepsConfig(t *testing.T) {
	c := newTestCollection(t, testConfig(2))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{0, 0}}))
	require.NoError(t, c.Insert("b", vector.Vector{Data: []float32{1, 1}}))

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, "test", c.Metadata().Name)
}

func TestCapacityExceeded(t *testing.T) {
	cfg := testConfig(2)
	cfg.CapacityBytes = 1
	c := newTestCollection(t, cfg)

	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 1}}))
	err := c.Insert("b", vector.Vector{Data: []float32{2, 2}})
	var capErr *errs.CapacityExceeded
	assert.ErrorAs(t, err, &capErr)
}

func TestTrainQuantizerRoundTrip(t *testing.T) {
	cfg := testConfig(4)
	cfg.Quantizer = quantize.Binary
	c := newTestCollection(t, cfg)

	samples := [][]float32{
		{1, -1, 1, -1},
		{-1, 1, -1, 1},
		{2, -2, 2, -2},
	}
	require.NoError(t, c.TrainQuantizer(samples))

	code, err := c.Quantizer().Encode([]float32{1, -1, 1, -1})
	require.NoError(t, err)
	assert.Equal(t, c.Quantizer().EncodedLen(), len(code))
}

func TestInsertWithQuantizerStoresLossyGet(t *testing.T) {
	cfg := testConfig(4)
	cfg.Quantizer = quantize.Binary
	c := newTestCollection(t, cfg)

	require.NoError(t, c.TrainQuantizer([][]float32{
		{1, -1, 1, -1},
		{-1, 1, -1, 1},
		{2, -2, 2, -2},
	}))

	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, -1, 1, -1}, Payload: map[string]any{"p": 1}}))

	got, err := c.Get("a")
	require.NoError(t, err)
	// Binary quantization reconstructs +1/-1 per component from the sign
	// of the median split, not the original bytes, so Get must not return
	// the untouched input slice.
	assert.Equal(t, []float32{1, -1, 1, -1}, got.Data)
	assert.Equal(t, map[string]any{"p": 1}, got.Payload)

	require.NoError(t, c.Delete("a"))
	_, err = c.Get("a")
	var notFound *errs.VectorNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestInsertWithUntrainedQuantizerFails(t *testing.T) {
	cfg := testConfig(4)
	cfg.Quantizer = quantize.SQ
	c := newTestCollection(t, cfg)

	err := c.Insert("a", vector.Vector{Data: []float32{1, 2, 3, 4}})
	assert.Error(t, err)
}

func TestTrainQuantizerWithoutOneConfigured(t *testing.T) {
	c := newTestCollection(t, testConfig(4))
	err := c.TrainQuantizer([][]float32{{1, 2, 3, 4}})
	var invalid *errs.InvalidConfig
	assert.ErrorAs(t, err, &invalid)
}

func TestUpdateMissingIDReturnsVectorNotFound(t *testing.T) {
	c := newTestCollection(t, testConfig(3))
	err := c.Update("ghost", vector.Vector{Data: []float32{1, 1, 1}})
	var notFound *errs.VectorNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestUpdatePayloadOnlyKeepsVector(t *testing.T) {
	c := newTestCollection(t, testConfig(3))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 2, 3}, Payload: map[string]any{"v": "old"}}))

	require.NoError(t, c.Update("a", vector.Vector{Payload: map[string]any{"v": "new"}}))

	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.Data)
	assert.Equal(t, map[string]any{"v": "new"}, got.Payload)
}

func TestUpdateVectorOnlyKeepsPayload(t *testing.T) {
	c := newTestCollection(t, testConfig(3))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{1, 2, 3}, Payload: map[string]any{"v": "kept"}}))

	require.NoError(t, c.Update("a", vector.Vector{Data: []float32{4, 5, 6}}))

	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5, 6}, got.Data)
	assert.Equal(t, map[string]any{"v": "kept"}, got.Payload)
}

func TestEachVisitsEveryLiveVector(t *testing.T) {
	c := newTestCollection(t, testConfig(2))
	require.NoError(t, c.Insert("a", vector.Vector{Data: []float32{0, 0}}))
	require.NoError(t, c.Insert("b", vector.Vector{Data: []float32{1, 1}}))

	seen := map[string]bool{}
	err := c.Each(func(id string, v vector.Vector) error {
		seen[id] = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}
