package hnsw

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vectra/vector"
)

func newTestGraph(dim int) *Graph {
	return New(Config{Dim: dim, Metric: vector.Euclidean, M: 8, EfConstruction: 64, EfSearch: 32, Seed: 7})
}

func TestSearchOnEmptyGraphReturnsNothing(t *testing.T) {
	g := newTestGraph(3)
	results, err := g.Search([]float32{1, 2, 3}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSingleInsertIsReturnedByItself(t *testing.T) {
	g := newTestGraph(2)
	require.NoError(t, g.Insert("a", []float32{1, 1}))
	results, err := g.Search([]float32{1, 1}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSearchOrdersByAscendingDistance(t *testing.T) {
	g := newTestGraph(2)
	require.NoError(t, g.Insert("near", []float32{0, 0}))
	require.NoError(t, g.Insert("far", []float32{10, 10}))
	require.NoError(t, g.Insert("mid", []float32{2, 2}))

	results, err := g.Search([]float32{0, 0}, 3, 32)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "mid", results[1].ID)
	assert.Equal(t, "far", results[2].ID)
	assert.True(t, results[0].Distance <= results[1].Distance)
	assert.True(t, results[1].Distance <= results[2].Distance)
}

func TestSearchRespectsK(t *testing.T) {
	g := newTestGraph(2)
	for i := 0; i < 20; i++ {
		require.NoError(t, g.Insert(fmt.Sprintf("v%d", i), []float32{float32(i), float32(i)}))
	}
	results, err := g.Search([]float32{0, 0}, 5, 32)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestDeleteExcludesFromSearchResults(t *testing.T) {
	g := newTestGraph(2)
	require.NoError(t, g.Insert("a", []float32{0, 0}))
	require.NoError(t, g.Insert("b", []float32{1, 1}))
	require.NoError(t, g.Insert("c", []float32{2, 2}))

	require.NoError(t, g.Delete("a"))
	results, err := g.Search([]float32{0, 0}, 3, 32)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestDeleteEntryPointPicksReplacement(t *testing.T) {
	g := newTestGraph(2)
	require.NoError(t, g.Insert("only", []float32{0, 0}))
	require.NoError(t, g.Delete("only"))
	assert.False(t, g.hasEntry)

	require.NoError(t, g.Insert("a", []float32{0, 0}))
	require.NoError(t, g.Insert("b", []float32{1, 1}))
	require.NoError(t, g.Delete("a"))
	results, err := g.Search([]float32{1, 1}, 1, 32)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestInsertSameIDReplacesVector(t *testing.T) {
	g := newTestGraph(2)
	require.NoError(t, g.Insert("a", []float32{0, 0}))
	require.NoError(t, g.Insert("a", []float32{5, 5}))
	assert.Equal(t, 1, g.Len())

	results, err := g.Search([]float32{5, 5}, 1, 32)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
}

func TestInsertSameIDRebuildsNeighborhood(t *testing.T) {
	g := newTestGraph(2)
	require.NoError(t, g.Insert("a", []float32{0, 0}))
	require.NoError(t, g.Insert("b", []float32{1, 1}))
	require.NoError(t, g.Insert("c", []float32{100, 100}))

	// "a" starts out near the {0,0}/{1,1} cluster; a search centered there
	// should return it ahead of the far-away "c".
	results, err := g.Search([]float32{0, 0}, 2, 32)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)

	// Re-inserting "a" into the far cluster must rebuild its neighborhood,
	// not just overwrite its vector bytes: a query near its old position
	// should no longer find it, and a query near its new position should.
	require.NoError(t, g.Insert("a", []float32{101, 101}))

	near, err := g.Search([]float32{0, 0}, 2, 32)
	require.NoError(t, err)
	for _, r := range near {
		assert.NotEqual(t, "a", r.ID)
	}
	assert.Equal(t, "b", near[0].ID)

	far, err := g.Search([]float32{100, 100}, 2, 32)
	require.NoError(t, err)
	require.Len(t, far, 2)
	assert.Equal(t, "c", far[0].ID)
	assert.Equal(t, "a", far[1].ID)
}

func TestInsertDimensionMismatch(t *testing.T) {
	g := newTestGraph(3)
	err := g.Insert("a", []float32{1, 2})
	assert.Error(t, err)
}

func TestRecallIsReasonableOnClusteredData(t *testing.T) {
	g := New(Config{Dim: 4, Metric: vector.Euclidean, M: 16, EfConstruction: 100, EfSearch: 64, Seed: 42})
	clusters := [][]float32{{0, 0, 0, 0}, {50, 50, 50, 50}, {-50, -50, -50, -50}}
	for ci, center := range clusters {
		for i := 0; i < 30; i++ {
			v := make([]float32, 4)
			for d := range v {
				v[d] = center[d] + float32(i%5)
			}
			require.NoError(t, g.Insert(fmt.Sprintf("c%d-%d", ci, i), v))
		}
	}

	results, err := g.Search([]float32{50, 50, 50, 50}, 10, 64)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	hits := 0
	for _, r := range results {
		if len(r.ID) >= 2 && r.ID[:2] == "c1" {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, 7)
}
