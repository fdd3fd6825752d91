package gpuhnsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/vector"
)

func cpuOnlyIndex(t *testing.T, libPath string) *Index {
	t.Helper()
	return New(Config{
		Dim: 2, Metric: vector.Euclidean, M: 8,
		EfConstruction: 32, EfSearch: 16, LibPath: libPath,
	})
}

func TestNoLibraryFallsBackToCPU(t *testing.T) {
	idx := cpuOnlyIndex(t, "")
	assert.False(t, idx.OnGPU())

	var unavailable *errs.GpuUnavailable
	require.ErrorAs(t, idx.LastGPUError(), &unavailable)
}

func TestMissingLibraryReportsGpuUnavailable(t *testing.T) {
	idx := cpuOnlyIndex(t, "/nonexistent/libvx_gpu.so")
	assert.False(t, idx.OnGPU())

	var unavailable *errs.GpuUnavailable
	require.ErrorAs(t, idx.LastGPUError(), &unavailable)
}

func TestCPUFallbackServesInsertAndSearch(t *testing.T) {
	idx := cpuOnlyIndex(t, "")
	require.NoError(t, idx.Insert("a", []float32{0, 0}))
	require.NoError(t, idx.Insert("b", []float32{5, 5}))

	results, err := idx.Search([]float32{0, 0}, 1, 16)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSyncWithoutDeviceIsNoop(t *testing.T) {
	idx := cpuOnlyIndex(t, "")
	require.NoError(t, idx.Insert("a", []float32{1, 1}))
	require.NoError(t, idx.Sync())
	assert.False(t, idx.OnGPU())
}

func TestDeleteExcludesFromFallbackSearch(t *testing.T) {
	idx := cpuOnlyIndex(t, "")
	require.NoError(t, idx.Insert("a", []float32{0, 0}))
	require.NoError(t, idx.Insert("b", []float32{1, 1}))
	require.NoError(t, idx.Delete("a"))

	results, err := idx.Search([]float32{0, 0}, 2, 16)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestCloseWithoutDeviceIsNoop(t *testing.T) {
	idx := cpuOnlyIndex(t, "")
	assert.NoError(t, idx.Close())
}
