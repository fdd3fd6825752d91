package gpuhnsw

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/hnsw"
	"github.com/liliang-cn/vectra/vector"
)

// Config configures an Index. LibPath names the device library to dlopen;
// an empty LibPath or a failed load makes the Index operate purely on its
// CPU fallback, mirroring hnsw.Graph with no GPU residency.
type Config struct {
	Dim            int
	Metric         vector.Metric
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
	LibPath        string
	CeilingBytes   uint64
}

// Index builds its graph on the CPU (construction is explicitly out of
// scope for the device kernel) and bulk-uploads the finished arena to GPU
// memory for search. If the device is unavailable it transparently
// degrades to serving every Search from the CPU graph.
type Index struct {
	cfg     Config
	cpu     *hnsw.Graph
	dev     *Device
	lastErr error

	syncMu sync.Mutex  // serializes Sync's snapshot+upload
	dirty  atomic.Bool // cpu graph has mutations not yet reflected on device
	onGPU  atomic.Bool
}

// New builds an Index. Device initialization failures are swallowed into
// CPU-only mode; callers that need to know why can call LastGPUError.
func New(cfg Config) *Index {
	idx := &Index{
		cpu: hnsw.New(hnsw.Config{
			Dim: cfg.Dim, Metric: cfg.Metric, M: cfg.M,
			EfConstruction: cfg.EfConstruction, EfSearch: cfg.EfSearch, Seed: cfg.Seed,
		}),
		cfg: cfg,
	}
	if cfg.LibPath == "" {
		idx.lastErr = &errs.GpuUnavailable{Reason: "no device library configured"}
		return idx
	}
	dev, err := Open(cfg.LibPath)
	if err != nil {
		idx.lastErr = err
		return idx
	}
	if err := dev.Init(cfg.CeilingBytes); err != nil {
		idx.lastErr = err
		_ = dev.Close()
		return idx
	}
	idx.dev = dev
	return idx
}

// OnGPU reports whether the index is currently serving searches from
// device memory.
func (idx *Index) OnGPU() bool { return idx.onGPU.Load() }

// LastGPUError returns why the device path is unavailable, or nil when a
// device context is open.
func (idx *Index) LastGPUError() error {
	if idx.dev != nil {
		return nil
	}
	return idx.lastErr
}

// Insert always lands on the CPU graph; the device copy is refreshed by
// the next Sync call, per the bulk-build-then-upload strategy.
func (idx *Index) Insert(id string, data []float32) error {
	if err := idx.cpu.Insert(id, data); err != nil {
		return err
	}
	idx.dirty.Store(true)
	idx.onGPU.Store(false)
	return nil
}

func (idx *Index) Delete(id string) error {
	if err := idx.cpu.Delete(id); err != nil {
		return err
	}
	idx.dirty.Store(true)
	idx.onGPU.Store(false)
	return nil
}

// Sync flattens the CPU graph and uploads it to the device. A failure
// here is not fatal: Search keeps working off the CPU graph.
func (idx *Index) Sync() error {
	if idx.dev == nil || !idx.dirty.Load() {
		return nil
	}
	idx.syncMu.Lock()
	defer idx.syncMu.Unlock()

	snap := idx.cpu.Snapshot()

	var conns []uint32
	for _, layers := range snap.Neighbors {
		if len(layers) > 0 {
			conns = append(conns, layers[0]...)
		}
	}
	levels := snap.Levels

	var vecPtr, connPtr, lvlPtr unsafe.Pointer
	if len(snap.Vectors) > 0 {
		vecPtr = unsafe.Pointer(&snap.Vectors[0])
	}
	if len(conns) > 0 {
		connPtr = unsafe.Pointer(&conns[0])
	}
	if len(levels) > 0 {
		lvlPtr = unsafe.Pointer(&levels[0])
	}

	rc := idx.dev.upload(idx.dev.ctxID, int32(len(snap.IDs)), vecPtr, int32(snap.Dim), connPtr, int32(len(conns)), lvlPtr)
	if rc != 0 {
		return &errs.KernelError{Reason: "upload rejected by device"}
	}
	idx.dirty.Store(false)
	idx.onGPU.Store(true)
	return nil
}

// Search dispatches to the device when synced and available, otherwise
// falls back to the CPU graph.
func (idx *Index) Search(query []float32, k, ef int) ([]hnsw.SearchResult, error) {
	if idx.dev == nil || !idx.onGPU.Load() || k <= 0 {
		return idx.cpu.Search(query, k, ef)
	}

	outIDs := make([]uint32, k)
	outDist := make([]float32, k)
	n := idx.dev.search(
		idx.dev.ctxID,
		unsafe.Pointer(&query[0]), int32(len(query)), int32(k), int32(ef),
		unsafe.Pointer(&outIDs[0]), unsafe.Pointer(&outDist[0]),
	)
	if n < 0 {
		idx.onGPU.Store(false)
		return idx.cpu.Search(query, k, ef)
	}

	snap := idx.cpu.Snapshot()
	results := make([]hnsw.SearchResult, 0, n)
	for i := 0; i < int(n); i++ {
		slot := outIDs[i]
		if int(slot) >= len(snap.IDs) {
			return nil, &errs.IndexCorrupt{Reason: "device returned out-of-range node index"}
		}
		if snap.Tombstoned[slot] {
			continue
		}
		results = append(results, hnsw.SearchResult{ID: snap.IDs[slot], Distance: outDist[i]})
	}
	return results, nil
}

// Close releases the device context, if any.
func (idx *Index) Close() error {
	if idx.dev == nil {
		return nil
	}
	return idx.dev.Close()
}
