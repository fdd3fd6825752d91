// Package collection implements a single named collection: one storage
// backend, one ANN index, one payload index, and (optionally) a vector
// quantizer, wired together behind insert/search/delete and the payload
// filtering and snapshot machinery that sit on top of them.
package collection

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/gpuhnsw"
	"github.com/liliang-cn/vectra/hnsw"
	"github.com/liliang-cn/vectra/logging"
	"github.com/liliang-cn/vectra/metrics"
	"github.com/liliang-cn/vectra/payload"
	"github.com/liliang-cn/vectra/quantize"
	"github.com/liliang-cn/vectra/storage"
	"github.com/liliang-cn/vectra/vector"
)

// annIndex is the narrow surface both the CPU and GPU-backed ANN index
// variants satisfy, letting a Collection stay agnostic to which one it
// was built with.
type annIndex interface {
	Insert(id string, data []float32) error
	Delete(id string) error
	Search(query []float32, k, ef int) ([]hnsw.SearchResult, error)
}

// Config configures a Collection at creation.
type Config struct {
	Dim            int
	Metric         vector.Metric
	Quantizer      quantize.Kind
	StorageBackend string // "memory" or "mmap"
	StoragePath    string // required when StorageBackend == "mmap"
	UseGPU         bool
	// GPURequired makes collection creation fail with GpuUnavailable
	// instead of silently degrading to the CPU graph when no device
	// library could be opened.
	GPURequired     bool
	GPULibPath      string
	GPUCeilingBytes uint64
	M               int
	EfConstruction  int
	EfSearch        int
	Seed            int64
	CapacityBytes   int64 // 0 means unbounded
	MaxInsertFanout int   // 0 defaults to 8
}

// Metadata describes a collection for listing/introspection.
type Metadata struct {
	Name      string
	Config    Config
	CreatedAt time.Time
}

// Stats reports point-in-time collection size.
type Stats struct {
	VectorCount int
	BytesUsed   int64
}

// Collection owns every index backing one named set of vectors.
type Collection struct {
	name string
	cfg  Config

	// Collection itself holds no coarse lock: storage, the ANN index, and
	// the payload index each carry their own finer-grained locking, so
	// concurrent operations on disjoint ids don't serialize here.
	createdAt time.Time
	corrupt   atomic.Bool

	storage  storage.Backend
	index    annIndex
	gpuIndex *gpuhnsw.Index
	payload  *payload.Index
	quant    quantize.Quantizer

	// codesMu/codes hold the quantized code for each id when quant is
	// configured: the codebook lives once in quant, the codes live here,
	// jointly, one per vector. storage keeps the lossless vector for the
	// ANN's own indexing precision and for payload retrieval; Get decodes
	// through codes instead of returning storage's raw Data whenever a
	// quantizer is configured, so a quantized collection's round trip is
	// genuinely lossy per the quantizer's documented tolerance.
	codesMu sync.RWMutex
	codes   map[string][]byte

	metrics metrics.Sink
	logger  logging.Logger
}

// New constructs a Collection per cfg.
func New(name string, cfg Config, sink metrics.Sink, logger logging.Logger) (*Collection, error) {
	if cfg.Dim <= 0 {
		return nil, &errs.InvalidConfig{Field: "Dim", Reason: "must be positive"}
	}
	if sink == nil {
		sink = metrics.Noop()
	}
	if logger == nil {
		logger = logging.Noop()
	}

	var backend storage.Backend
	var err error
	switch cfg.StorageBackend {
	case "mmap":
		backend, err = storage.OpenMmap(cfg.StoragePath, cfg.Dim)
		if err != nil {
			return nil, err
		}
	default:
		backend = storage.NewMemory(cfg.Dim)
	}

	c := &Collection{
		name:      name,
		cfg:       cfg,
		createdAt: time.Now(),
		storage:   backend,
		payload:   payload.New(),
		metrics:   sink,
		logger:    logger.With("collection", name),
	}

	if cfg.Quantizer != quantize.None {
		q, err := newQuantizer(cfg.Quantizer, cfg.Dim)
		if err != nil {
			return nil, err
		}
		c.quant = q
		c.codes = make(map[string][]byte)
	}

	if cfg.UseGPU {
		gi := gpuhnsw.New(gpuhnsw.Config{
			Dim: cfg.Dim, Metric: cfg.Metric, M: cfg.M,
			EfConstruction: cfg.EfConstruction, EfSearch: cfg.EfSearch, Seed: cfg.Seed,
			LibPath: cfg.GPULibPath, CeilingBytes: cfg.GPUCeilingBytes,
		})
		if cfg.GPURequired {
			if err := gi.LastGPUError(); err != nil {
				_ = backend.Close()
				return nil, err
			}
		}
		c.gpuIndex = gi
		c.index = gi
	} else {
		c.index = hnsw.New(hnsw.Config{
			Dim: cfg.Dim, Metric: cfg.Metric, M: cfg.M,
			EfConstruction: cfg.EfConstruction, EfSearch: cfg.EfSearch, Seed: cfg.Seed,
		})
	}

	sink.IncCollections(1)
	return c, nil
}

func newQuantizer(kind quantize.Kind, dim int) (quantize.Quantizer, error) {
	switch kind {
	case quantize.SQ:
		return quantize.NewScalar(dim, 8)
	case quantize.Binary:
		return quantize.NewBinary(dim)
	case quantize.PQ:
		return quantize.NewProduct(dim, dim/4, 256)
	default:
		return nil, nil
	}
}

func (c *Collection) checkCorrupt() error {
	if c.corrupt.Load() {
		return &errs.IndexCorrupt{Reason: "collection " + c.name + " was poisoned by a prior index failure"}
	}
	return nil
}

func (c *Collection) poison(err error) error {
	c.corrupt.Store(true)
	c.logger.Error("collection poisoned", "error", err)
	return err
}

// Insert adds a new vector under id. id must not already be live; use
// Upsert or Update to replace an existing vector.
func (c *Collection) Insert(id string, v vector.Vector) error {
	if err := c.checkCorrupt(); err != nil {
		return err
	}
	if c.storage.Contains(id) {
		return &errs.InvalidConfig{Field: "id", Reason: "vector id already exists"}
	}
	if len(v.Data) != c.cfg.Dim {
		return &errs.DimensionMismatch{Expected: c.cfg.Dim, Got: len(v.Data)}
	}
	if c.cfg.Metric == vector.Cosine {
		if err := vector.Normalize(v.Data); err != nil {
			return err
		}
	}
	if c.cfg.CapacityBytes > 0 && c.storage.BytesUsed() >= c.cfg.CapacityBytes {
		return &errs.CapacityExceeded{LimitBytes: c.cfg.CapacityBytes, UsedBytes: c.storage.BytesUsed()}
	}
	if err := c.encodeQuantized(id, v.Data); err != nil {
		return err
	}

	start := time.Now()
	if err := c.storage.Insert(id, v); err != nil {
		return err
	}
	if err := c.index.Insert(id, v.Data); err != nil {
		return c.poison(err)
	}
	// Every id is registered in the payload index even with an empty
	// field map: besides serving filtered search, it is the only place
	// live ids can be enumerated (Clear, FacetCount), since storage.Backend
	// is deliberately id-keyed-only.
	c.payload.Upsert(id, asMap(v.Payload))

	c.metrics.ObserveInsertDuration(c.name, time.Since(start))
	c.metrics.SetVectorCount(c.name, c.storage.Len())
	c.metrics.SetMemoryUsage(c.name, c.storage.BytesUsed())
	return nil
}

func asMap(payload any) map[string]any {
	if m, ok := payload.(map[string]any); ok {
		return m
	}
	return nil
}

// Upsert inserts or replaces id.
func (c *Collection) Upsert(id string, v vector.Vector) error {
	if c.storage.Contains(id) {
		return c.Update(id, v)
	}
	return c.Insert(id, v)
}

// Update replaces an existing vector's data and/or payload in place, id
// preserved. A nil Data leaves the stored vector (and its ANN
// neighborhood) untouched and only re-indexes the payload; a nil Payload
// with non-nil Data keeps the current payload.
func (c *Collection) Update(id string, v vector.Vector) error {
	if err := c.checkCorrupt(); err != nil {
		return err
	}
	cur, ok := c.storage.Get(id)
	if !ok {
		return &errs.VectorNotFound{ID: id}
	}

	if v.Data == nil {
		cur.Payload = v.Payload
		if err := c.storage.Update(id, cur); err != nil {
			return err
		}
		c.payload.Upsert(id, asMap(v.Payload))
		return nil
	}

	if len(v.Data) != c.cfg.Dim {
		return &errs.DimensionMismatch{Expected: c.cfg.Dim, Got: len(v.Data)}
	}
	if c.cfg.Metric == vector.Cosine {
		if err := vector.Normalize(v.Data); err != nil {
			return err
		}
	}
	if v.Payload == nil {
		v.Payload = cur.Payload
	}
	if err := c.encodeQuantized(id, v.Data); err != nil {
		return err
	}
	if err := c.storage.Update(id, v); err != nil {
		return err
	}
	if err := c.index.Insert(id, v.Data); err != nil {
		return c.poison(err)
	}
	c.payload.Upsert(id, asMap(v.Payload))
	return nil
}

// encodeQuantized encodes data through the collection's quantizer, if one
// is configured, and stores the resulting code under id jointly with the
// quantizer's own trained codebook. A no-op when no quantizer is
// configured.
func (c *Collection) encodeQuantized(id string, data []float32) error {
	if c.quant == nil {
		return nil
	}
	code, err := c.quant.Encode(data)
	if err != nil {
		return err
	}
	c.codesMu.Lock()
	c.codes[id] = code
	c.codesMu.Unlock()
	return nil
}

// decodeQuantized reconstructs id's approximate vector from its stored
// code. Returns errs.CorruptCodes if id has no code even though a
// quantizer is configured (the id/code pairing was lost), which should
// never happen for a live id inserted through Insert/Update.
func (c *Collection) decodeQuantized(id string) ([]float32, error) {
	c.codesMu.RLock()
	code, ok := c.codes[id]
	c.codesMu.RUnlock()
	if !ok {
		return nil, &errs.CorruptCodes{Expected: c.quant.EncodedLen(), Got: 0}
	}
	return c.quant.Decode(code)
}

func (c *Collection) removeQuantized(id string) {
	if c.quant == nil {
		return
	}
	c.codesMu.Lock()
	delete(c.codes, id)
	c.codesMu.Unlock()
}

// Get returns the vector stored under id. When the collection is
// configured with a quantizer, Data is the quantizer's decode of id's
// stored code rather than storage's lossless copy, so a caller always
// sees exactly what a quantized round trip actually reconstructs.
func (c *Collection) Get(id string) (vector.Vector, error) {
	v, ok := c.storage.Get(id)
	if !ok {
		return vector.Vector{}, &errs.VectorNotFound{ID: id}
	}
	if c.quant != nil {
		decoded, err := c.decodeQuantized(id)
		if err != nil {
			return vector.Vector{}, err
		}
		v.Data = decoded
	}
	return v, nil
}

// Delete removes id from storage, the ANN index, the payload index, and
// (if configured) the quantized code store.
func (c *Collection) Delete(id string) error {
	if err := c.checkCorrupt(); err != nil {
		return err
	}
	if err := c.storage.Remove(id); err != nil {
		return err
	}
	if err := c.index.Delete(id); err != nil {
		return c.poison(err)
	}
	c.payload.Remove(id)
	c.removeQuantized(id)
	c.metrics.SetVectorCount(c.name, c.storage.Len())
	return nil
}

// DeleteBatch removes every id in ids, continuing past individual
// failures and reporting them all as a single *errs.PartialFailure.
func (c *Collection) DeleteBatch(ids []string) error {
	fanout := c.cfg.MaxInsertFanout
	if fanout <= 0 {
		fanout = 8
	}
	var mu sync.Mutex
	failures := make(map[string]error)

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(fanout)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := c.Delete(id); err != nil {
				mu.Lock()
				failures[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failures) > 0 {
		return &errs.PartialFailure{Errors: failures}
	}
	return nil
}

// InsertItem pairs an id with the vector to insert under it, for InsertBatch.
type InsertItem struct {
	ID     string
	Vector vector.Vector
}

// InsertBatch inserts every item, fanning the encode+index work for each
// out across a semaphore.Weighted bounded by GOMAXPROCS so a large batch
// doesn't spawn one goroutine per item. Partial failure is not
// all-or-nothing: an item that fails does not roll back the items that
// already succeeded, and every failure is collected into a single
// *errs.PartialFailure keyed by id.
func (c *Collection) InsertBatch(items []InsertItem) error {
	sem := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	ctx := context.Background()

	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		if err := sem.Acquire(gctx, 1); err != nil {
			// Context was canceled out from under us; record remaining
			// items as failed rather than silently dropping them.
			mu.Lock()
			failures[item.ID] = err
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := c.Insert(item.ID, item.Vector); err != nil {
				mu.Lock()
				failures[item.ID] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return &errs.PartialFailure{Errors: failures}
	}
	return nil
}

// SearchRequest parameterizes Search.
type SearchRequest struct {
	Query  []float32
	K      int
	Ef     int
	Filter *payload.Filter
}

// SearchHit is one ranked, filter-passing result.
type SearchHit struct {
	ID      string
	Score   float32
	Payload any
}

// overfetchFactor widens the ANN candidate pool when a filter is present,
// since filtering only narrows the raw candidate set.
const overfetchFactor = 4

// Search runs a k-nearest-neighbor query, optionally narrowed by a
// payload filter evaluated against the live id set.
func (c *Collection) Search(req SearchRequest) ([]SearchHit, error) {
	if err := c.checkCorrupt(); err != nil {
		return nil, err
	}
	if len(req.Query) != c.cfg.Dim {
		return nil, &errs.DimensionMismatch{Expected: c.cfg.Dim, Got: len(req.Query)}
	}
	if req.K == 0 {
		return nil, nil
	}
	query := append([]float32(nil), req.Query...)
	if c.cfg.Metric == vector.Cosine {
		if err := vector.Normalize(query); err != nil {
			return nil, err
		}
	}

	k := req.K
	if k < 0 {
		k = 10
	}
	ef := req.Ef
	if ef < k {
		ef = k
	}

	fetchK := k
	var allowed *roaring.Bitmap
	if req.Filter != nil {
		fetchK = k * overfetchFactor
		live := c.payload.Live()
		allowed = c.payload.Evaluate(*req.Filter, live)
	}

	start := time.Now()
	raw, err := c.index.Search(query, fetchK, ef)
	if err != nil {
		return nil, c.poison(err)
	}
	c.metrics.ObserveSearchDuration(c.name, time.Since(start))

	hits := make([]SearchHit, 0, k)
	for _, r := range raw {
		if allowed != nil && !c.payload.Contains(r.ID, allowed) {
			continue
		}
		v, ok := c.storage.Get(r.ID)
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{ID: r.ID, Score: c.cfg.Metric.Score(r.Distance), Payload: v.Payload})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// FacetCount tallies, among the vectors matching filter, how many carry
// each distinct value of a keyword field.
func (c *Collection) FacetCount(field string, filter *payload.Filter) (map[string]int, error) {
	live := c.payload.Live()
	var scope = live
	if filter != nil {
		scope = c.payload.Evaluate(*filter, live)
	}
	return c.payload.FacetCount(field, scope), nil
}

// AddPayloadIndex registers cfg as an explicitly configured payload index.
// Every payload field is indexed under every flavor its values match
// regardless of registration; this records the declaration for
// ListPayloadIndexes to report back.
func (c *Collection) AddPayloadIndex(cfg payload.IndexConfig) error {
	if cfg.Field == "" {
		return &errs.InvalidConfig{Field: "Field", Reason: "must not be empty"}
	}
	c.payload.AddConfig(cfg)
	return nil
}

// ListPayloadIndexes returns every field/flavor pair registered via
// AddPayloadIndex, in registration order.
func (c *Collection) ListPayloadIndexes() []payload.IndexConfig {
	return c.payload.Configs()
}

// TrainQuantizer fits the collection's configured quantizer on samples.
// It is a separate, explicit step rather than something Insert does
// automatically, since a quantizer needs a representative corpus before
// it can encode anything meaningfully.
func (c *Collection) TrainQuantizer(samples [][]float32) error {
	if c.quant == nil {
		return &errs.InvalidConfig{Field: "Quantizer", Reason: "collection has no quantizer configured"}
	}
	return c.quant.Train(samples)
}

// Count returns the number of live vectors.
func (c *Collection) Count() int { return c.storage.Len() }

// Clear removes every vector from the collection, leaving configuration
// intact.
func (c *Collection) Clear() error {
	ids := make([]string, 0, c.storage.Len())
	// Backend has no enumerate method by design; the payload index is the
	// only place ids are enumerable, so walk it for the live set.
	it := c.payload.Live().Iterator()
	for it.HasNext() {
		ids = append(ids, c.payload.KeyFor(it.Next()))
	}
	return c.DeleteBatch(ids)
}

// Each calls fn once per live vector, in no particular order, stopping and
// returning fn's error if it returns one. Used by the snapshot package to
// walk a collection's full contents without Backend needing an enumerate
// method of its own.
func (c *Collection) Each(fn func(id string, v vector.Vector) error) error {
	it := c.payload.Live().Iterator()
	for it.HasNext() {
		id := c.payload.KeyFor(it.Next())
		v, ok := c.storage.Get(id)
		if !ok {
			continue
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return nil
}

// Quantizer exposes the collection's configured quantizer, or nil if none,
// so the snapshot package can serialize/restore its trained state without
// Collection needing to know the on-disk format.
func (c *Collection) Quantizer() quantize.Quantizer { return c.quant }

// Metadata describes this collection for Store.ListCollections.
func (c *Collection) Metadata() Metadata {
	return Metadata{Name: c.name, Config: c.cfg, CreatedAt: c.createdAt}
}

// StatsSnapshot reports current size.
func (c *Collection) StatsSnapshot() Stats {
	return Stats{VectorCount: c.storage.Len(), BytesUsed: c.storage.BytesUsed()}
}

// Close releases any resources (mmap file handles, GPU device context).
func (c *Collection) Close() error {
	if c.gpuIndex != nil {
		_ = c.gpuIndex.Close()
	}
	return c.storage.Close()
}
