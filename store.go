package vectra

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/liliang-cn/vectra/collection"
	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/logging"
	"github.com/liliang-cn/vectra/metrics"
	"github.com/liliang-cn/vectra/payload"
	"github.com/liliang-cn/vectra/snapshot"
)

// entry is the registry's bookkeeping for one collection: the collection
// itself, a live reference count, and whether DropCollection has already
// been requested (teardown deferred to the last Release).
type entry struct {
	col     *collection.Collection
	refs    atomic.Int32
	dropped atomic.Bool
}

// Store is the process-wide registry of named collections.
// It is the embedder's single entry point: construct one with New, wire a
// metrics.Sink and logging.Logger into it, and hand out CollectionHandles
// to whatever needs to operate on a collection.
type Store struct {
	mu      sync.Mutex
	byName  map[string]*entry
	order   []string // insertion order, for ListCollections
	metrics metrics.Sink
	logger  logging.Logger
}

// New constructs an empty Store. A nil sink/logger installs the no-op
// defaults so the core never requires an embedder to wire observability
// before it can be used.
func New(sink metrics.Sink, logger logging.Logger) *Store {
	if sink == nil {
		sink = metrics.Noop()
	}
	if logger == nil {
		logger = logging.Noop()
	}
	return &Store{
		byName:  make(map[string]*entry),
		metrics: sink,
		logger:  logger,
	}
}

// CollectionHandle is a reference-counted lease on a live collection. It
// stays valid for the lifetime of an in-flight request even if a
// concurrent DropCollection removes the name from the registry; call
// Release when done so the collection can actually be torn down once the
// last handle drops.
type CollectionHandle struct {
	store *Store
	name  string
	ent   *entry
	token string // lease token, surfaced for diagnostics/tracing
	once  sync.Once
}

// Collection returns the handle's underlying collection.
func (h *CollectionHandle) Collection() *collection.Collection { return h.ent.col }

// Token returns the lease token this handle was issued under.
func (h *CollectionHandle) Token() string { return h.token }

// Release drops this handle's reference. Once the last outstanding handle
// for a dropped collection releases, the collection is closed.
func (h *CollectionHandle) Release() {
	h.once.Do(func() {
		if h.ent.refs.Add(-1) == 0 && h.ent.dropped.Load() {
			h.store.teardown(h.name, h.ent)
		}
	})
}

func (s *Store) teardown(name string, e *entry) {
	if err := e.col.Close(); err != nil {
		s.logger.Warn("collection close failed", "collection", name, "error", err)
	}
	s.metrics.IncCollections(-1)
}

// CreateCollection registers a new collection under name. Fails with
// *errs.CollectionAlreadyExists on a name clash.
func (s *Store) CreateCollection(name string, cfg collection.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return errs.Wrap("create_collection", name, &errs.CollectionAlreadyExists{Name: name})
	}

	col, err := collection.New(name, cfg, s.metrics, s.logger)
	if err != nil {
		return errs.Wrap("create_collection", name, err)
	}

	s.byName[name] = &entry{col: col}
	s.order = append(s.order, name)
	s.logger.Info("collection created", "collection", name)
	return nil
}

// DropCollection removes name from the registry immediately — a racing
// GetCollection sees CollectionNotFound from this point on — but defers
// actually closing the collection's resources until every outstanding
// CollectionHandle has been released.
func (s *Store) DropCollection(name string) error {
	s.mu.Lock()
	e, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return errs.Wrap("drop_collection", name, &errs.CollectionNotFound{Name: name})
	}
	delete(s.byName, name)
	s.order = removeName(s.order, name)
	s.mu.Unlock()

	e.dropped.Store(true)
	if e.refs.Load() == 0 {
		s.teardown(name, e)
	}
	s.logger.Info("collection dropped", "collection", name)
	return nil
}

func removeName(order []string, name string) []string {
	out := order[:0]
	for _, n := range order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// ListCollections returns registered collection names in creation order.
func (s *Store) ListCollections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// GetCollection leases name, incrementing its reference count. The
// returned handle must be released with Release when the caller is done.
func (s *Store) GetCollection(name string) (*CollectionHandle, error) {
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return nil, errs.Wrap("get_collection", name, &errs.CollectionNotFound{Name: name})
	}
	e.refs.Add(1)
	return &CollectionHandle{store: s, name: name, ent: e, token: uuid.NewString()}, nil
}

// SnapshotTo writes a full snapshot of name to w. The
// collection remains usable for the duration of the write; Write streams
// directly from live storage rather than copying it first.
func (s *Store) SnapshotTo(name string, w io.Writer) error {
	h, err := s.GetCollection(name)
	if err != nil {
		return err
	}
	defer h.Release()
	if err := snapshot.Write(w, name, h.Collection()); err != nil {
		return errs.Wrap("snapshot_to", name, err)
	}
	return nil
}

// RestoreFrom reads a snapshot written by SnapshotTo, recreates the
// collection it describes, and registers it in the store under its
// original name. Fails with *errs.CollectionAlreadyExists if that name is
// already registered, and with *errs.SnapshotCorrupt on a malformed body.
func (s *Store) RestoreFrom(r io.Reader) (string, error) {
	col, err := snapshot.Restore(r, s.metrics, s.logger)
	if err != nil {
		return "", errs.Wrap("restore_from", "", err)
	}
	name := col.Metadata().Name

	s.mu.Lock()
	if _, exists := s.byName[name]; exists {
		s.mu.Unlock()
		_ = col.Close()
		return "", errs.Wrap("restore_from", name, &errs.CollectionAlreadyExists{Name: name})
	}
	s.byName[name] = &entry{col: col}
	s.order = append(s.order, name)
	s.mu.Unlock()

	s.logger.Info("collection restored", "collection", name)
	return name, nil
}

// AddPayloadIndex registers cfg on name's payload index.
func (s *Store) AddPayloadIndex(name string, cfg payload.IndexConfig) error {
	h, err := s.GetCollection(name)
	if err != nil {
		return err
	}
	defer h.Release()
	if err := h.Collection().AddPayloadIndex(cfg); err != nil {
		return errs.Wrap("add_payload_index", name, err)
	}
	return nil
}

// InsertBatch leases name and inserts every item into it in one call. See
// collection.Collection.InsertBatch for partial-failure semantics.
func (s *Store) InsertBatch(name string, items []collection.InsertItem) error {
	h, err := s.GetCollection(name)
	if err != nil {
		return err
	}
	defer h.Release()
	if err := h.Collection().InsertBatch(items); err != nil {
		return errs.Wrap("insert_batch", name, err)
	}
	return nil
}

// ListPayloadIndexes returns name's registered payload index configs.
func (s *Store) ListPayloadIndexes(name string) ([]payload.IndexConfig, error) {
	h, err := s.GetCollection(name)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.Collection().ListPayloadIndexes(), nil
}
