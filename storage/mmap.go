package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	mmap "github.com/blevesearch/mmap-go"

	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/vector"
)

// mmap vector file header:
// {magic, version, dimension, element_stride}, little-endian, followed by
// a dense f32 array. Slots are referenced by 0-based index.
const (
	mmapMagic      = "VXVF"
	mmapVersion    = 1
	mmapHeaderSize = 16 // magic(4) + version(1) + pad(3) + dimension(4) + stride(4)
	initialSlots   = 1024
)

// Mmap is the memory-mapped append-log storage variant. Dense vectors are
// written contiguously into a memory-mapped file; id -> slot is held in an
// in-memory map, payloads and sparse vectors remain in maps. Appends are
// serialized by a single writer; reads proceed concurrently.
type Mmap struct {
	mu sync.RWMutex

	path string
	file *os.File
	data mmap.MMap

	dim      int
	stride   int
	capacity int // slots currently backed by the file
	slots    map[string]int
	rev      []string // slot -> id, "" if the slot is free/removed
	payload  map[string]any
	sparse   map[string]*vector.Sparse
	closed   bool

	compactCancel context.CancelFunc
}

// OpenMmap creates or opens a memory-mapped vector file at path for
// vectors of the given dimension.
func OpenMmap(path string, dim int) (*Mmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}

	m := &Mmap{
		path:    path,
		file:    f,
		dim:     dim,
		stride:  dim * 4,
		slots:   make(map[string]int),
		payload: make(map[string]any),
		sparse:  make(map[string]*vector.Sparse),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}

	if info.Size() == 0 {
		if err := m.initFile(initialSlots); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := m.loadHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := m.remap(); err != nil {
		f.Close()
		return nil, err
	}

	m.rev = make([]string, m.capacity)
	return m, nil
}

func (m *Mmap) initFile(slots int) error {
	size := int64(mmapHeaderSize + slots*m.stride)
	if err := m.file.Truncate(size); err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	hdr := make([]byte, mmapHeaderSize)
	copy(hdr[0:4], mmapMagic)
	hdr[4] = mmapVersion
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(m.dim))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(m.stride))
	if _, err := m.file.WriteAt(hdr, 0); err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	m.capacity = slots
	return nil
}

func (m *Mmap) loadHeader() error {
	hdr := make([]byte, mmapHeaderSize)
	if _, err := m.file.ReadAt(hdr, 0); err != nil {
		return &errs.StorageError{Kind: errs.StorageCorrupt, Err: err}
	}
	if string(hdr[0:4]) != mmapMagic {
		return &errs.StorageError{Kind: errs.StorageCorrupt, Err: fmt.Errorf("bad magic")}
	}
	dim := int(binary.LittleEndian.Uint32(hdr[8:12]))
	stride := int(binary.LittleEndian.Uint32(hdr[12:16]))
	if dim != m.dim || stride != m.stride {
		return &errs.DimensionMismatch{Expected: m.dim, Got: dim}
	}
	info, err := m.file.Stat()
	if err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	m.capacity = int(info.Size()-mmapHeaderSize) / m.stride
	return nil
}

func (m *Mmap) remap() error {
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
		}
	}
	data, err := mmap.Map(m.file, mmap.RDWR, 0)
	if err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	m.data = data
	return nil
}

// grow doubles file capacity and remaps. Caller holds m.mu write lock.
func (m *Mmap) grow() error {
	newCap := m.capacity * 2
	if newCap == 0 {
		newCap = initialSlots
	}
	if err := m.data.Unmap(); err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	m.data = nil
	size := int64(mmapHeaderSize + newCap*m.stride)
	if err := m.file.Truncate(size); err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	if err := m.remap(); err != nil {
		return err
	}
	grown := make([]string, newCap)
	copy(grown, m.rev)
	m.rev = grown
	m.capacity = newCap
	return nil
}

func (m *Mmap) slotOffset(slot int) int {
	return mmapHeaderSize + slot*m.stride
}

func (m *Mmap) writeSlot(slot int, data []float32) {
	off := m.slotOffset(slot)
	for i, x := range data {
		binary.LittleEndian.PutUint32(m.data[off+i*4:], math.Float32bits(x))
	}
}

func (m *Mmap) readSlot(slot int) []float32 {
	off := m.slotOffset(slot)
	out := make([]float32, m.dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(m.data[off+i*4:]))
	}
	return out
}

func (m *Mmap) Insert(id string, v vector.Vector) error {
	if len(v.Data) != m.dim {
		return &errs.DimensionMismatch{Expected: m.dim, Got: len(v.Data)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: fmt.Errorf("backend closed")}
	}

	slot := m.allocateSlot()
	m.writeSlot(slot, v.Data)
	m.rev[slot] = id
	m.slots[id] = slot
	if v.Payload != nil {
		m.payload[id] = v.Payload
	}
	if v.Sparse != nil {
		m.sparse[id] = v.Sparse
	}
	return nil
}

// allocateSlot returns the lowest free slot, whether never used or freed by
// Remove, growing the file when every slot is taken. Caller holds m.mu.
func (m *Mmap) allocateSlot() int {
	for {
		for i, id := range m.rev {
			if id == "" {
				return i
			}
		}
		_ = m.grow()
	}
}

func (m *Mmap) Get(id string) (vector.Vector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.slots[id]
	if !ok {
		return vector.Vector{}, false
	}
	return vector.Vector{
		ID:      id,
		Data:    m.readSlot(slot),
		Sparse:  m.sparse[id],
		Payload: m.payload[id],
	}, true
}

func (m *Mmap) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slots[id]
	return ok
}

// Update replaces the vector at id's existing slot in place. Fails if the
// new data's length differs from the configured dimension.
func (m *Mmap) Update(id string, v vector.Vector) error {
	if len(v.Data) != m.dim {
		return &errs.DimensionMismatch{Expected: m.dim, Got: len(v.Data)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return &errs.VectorNotFound{ID: id}
	}
	m.writeSlot(slot, v.Data)
	if v.Payload != nil {
		m.payload[id] = v.Payload
	} else {
		delete(m.payload, id)
	}
	if v.Sparse != nil {
		m.sparse[id] = v.Sparse
	} else {
		delete(m.sparse, id)
	}
	return nil
}

// Remove unmaps only the index entry; space reclamation is deferred to a
// compact pass.
func (m *Mmap) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[id]
	if !ok {
		return &errs.VectorNotFound{ID: id}
	}
	delete(m.slots, id)
	delete(m.payload, id)
	delete(m.sparse, id)
	m.rev[slot] = ""
	return nil
}

func (m *Mmap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

func (m *Mmap) BytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(mmapHeaderSize + m.capacity*m.stride)
}

func (m *Mmap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.compactCancel != nil {
		m.compactCancel()
	}
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
		}
	}
	if err := m.file.Close(); err != nil {
		return &errs.StorageError{Kind: errs.StorageIOError, Err: err}
	}
	return nil
}

// StartCompaction launches a background goroutine that rewrites the file
// every interval by calling Compact. It is the only
// background thread the core ever starts on its own.
func (m *Mmap) StartCompaction(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.compactCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.Compact()
			}
		}
	}()
}

// Compact rewrites live slots contiguously from the start of the file,
// reclaiming space left by tombstoned removals.
func (m *Mmap) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	live := make([]string, 0, len(m.slots))
	vectors := make([][]float32, 0, len(m.slots))
	for id, slot := range m.slots {
		live = append(live, id)
		vectors = append(vectors, m.readSlot(slot))
	}

	newRev := make([]string, m.capacity)
	newSlots := make(map[string]int, len(live))
	for i, id := range live {
		newSlots[id] = i
		newRev[i] = id
		m.writeSlot(i, vectors[i])
	}
	m.slots = newSlots
	m.rev = newRev
	return nil
}

var _ Backend = (*Mmap)(nil)
