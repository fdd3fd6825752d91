package storage

import (
	"hash/fnv"
	"sync"

	"github.com/liliang-cn/vectra/errs"
	"github.com/liliang-cn/vectra/vector"
)

const memoryShardCount = 16

// Memory is the in-memory storage variant: a sharded hash map giving O(1)
// access with per-shard locking so that mutating one id's shard never
// blocks a reader of another.
type Memory struct {
	dim    int
	shards [memoryShardCount]memoryShard
}

type memoryShard struct {
	mu   sync.RWMutex
	data map[string]vector.Vector
}

// NewMemory creates an empty in-memory backend for vectors of dim
// components.
func NewMemory(dim int) *Memory {
	m := &Memory{dim: dim}
	for i := range m.shards {
		m.shards[i].data = make(map[string]vector.Vector)
	}
	return m
}

func (m *Memory) shardFor(id string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &m.shards[h.Sum32()%memoryShardCount]
}

func (m *Memory) Insert(id string, v vector.Vector) error {
	if len(v.Data) != m.dim {
		return &errs.DimensionMismatch{Expected: m.dim, Got: len(v.Data)}
	}
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = v
	return nil
}

func (m *Memory) Get(id string) (vector.Vector, bool) {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok
}

func (m *Memory) Contains(id string) bool {
	s := m.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok
}

func (m *Memory) Update(id string, v vector.Vector) error {
	if len(v.Data) != m.dim {
		return &errs.DimensionMismatch{Expected: m.dim, Got: len(v.Data)}
	}
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return &errs.VectorNotFound{ID: id}
	}
	s.data[id] = v
	return nil
}

func (m *Memory) Remove(id string) error {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return &errs.VectorNotFound{ID: id}
	}
	delete(s.data, id)
	return nil
}

func (m *Memory) Len() int {
	total := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		total += len(m.shards[i].data)
		m.shards[i].mu.RUnlock()
	}
	return total
}

func (m *Memory) BytesUsed() int64 {
	var total int64
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for _, v := range m.shards[i].data {
			total += int64(len(v.Data))*4 + 64 // rough per-entry overhead
		}
		m.shards[i].mu.RUnlock()
	}
	return total
}

func (m *Memory) Close() error { return nil }

var _ Backend = (*Memory)(nil)
