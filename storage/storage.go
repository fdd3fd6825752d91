// Package storage implements the two pluggable storage variants: an
// in-memory sharded map, and a memory-mapped append log for dense vectors
// with payloads/sparse data held alongside in memory.
package storage

import "github.com/liliang-cn/vectra/vector"

// Backend is the narrow interface both storage variants satisfy.
// Backend errors (I/O, corruption) are *errs.StorageError. Get and Contains
// report a missing id as (zero Vector, false) and false, never as an error;
// Update and Remove return *errs.VectorNotFound for a missing id.
type Backend interface {
	Insert(id string, v vector.Vector) error
	Get(id string) (vector.Vector, bool)
	Contains(id string) bool
	Update(id string, v vector.Vector) error
	Remove(id string) error
	Len() int
	// BytesUsed estimates the backend's resident memory footprint, feeding
	// the CapacityExceeded accounting.
	BytesUsed() int64
	Close() error
}
