// Package vectra implements an embedded vector database: named
// collections of dense (and optionally sparse) float32 vectors, each
// backed by an HNSW approximate-nearest-neighbor index, an optional
// vector quantizer, and a payload index for filtered search.
//
// Store is the top-level entry point: it owns the name->collection
// registry, hands out reference-counted handles so a collection stays
// valid through an in-flight request even if a concurrent DropCollection
// is requested, and wires collections to snapshot persistence.
package vectra
