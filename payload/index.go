// Package payload indexes per-vector metadata for fast
// filtered search: keyword equality, integer and float ranges, simple
// text token matching, and geo bounding-box/radius queries, each backed by
// a github.com/RoaringBitmap/roaring/v2 posting set so filter composition
// (AND/OR/NOT) is a handful of bitmap operations rather than per-vector
// scans.
package payload

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// IndexKind names which of the five flavors a payload field is registered
// under.
type IndexKind string

const (
	KindKeyword IndexKind = "keyword"
	KindInt     IndexKind = "integer"
	KindFloat   IndexKind = "float"
	KindText    IndexKind = "text"
	KindGeo     IndexKind = "geo"
)

// IndexConfig names one field/flavor pair an embedder has explicitly
// registered through Collection.AddPayloadIndex. Every field
// is in fact always indexed under every flavor its values match — leaf
// evaluation never needs lookup — so a registered IndexConfig is purely a
// declaration surfaced back through ListPayloadIndexes for introspection.
type IndexConfig struct {
	Field string
	Kind  IndexKind
}

// Index holds every sub-index for one collection's payloads, keyed by its
// own dense uint32 id space (assigned in insertion order, reused on
// Remove only via the same id coming back with the same string key).
type Index struct {
	mu  sync.RWMutex
	ids map[string]uint32
	rev []string

	keyword map[string]map[string]*roaring.Bitmap
	intIdx  map[string][]intEntry
	floatIx map[string][]floatEntry
	text    map[string]map[string]*roaring.Bitmap
	geo     map[string]*geoIndex

	live *roaring.Bitmap

	configs []IndexConfig
}

// AddConfig records field as explicitly indexed under kind. A no-op on
// field extraction (every field is always indexed under every flavor its
// value matches); this only makes the registration visible to
// ListPayloadIndexes.
func (ix *Index) AddConfig(cfg IndexConfig) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range ix.configs {
		if c == cfg {
			return
		}
	}
	ix.configs = append(ix.configs, cfg)
}

// Configs returns every field/flavor pair registered via AddConfig, in
// registration order.
func (ix *Index) Configs() []IndexConfig {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]IndexConfig, len(ix.configs))
	copy(out, ix.configs)
	return out
}

type intEntry struct {
	val int64
	id  uint32
}

type floatEntry struct {
	val float64
	id  uint32
}

// New creates an empty payload index.
func New() *Index {
	return &Index{
		ids:     make(map[string]uint32),
		keyword: make(map[string]map[string]*roaring.Bitmap),
		intIdx:  make(map[string][]intEntry),
		floatIx: make(map[string][]floatEntry),
		text:    make(map[string]map[string]*roaring.Bitmap),
		geo:     make(map[string]*geoIndex),
		live:    roaring.New(),
	}
}

func (ix *Index) idFor(key string) uint32 {
	if id, ok := ix.ids[key]; ok {
		return id
	}
	id := uint32(len(ix.rev))
	ix.ids[key] = id
	ix.rev = append(ix.rev, key)
	return id
}

// Upsert (re)indexes key's payload fields, dropping any previous entries
// for key first so updates never leave stale postings behind.
func (ix *Index) Upsert(key string, payload map[string]any) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(key)
	id := ix.idFor(key)
	ix.live.Add(id)
	ix.indexFields(id, "", payload)
}

func (ix *Index) indexFields(id uint32, prefix string, m map[string]any) {
	for k, v := range m {
		field := k
		if prefix != "" {
			field = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			if lat, lng, ok := asCoordinate(val); ok {
				ix.geoFor(field).upsert(id, Coordinate{Lat: lat, Lng: lng})
			}
			ix.indexFields(id, field, val)
		case string:
			ix.addKeyword(field, val, id)
			ix.addText(field, val, id)
		case int:
			ix.addInt(field, int64(val), id)
		case int64:
			ix.addInt(field, val, id)
		case float64:
			ix.addFloat(field, val, id)
		case bool:
			if val {
				ix.addKeyword(field, "true", id)
			} else {
				ix.addKeyword(field, "false", id)
			}
		}
	}
}

func asCoordinate(m map[string]any) (lat, lng float64, ok bool) {
	latV, okLat := m["lat"].(float64)
	lngV, okLng := m["lng"].(float64)
	if okLat && okLng {
		return latV, lngV, true
	}
	return 0, 0, false
}

// geoFor returns field's geo sub-index, creating it on first use, so two
// distinct geo fields never share a point set.
func (ix *Index) geoFor(field string) *geoIndex {
	g, ok := ix.geo[field]
	if !ok {
		g = newGeoIndex()
		ix.geo[field] = g
	}
	return g
}

func (ix *Index) addKeyword(field, value string, id uint32) {
	vals, ok := ix.keyword[field]
	if !ok {
		vals = make(map[string]*roaring.Bitmap)
		ix.keyword[field] = vals
	}
	bm, ok := vals[value]
	if !ok {
		bm = roaring.New()
		vals[value] = bm
	}
	bm.Add(id)
}

func (ix *Index) addInt(field string, value int64, id uint32) {
	ix.intIdx[field] = append(ix.intIdx[field], intEntry{val: value, id: id})
}

func (ix *Index) addFloat(field string, value float64, id uint32) {
	ix.floatIx[field] = append(ix.floatIx[field], floatEntry{val: value, id: id})
}

// Remove drops key's postings from every sub-index.
func (ix *Index) Remove(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(key)
}

func (ix *Index) removeLocked(key string) {
	id, ok := ix.ids[key]
	if !ok {
		return
	}
	ix.live.Remove(id)
	for _, vals := range ix.keyword {
		for _, bm := range vals {
			bm.Remove(id)
		}
	}
	for _, vals := range ix.text {
		for _, bm := range vals {
			bm.Remove(id)
		}
	}
	for f, entries := range ix.intIdx {
		ix.intIdx[f] = removeIntEntry(entries, id)
	}
	for f, entries := range ix.floatIx {
		ix.floatIx[f] = removeFloatEntry(entries, id)
	}
	for _, g := range ix.geo {
		g.remove(id)
	}
}

func removeIntEntry(entries []intEntry, id uint32) []intEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

func removeFloatEntry(entries []floatEntry, id uint32) []floatEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether key's id is a member of bm, used by collection
// search to intersect ANN results against an evaluated filter.
func (ix *Index) Contains(key string, bm *roaring.Bitmap) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.ids[key]
	if !ok {
		return false
	}
	return bm.Contains(id)
}

// FacetCount tallies, among the ids in scope, how many carry each
// distinct value of a keyword field.
func (ix *Index) FacetCount(field string, scope *roaring.Bitmap) map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]int)
	for value, bm := range ix.keyword[field] {
		out[value] = int(roaring.And(bm, scope).GetCardinality())
	}
	return out
}

// KeyFor resolves a dense index id back to its original string key.
func (ix *Index) KeyFor(id uint32) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if int(id) >= len(ix.rev) {
		return ""
	}
	return ix.rev[id]
}
