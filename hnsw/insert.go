package hnsw

import (
	"sync"

	"github.com/liliang-cn/vectra/errs"
)

// Insert adds data under id: draw a level, greedily
// descend to the node's top layer, then at each layer from there down to 0
// run a beam search, pick diverse neighbors, and link both directions,
// pruning any neighbor that now exceeds its per-layer cap.
//
// If id already names a live node, it is tombstoned first (its old arena
// slot stays behind as a routing hop, exactly like an explicit Delete) and
// a brand new node is built for it from scratch, so the id's neighborhood
// is always fully rebuilt rather than patched in place.
func (g *Graph) Insert(id string, data []float32) error {
	if err := g.checkCorrupt(); err != nil {
		return err
	}
	if len(data) != g.cfg.Dim {
		return &errs.DimensionMismatch{Expected: g.cfg.Dim, Got: len(data)}
	}

	g.structMu.RLock()
	_, exists := g.ids[id]
	g.structMu.RUnlock()
	if exists {
		if err := g.Delete(id); err != nil {
			return err
		}
	}

	level := g.selectLevel()

	g.structMu.Lock()
	idx := uint32(len(g.nodes))
	g.nodes = append(g.nodes, node{id: id, level: level, neighbors: make([][]uint32, level+1)})
	g.vectors = append(g.vectors, data...)
	g.locks = append(g.locks, new(sync.RWMutex))
	g.tomb = append(g.tomb, newBool())

	first := !g.hasEntry
	entry := g.entry
	entryLevel := 0
	if g.hasEntry {
		entryLevel = g.nodes[entry].level
	}
	if first {
		g.hasEntry = true
		g.entry = idx
		g.ids[id] = idx
		g.structMu.Unlock()
		return nil
	}
	g.structMu.Unlock()

	top := level
	if entryLevel < top {
		top = entryLevel
	}

	query := g.vectorAt(idx)
	ep := g.greedyDescend(query, entryLevel, top)
	frontier := []candidate{{idx: ep.idx, dist: g.distance(query, ep.idx)}}
	for layer := top; layer >= 0; layer-- {
		found := g.searchLayer(query, frontier, g.cfg.EfConstruction, layer)
		mmax := g.cfg.M
		if layer == 0 {
			mmax = g.M0()
		}
		neighbors := g.selectNeighborsHeuristic(found, mmax, g.vectorAt)
		g.setNeighbors(idx, layer, neighbors)

		for _, n := range neighbors {
			g.connect(n, idx, layer, mmax)
		}
		frontier = found
	}

	g.structMu.Lock()
	g.ids[id] = idx
	if level > g.nodes[g.entry].level {
		g.entry = idx
	}
	g.structMu.Unlock()
	return nil
}

// setNeighbors installs idx's neighbor list at layer. Only idx's own
// insert ever calls this for idx, so no per-node lock ordering hazard
// arises with connect below, which mutates other nodes' lists.
func (g *Graph) setNeighbors(idx uint32, layer int, neighbors []uint32) {
	g.structMu.RLock()
	lock := g.locks[idx]
	g.structMu.RUnlock()

	lock.Lock()
	defer lock.Unlock()
	g.structMu.RLock()
	defer g.structMu.RUnlock()
	g.nodes[idx].neighbors[layer] = neighbors
}

// connect adds idx as a neighbor of n at layer, pruning n's neighbor list
// back down to mmax with the diversity heuristic if it overflows.
func (g *Graph) connect(n, idx uint32, layer, mmax int) {
	g.structMu.RLock()
	lock := g.locks[n]
	g.structMu.RUnlock()

	lock.Lock()
	defer lock.Unlock()
	g.structMu.RLock()
	defer g.structMu.RUnlock()

	for len(g.nodes[n].neighbors) <= layer {
		g.nodes[n].neighbors = append(g.nodes[n].neighbors, nil)
	}
	g.nodes[n].neighbors[layer] = append(g.nodes[n].neighbors[layer], idx)

	if len(g.nodes[n].neighbors[layer]) <= mmax {
		return
	}
	localVector := func(i uint32) []float32 {
		off := int(i) * g.cfg.Dim
		return g.vectors[off : off+g.cfg.Dim]
	}
	nv := localVector(n)
	cur := g.nodes[n].neighbors[layer]
	cands := make([]candidate, len(cur))
	for i, m := range cur {
		cands[i] = candidate{idx: m, dist: g.distFn(nv, localVector(m))}
	}
	g.nodes[n].neighbors[layer] = g.selectNeighborsHeuristic(cands, mmax, localVector)
}

