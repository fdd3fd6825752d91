package hnsw

import "github.com/liliang-cn/vectra/errs"

// Delete tombstones id. Its arena slot and edges stay in place: other
// nodes may still route through it during traversal, so reclamation is
// deferred. If id was the entry point, a new one is picked from the
// remaining live nodes.
func (g *Graph) Delete(id string) error {
	if err := g.checkCorrupt(); err != nil {
		return err
	}
	g.structMu.Lock()
	idx, ok := g.ids[id]
	if !ok {
		g.structMu.Unlock()
		return &errs.VectorNotFound{ID: id}
	}
	tomb := g.tomb[idx]
	needsNewEntry := g.hasEntry && g.entry == idx
	g.structMu.Unlock()

	tomb.Store(true)

	if !needsNewEntry {
		return nil
	}

	g.structMu.Lock()
	defer g.structMu.Unlock()
	g.hasEntry = false
	for i := range g.nodes {
		if !g.tomb[i].Load() {
			g.entry = uint32(i)
			g.hasEntry = true
			break
		}
	}
	return nil
}
