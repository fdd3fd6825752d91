package hnsw

import (
	"container/heap"

	"github.com/liliang-cn/vectra/errs"
)

// searchLayer runs a best-first beam search at layer starting from
// entryPoints, keeping at most ef candidates. Tombstoned nodes are still
// traversed (their edges may be the only path to live nodes) but the
// caller is responsible for filtering them out of final results.
func (g *Graph) searchLayer(query []float32, entryPoints []candidate, ef int, layer int) []candidate {
	visited := make(map[uint32]bool, ef*2)
	var frontier minHeap
	var best maxHeap

	for _, ep := range entryPoints {
		visited[ep.idx] = true
		frontier = append(frontier, ep)
		best = append(best, ep)
	}
	heap.Init(&frontier)
	heap.Init(&best)

	for frontier.Len() > 0 {
		c := heap.Pop(&frontier).(candidate)
		if best.Len() >= ef && c.dist > best[0].dist {
			break
		}

		neighbors := g.neighborsAt(c.idx, layer)

		for _, n := range neighbors {
			if int(n) >= g.nodeCount() {
				g.corrupt.Store(true)
				continue
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			d := g.distance(query, n)
			if best.Len() < ef || d < best[0].dist {
				heap.Push(&frontier, candidate{idx: n, dist: d})
				heap.Push(&best, candidate{idx: n, dist: d})
				if best.Len() > ef {
					heap.Pop(&best)
				}
			}
		}
	}

	out := make([]candidate, best.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&best).(candidate)
	}
	return out
}

// greedyDescend walks from the entry point down to (but not including)
// targetLayer, at each layer keeping only the single nearest node found.
func (g *Graph) greedyDescend(query []float32, fromLayer, targetLayer int) candidate {
	cur := candidate{idx: g.entry, dist: g.distance(query, g.entry)}
	for layer := fromLayer; layer > targetLayer; layer-- {
		improved := true
		for improved {
			improved = false
			neighbors := g.neighborsAt(cur.idx, layer)
			for _, n := range neighbors {
				if int(n) >= g.nodeCount() {
					g.corrupt.Store(true)
					continue
				}
				d := g.distance(query, n)
				if d < cur.dist {
					cur = candidate{idx: n, dist: d}
					improved = true
				}
			}
		}
	}
	return cur
}

// SearchResult is one ranked match.
type SearchResult struct {
	ID       string
	Distance float32
}

// Search returns the k nearest live neighbors of query.
func (g *Graph) Search(query []float32, k int, ef int) ([]SearchResult, error) {
	if err := g.checkCorrupt(); err != nil {
		return nil, err
	}
	if len(query) != g.cfg.Dim {
		return nil, &errs.DimensionMismatch{Expected: g.cfg.Dim, Got: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}
	g.structMu.RLock()
	if !g.hasEntry {
		g.structMu.RUnlock()
		return nil, nil
	}
	entry := g.entry
	g.structMu.RUnlock()
	entryLevel := g.nodeLevel(entry)

	if ef < k {
		ef = k
	}
	if ef < g.cfg.EfSearch {
		ef = g.cfg.EfSearch
	}

	nearest := g.greedyDescend(query, entryLevel, 0)
	nearest.dist = g.distance(query, nearest.idx)
	found := g.searchLayer(query, []candidate{nearest}, ef, 0)

	results := make([]SearchResult, 0, k)
	for _, c := range found {
		if g.tombstoned(c.idx) {
			continue
		}
		results = append(results, SearchResult{ID: g.nodeID(c.idx), Distance: c.dist})
		if len(results) == k {
			break
		}
	}
	if err := g.checkCorrupt(); err != nil {
		return nil, err
	}
	return results, nil
}
