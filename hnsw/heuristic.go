package hnsw

import "sort"

// selectNeighborsHeuristic implements diversity-aware neighbor selection:
// rather than keeping the m closest candidates outright, it only keeps a
// candidate when it is closer to the
// query than to every neighbor already selected, so the resulting edge set
// spans directions instead of clustering on one side of the query. Discarded
// candidates backfill the result if fewer than m pass the diversity check.
//
// vectorOf resolves a node index to its vector data. Callers that already
// hold g.structMu pass a lock-free accessor over the arena directly,
// since vectorAt's own locking would nest and risk a writer-starvation
// deadlock; callers outside any lock can just pass g.vectorAt.
func (g *Graph) selectNeighborsHeuristic(candidates []candidate, m int, vectorOf func(uint32) []float32) []uint32 {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].dist != sorted[j].dist {
			return sorted[i].dist < sorted[j].dist
		}
		return sorted[i].idx < sorted[j].idx
	})

	selected := make([]uint32, 0, m)
	discarded := make([]uint32, 0, len(sorted))

	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		good := true
		for _, r := range selected {
			if g.distFn(vectorOf(c.idx), vectorOf(r)) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c.idx)
		} else {
			discarded = append(discarded, c.idx)
		}
	}

	for _, idx := range discarded {
		if len(selected) >= m {
			break
		}
		selected = append(selected, idx)
	}
	return selected
}
