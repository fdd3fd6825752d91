package hnsw

// Snapshot is a flat, arena-shaped view of a Graph's entire state: every
// field is a plain slice indexed by node index, suitable for GPU upload or
// for writing into the binary snapshot format. A tombstoned node still
// appears at its index with Tombstoned set, so index-based edges stay
// valid.
type Snapshot struct {
	Dim        int
	IDs        []string
	Levels     []int32
	Tombstoned []bool
	Vectors    []float32 // flat, len == len(IDs)*Dim
	Neighbors  [][][]uint32
	HasEntry   bool
	Entry      uint32
}

// Snapshot copies the graph's current state out as flat arrays.
func (g *Graph) Snapshot() Snapshot {
	g.structMu.RLock()
	defer g.structMu.RUnlock()

	n := len(g.nodes)
	s := Snapshot{
		Dim:        g.cfg.Dim,
		IDs:        make([]string, n),
		Levels:     make([]int32, n),
		Tombstoned: make([]bool, n),
		Vectors:    make([]float32, len(g.vectors)),
		Neighbors:  make([][][]uint32, n),
		HasEntry:   g.hasEntry,
		Entry:      g.entry,
	}
	copy(s.Vectors, g.vectors)
	for i := range g.nodes {
		s.IDs[i] = g.nodes[i].id
		s.Levels[i] = int32(g.nodes[i].level)
		s.Tombstoned[i] = g.tomb[i].Load()
		layers := make([][]uint32, len(g.nodes[i].neighbors))
		for l, ns := range g.nodes[i].neighbors {
			cp := make([]uint32, len(ns))
			copy(cp, ns)
			layers[l] = cp
		}
		s.Neighbors[i] = layers
	}
	return s
}
