package payload

import "github.com/RoaringBitmap/roaring/v2"

// LeafKind identifies which sub-index a Leaf queries
type LeafKind int

const (
	KeywordEq LeafKind = iota
	IntRange
	FloatRange
	TextMatch
	GeoBbox
	GeoRadius
)

// Leaf is one indexed predicate over a single field.
type Leaf struct {
	Kind  LeafKind
	Field string

	KeywordValue string

	IntMin, IntMax       int64
	HasIntMin, HasIntMax bool

	FloatMin, FloatMax       float64
	HasFloatMin, HasFloatMax bool

	TextQuery string

	GeoBox      BoundingBox
	GeoCenter   Coordinate
	GeoRadiusKM float64
}

// Filter is a boolean tree over Leaf predicates: exactly one of And, Or,
// Not, or Leaf is set on each node.
type Filter struct {
	And  []Filter
	Or   []Filter
	Not  *Filter
	Leaf *Leaf
}

// Evaluate resolves filter against the index, ANDing Not branches against
// liveIDs so a negated predicate never resurrects a removed vector.
func (ix *Index) Evaluate(f Filter, liveIDs *roaring.Bitmap) *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.evaluate(f, liveIDs)
}

func (ix *Index) evaluate(f Filter, liveIDs *roaring.Bitmap) *roaring.Bitmap {
	switch {
	case len(f.And) > 0:
		out := ix.evaluate(f.And[0], liveIDs)
		for _, child := range f.And[1:] {
			out = roaring.And(out, ix.evaluate(child, liveIDs))
		}
		return out
	case len(f.Or) > 0:
		out := roaring.New()
		for _, child := range f.Or {
			out.Or(ix.evaluate(child, liveIDs))
		}
		return out
	case f.Not != nil:
		excluded := ix.evaluate(*f.Not, liveIDs)
		return roaring.AndNot(liveIDs, excluded)
	case f.Leaf != nil:
		return roaring.And(ix.evaluateLeaf(*f.Leaf), liveIDs)
	default:
		return roaring.New()
	}
}

func (ix *Index) evaluateLeaf(l Leaf) *roaring.Bitmap {
	switch l.Kind {
	case KeywordEq:
		vals, ok := ix.keyword[l.Field]
		if !ok {
			return roaring.New()
		}
		if bm, ok := vals[l.KeywordValue]; ok {
			return bm.Clone()
		}
		return roaring.New()
	case IntRange:
		out := roaring.New()
		for _, e := range ix.intIdx[l.Field] {
			if l.HasIntMin && e.val < l.IntMin {
				continue
			}
			if l.HasIntMax && e.val > l.IntMax {
				continue
			}
			out.Add(e.id)
		}
		return out
	case FloatRange:
		out := roaring.New()
		for _, e := range ix.floatIx[l.Field] {
			if l.HasFloatMin && e.val < l.FloatMin {
				continue
			}
			if l.HasFloatMax && e.val > l.FloatMax {
				continue
			}
			out.Add(e.id)
		}
		return out
	case TextMatch:
		return ix.matchText(l.Field, l.TextQuery)
	case GeoBbox:
		g, ok := ix.geo[l.Field]
		if !ok {
			return roaring.New()
		}
		return g.bbox(l.GeoBox)
	case GeoRadius:
		g, ok := ix.geo[l.Field]
		if !ok {
			return roaring.New()
		}
		return g.radius(l.GeoCenter, l.GeoRadiusKM)
	default:
		return roaring.New()
	}
}

// Live returns a snapshot of every currently-indexed id.
func (ix *Index) Live() *roaring.Bitmap {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.live.Clone()
}
