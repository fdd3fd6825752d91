package payload

import (
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// earthRadiusKM is the mean Earth radius used for haversine distance.
const earthRadiusKM = 6371.0

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// BoundingBox is an axis-aligned lat/lng rectangle.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// gridCell identifies one coarse grid cell by its integer (x, y) indices.
// Kept as a struct rather than packed into a single int64: gx and gy are
// independently signed (a point can be west of the prime meridian but
// north of the equator), and packing signed components into one integer
// via multiply-and-add is not losslessly reversible with plain division.
type gridCell struct {
	x, y int64
}

// geoIndex is a grid-bucketed point index: each point falls into one
// coarse grid cell, and a radius query only visits cells the radius could
// reach instead of every point in the collection.
type geoIndex struct {
	mu       sync.RWMutex
	gridSize float64
	points   map[uint32]Coordinate
	grid     map[gridCell]*roaring.Bitmap
}

func newGeoIndex() *geoIndex {
	return &geoIndex{
		gridSize: 0.1,
		points:   make(map[uint32]Coordinate),
		grid:     make(map[gridCell]*roaring.Bitmap),
	}
}

func (g *geoIndex) gridKey(c Coordinate) gridCell {
	return gridCell{
		x: int64(math.Floor(c.Lng / g.gridSize)),
		y: int64(math.Floor(c.Lat / g.gridSize)),
	}
}

func (g *geoIndex) upsert(id uint32, c Coordinate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.points[id]; ok {
		if bm, ok := g.grid[g.gridKey(old)]; ok {
			bm.Remove(id)
		}
	}
	g.points[id] = c
	key := g.gridKey(c)
	bm, ok := g.grid[key]
	if !ok {
		bm = roaring.New()
		g.grid[key] = bm
	}
	bm.Add(id)
}

func (g *geoIndex) remove(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.points[id]
	if !ok {
		return
	}
	if bm, ok := g.grid[g.gridKey(c)]; ok {
		bm.Remove(id)
	}
	delete(g.points, id)
}

func haversineKM(a, b Coordinate) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}

// radius returns every indexed point within radiusKM of center.
func (g *geoIndex) radius(center Coordinate, radiusKM float64) *roaring.Bitmap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := roaring.New()
	latSpanDeg := radiusKM / 111.0
	maxLat := math.Abs(center.Lat) + latSpanDeg
	if maxLat >= 90 || math.Abs(center.Lng)+latSpanDeg/math.Cos(maxLat*math.Pi/180) >= 180 {
		// The circle reaches a pole or the antimeridian: scan every point.
		for id, c := range g.points {
			if haversineKM(c, center) <= radiusKM {
				out.Add(id)
			}
		}
		return out
	}
	// A degree of longitude shrinks with latitude, so widen the x span.
	spanY := int64(latSpanDeg/g.gridSize) + 1
	spanX := int64(latSpanDeg/math.Cos(maxLat*math.Pi/180)/g.gridSize) + 1
	centerCell := g.gridKey(center)
	for dx := -spanX; dx <= spanX; dx++ {
		for dy := -spanY; dy <= spanY; dy++ {
			key := gridCell{x: centerCell.x + dx, y: centerCell.y + dy}
			bm, ok := g.grid[key]
			if !ok {
				continue
			}
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				if haversineKM(g.points[id], center) <= radiusKM {
					out.Add(id)
				}
			}
		}
	}
	return out
}

// bbox returns every indexed point inside box.
func (g *geoIndex) bbox(box BoundingBox) *roaring.Bitmap {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := roaring.New()
	for id, c := range g.points {
		if c.Lat >= box.MinLat && c.Lat <= box.MaxLat && c.Lng >= box.MinLng && c.Lng <= box.MaxLng {
			out.Add(id)
		}
	}
	return out
}
