// Package spatial selects the mesh locations that a vector rendering of a
// bounding box needs.
package spatial

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// site is a mesh location stored in the tree.
type site struct {
	geom.Point
	idx int
}

// Index is an R-tree over mesh locations. It is read-only after NewIndex and
// safe for concurrent queries.
type Index struct {
	tree    *rtree.Rtree
	n       int
	spacing float64
}

// NewIndex indexes the points (lon[i], lat[i]). Points with a non-finite
// coordinate are never selected.
func NewIndex(lon, lat []float64) (*Index, error) {
	if len(lon) != len(lat) {
		return nil, fmt.Errorf("spatial index: %d longitudes, %d latitudes", len(lon), len(lat))
	}
	ix := &Index{tree: rtree.NewTree(25, 50), n: len(lon), spacing: Spacing(lon, lat)}
	for i := range lon {
		if !finite(lon[i]) || !finite(lat[i]) {
			continue
		}
		ix.tree.Insert(site{Point: geom.Point{X: lon[i], Y: lat[i]}, idx: i})
	}
	return ix, nil
}

// Len returns the number of indexed locations.
func (ix *Index) Len() int { return ix.n }

// Spacing returns the mean point spacing in degrees.
func (ix *Index) Spacing() float64 { return ix.spacing }

// Padding returns how far, in degrees, a box is grown before selection.
func (ix *Index) Padding(scale float64, step int) float64 {
	return ix.spacing * SafetyFactor(scale) * float64(max(step, 1))
}

// Subset returns the ascending indices of all locations inside b grown by
// the padding for scale and step. Bounds are inclusive. A larger scale never
// yields fewer locations.
func (ix *Index) Subset(b domain.BBox, scale float64, step int) []int {
	pad := ix.Padding(scale, step)
	box := b.Expand(pad)
	// search slightly wider so points on the edge are seen regardless of how
	// the tree treats touching bounds; Contains decides
	eps := 1e-9 * max(1, math.Abs(box.MaxLon), math.Abs(box.MaxLat), math.Abs(box.MinLon), math.Abs(box.MinLat))
	search := &geom.Bounds{
		Min: geom.Point{X: box.MinLon - eps, Y: box.MinLat - eps},
		Max: geom.Point{X: box.MaxLon + eps, Y: box.MaxLat + eps},
	}

	ids := roaring.New()
	for _, g := range ix.tree.SearchIntersect(search) {
		s, ok := g.(site)
		if !ok {
			continue
		}
		if box.Contains(s.X, s.Y) {
			ids.Add(uint32(s.idx))
		}
	}

	out := make([]int, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// ComputeSubset indexes the points and selects in one call.
func ComputeSubset(lon, lat []float64, b domain.BBox, scale float64, step int) ([]int, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	ix, err := NewIndex(lon, lat)
	if err != nil {
		return nil, err
	}
	return ix.Subset(b, scale, step), nil
}

// SafetyFactor grows with the vector display scale so that glyphs anchored
// just outside the box but drawn into it are kept.
func SafetyFactor(scale float64) float64 {
	return 1 + 1.5*max(scale, 0)
}

// Spacing estimates the mean distance between neighbouring points as the side
// of the square each point would occupy if the points evenly filled their
// bounding box. It is zero for fewer than two finite points.
func Spacing(lon, lat []float64) float64 {
	var xs, ys []float64
	for i := range lon {
		if finite(lon[i]) && finite(lat[i]) {
			xs = append(xs, lon[i])
			ys = append(ys, lat[i])
		}
	}
	if len(xs) < 2 {
		return 0
	}
	dx := floats.Max(xs) - floats.Min(xs)
	dy := floats.Max(ys) - floats.Min(ys)
	switch {
	case dx == 0 && dy == 0:
		return 0
	case dx == 0:
		return dy / float64(len(ys)-1)
	case dy == 0:
		return dx / float64(len(xs)-1)
	}
	return math.Sqrt(dx * dy / float64(len(xs)))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
