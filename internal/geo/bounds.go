// Package geo holds the axis-aligned bounding-box primitives shared by the
// filter, reduction, and mosaic stages.
//
// Boxes are represented with ctessum/geom Bounds rectangles. Both boxes in a
// comparison must be in the same CRS; no reprojection is performed here.
package geo

import (
	"fmt"

	"github.com/ctessum/geom"
)

// NewBounds builds a bounding box from (minx, miny, maxx, maxy).
func NewBounds(minx, miny, maxx, maxy float64) *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: minx, Y: miny},
		Max: geom.Point{X: maxx, Y: maxy},
	}
}

// FromGDAL converts a GDAL-ordered bounds array (minx, miny, maxx, maxy)
// into a bounding box.
func FromGDAL(b [4]float64) *geom.Bounds {
	return NewBounds(b[0], b[1], b[2], b[3])
}

// Intersects reports whether the two boxes share any area. Touching edges
// count as intersecting. Symmetric in its arguments.
func Intersects(a, b *geom.Bounds) bool {
	return a.Overlaps(b)
}

// Region is a caller-supplied area of interest: the total bounding box of a
// vector boundary dataset plus the CRS it was expressed in. Immutable after
// creation and shared read-only by all concurrent tasks.
type Region struct {
	Bounds *geom.Bounds

	// Projection is the WKT of the region's CRS. Empty when the source
	// dataset carried no CRS, in which case CRS checks are skipped.
	Projection string
}

// Validate rejects degenerate regions before any remote work starts.
func (r *Region) Validate() error {
	if r == nil || r.Bounds == nil {
		return fmt.Errorf("region has no bounds")
	}
	b := r.Bounds
	if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y {
		return fmt.Errorf("region bounds are inverted: (%g, %g, %g, %g)",
			b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	}
	return nil
}
